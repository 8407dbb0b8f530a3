package handler

import (
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/api/middleware"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/api/response"
)

// NewUpstreamProxy forwards requests to target. It runs after the gate, so
// the Cookie header it forwards already carries any refreshed credentials.
func NewUpstreamProxy(target *url.URL) http.Handler {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			pr.Out.Host = pr.In.Host
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			requestID := middleware.GetRequestID(r.Context())
			slog.Error("upstream request failed", "error", err, "path", r.URL.Path, "requestId", requestID)
			response.Err(w, http.StatusBadGateway, "UPSTREAM_ERROR", "Upstream unavailable", requestID)
		},
	}
}
