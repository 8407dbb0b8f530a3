package handler

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/http"
	"sync"

	"sigs.k8s.io/yaml"

	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/api/middleware"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/api/response"
)

// OpenAPIHandler serves the OpenAPI document as JSON with a content-derived
// ETag, answering 304 to a matching If-None-Match.
type OpenAPIHandler struct {
	source []byte

	convert sync.Once
	body    []byte
	etag    string
	err     error
}

// NewOpenAPIHandler creates a handler that converts yamlDoc to JSON on first request.
func NewOpenAPIHandler(yamlDoc []byte) *OpenAPIHandler {
	return &OpenAPIHandler{source: yamlDoc}
}

func (h *OpenAPIHandler) load() {
	h.body, h.err = yaml.YAMLToJSON(h.source)
	if h.err != nil {
		return
	}
	sum := sha256.Sum256(h.body)
	h.etag = `"` + hex.EncodeToString(sum[:16]) + `"`
}

func (h *OpenAPIHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.convert.Do(h.load)

	if h.err != nil {
		requestID := middleware.GetRequestID(r.Context())
		slog.Error("failed to convert OpenAPI document to JSON", "error", h.err, "requestId", requestID)
		response.Err(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to convert OpenAPI document", requestID)
		return
	}

	w.Header().Set("ETag", h.etag)
	w.Header().Set("Cache-Control", "no-cache")
	if r.Header.Get("If-None-Match") == h.etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(h.body); err != nil {
		slog.Error("failed to write OpenAPI response", "error", err)
	}
}
