package handler_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/api/handler"
)

func TestOpenAPIHandler_ServesJSON(t *testing.T) {
	// Arrange
	doc := []byte("openapi: 3.0.3\ninfo:\n  title: Directory Auth\n  version: 1.0.0\npaths: {}\n")
	h := handler.NewOpenAPIHandler(doc)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/openapi.json", nil)
		w := httptest.NewRecorder()

		// Act
		h.ServeHTTP(w, req)

		// Assert
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var got map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Equal(t, "3.0.3", got["openapi"])
		assert.Equal(t, "Directory Auth", got["info"].(map[string]interface{})["title"])
	}
}

func TestOpenAPIHandler_ConditionalRequest(t *testing.T) {
	// Arrange
	h := handler.NewOpenAPIHandler([]byte("openapi: 3.0.3\npaths: {}\n"))
	first := httptest.NewRecorder()
	h.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/openapi.json", nil))
	etag := first.Header().Get("ETag")
	require.NotEmpty(t, etag)

	req := httptest.NewRequest(http.MethodGet, "/openapi.json", nil)
	req.Header.Set("If-None-Match", etag)
	w := httptest.NewRecorder()

	// Act
	h.ServeHTTP(w, req)

	// Assert
	assert.Equal(t, http.StatusNotModified, w.Code)
	assert.Empty(t, w.Body.Bytes())
	assert.Equal(t, etag, w.Header().Get("ETag"))

	stale := httptest.NewRequest(http.MethodGet, "/openapi.json", nil)
	stale.Header.Set("If-None-Match", `"outdated"`)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, stale)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Body.Bytes())
}

func TestOpenAPIHandler_InvalidYAML(t *testing.T) {
	h := handler.NewOpenAPIHandler([]byte("paths: [unclosed"))
	req := httptest.NewRequest(http.MethodGet, "/openapi.json", nil)
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "INTERNAL_ERROR", errorCode(t, w))
}
