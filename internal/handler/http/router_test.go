package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/utafrali/allocation/pkg/health"
	"github.com/utafrali/allocation/pkg/middleware"
)

func TestRouter_OperationalEndpoints(t *testing.T) {
	router := setupRouter(new(mockAllocationService))

	tests := []struct {
		path       string
		wantStatus int
	}{
		{"/health/live", http.StatusOK},
		{"/health/ready", http.StatusOK},
		{"/metrics", http.StatusOK},
		{"/swagger/doc.json", http.StatusOK},
		{"/swagger/", http.StatusOK},
		{"/debug/pprof/", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := doRequest(t, router, http.MethodGet, tt.path, nil)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestRouter_SwaggerDocIsCacheable(t *testing.T) {
	rec := doRequest(t, setupRouter(new(mockAllocationService)), http.MethodGet, "/swagger/doc.json", nil)

	assert.Equal(t, "public, max-age=300", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestRouter_SetsCorrelationHeader(t *testing.T) {
	rec := doRequest(t, setupRouter(new(mockAllocationService)), http.MethodGet, "/health/live", nil)

	assert.NotEmpty(t, rec.Header().Get(middleware.CorrelationIDHeader))
}

func TestRouter_CORS(t *testing.T) {
	svc := new(mockAllocationService)
	withCORS := NewRouter(svc, health.NewHandler(), newTestLogger(), RouterConfig{
		ServiceName: "allocation-test",
		CORSOrigins: []string{"https://ops.example.com"},
	})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/allocations", nil)
	req.Header.Set("Origin", "https://ops.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	withCORS.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://ops.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = httptest.NewRecorder()
	setupRouter(svc).ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_PprofAllowlist(t *testing.T) {
	router := NewRouter(new(mockAllocationService), health.NewHandler(), newTestLogger(), RouterConfig{
		ServiceName: "allocation-test",
		PprofCIDRs:  []string{"127.0.0.0/8"},
	})

	local := httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil)
	local.RemoteAddr = "127.0.0.1:51000"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, local)
	assert.Equal(t, http.StatusOK, rec.Code)

	remote := httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil)
	remote.RemoteAddr = "203.0.113.9:51000"
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, remote)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
