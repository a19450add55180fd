package httpserver

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	cfgpkg "github.com/rvenes/MeshVenes-sub000/internal/config"
	appmetrics "github.com/rvenes/MeshVenes-sub000/internal/metrics"
)

func get(s *Server, path string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func TestHealthzReadyzMetrics(t *testing.T) {
	cfg := cfgpkg.HTTPConfig{Addr: ":0", ReadTimeout: time.Second, WriteTimeout: time.Second}
	reg := appmetrics.NewRegistry()
	appmetrics.NewLinkMetrics(reg).SetLinkUp(true)

	var linkUp atomic.Bool
	srv := New(cfg, "/metrics", appmetrics.Handler(reg), linkUp.Load)

	assert.Equal(t, http.StatusOK, get(srv, "/healthz").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(srv, "/readyz").Code)

	linkUp.Store(true)
	assert.Equal(t, http.StatusOK, get(srv, "/readyz").Code)

	rr := get(srv, "/metrics")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "meshlink_link_up 1")
}

func TestRegisterAddsRoutes(t *testing.T) {
	srv := New(cfgpkg.HTTPConfig{Addr: ":0"}, "", nil, nil)
	srv.Register(func(r *gin.Engine) {
		r.GET("/api/status", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"connected": false}) })
	})

	assert.Equal(t, http.StatusOK, get(srv, "/readyz").Code)
	assert.Equal(t, http.StatusOK, get(srv, "/api/status").Code)
	assert.Equal(t, http.StatusNotFound, get(srv, "/metrics").Code)
}
