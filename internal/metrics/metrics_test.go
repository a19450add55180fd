package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, reg *prometheus.Registry) string {
	t.Helper()
	rr := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestComponentObserver(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewLinkMetrics(reg)

	admin := m.Observer("admin")
	admin.Record("admin_get", "ok")
	admin.Record("admin_get", "ok")
	admin.Record("admin_get", "timeout")
	m.Observer("reconnect").Record("reconnect", "exhausted")

	body := scrape(t, reg)
	assert.Contains(t, body, `meshlink_operations_total{component="admin",operation="admin_get",status="ok"} 2`)
	assert.Contains(t, body, `meshlink_operations_total{component="admin",operation="admin_get",status="timeout"} 1`)
	assert.Contains(t, body, `meshlink_operations_total{component="reconnect",operation="reconnect",status="exhausted"} 1`)
}

func TestSetLinkUp(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewLinkMetrics(reg)
	m.SetLinkUp(true)
	assert.Contains(t, scrape(t, reg), "meshlink_link_up 1")

	m.SetLinkUp(false)
	body := scrape(t, reg)
	assert.Contains(t, body, "meshlink_link_up 0")
	assert.Contains(t, body, `meshlink_link_changes_total{state="up"} 1`)
	assert.Contains(t, body, `meshlink_link_changes_total{state="down"} 1`)
}

func TestHandlerExposesRuntimeAndDrain(t *testing.T) {
	reg := NewRegistry()
	m := NewLinkMetrics(reg)
	m.ObserveDrain(3)

	body := scrape(t, reg)
	assert.Contains(t, body, "meshlink_ble_drain_reads_count 1")
	assert.Contains(t, body, "meshlink_ble_drain_reads_sum 3")
	assert.Contains(t, body, "go_goroutines")
}
