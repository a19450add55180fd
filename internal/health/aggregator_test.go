package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockChecker struct {
	name   string
	status Status
}

func (m *mockChecker) Name() string { return m.name }

func (m *mockChecker) Check(ctx context.Context) CheckResult {
	return CheckResult{Status: m.status, Message: "mock", Latency: time.Millisecond}
}

// slowChecker 阻塞到上下文结束
type slowChecker struct{}

func (slowChecker) Name() string { return "slow" }

func (slowChecker) Check(ctx context.Context) CheckResult {
	<-ctx.Done()
	return CheckResult{Status: StatusUnhealthy, Message: ctx.Err().Error()}
}

type fakeLink struct {
	up   atomic.Bool
	node uint32
}

func (f *fakeLink) IsConnected() bool { return f.up.Load() }
func (f *fakeLink) MyNodeNum() uint32 { return f.node }

func TestAggregator(t *testing.T) {
	t.Run("全部健康", func(t *testing.T) {
		agg := NewAggregator(&mockChecker{"link", StatusHealthy}, &mockChecker{"redis", StatusHealthy})
		assert.Equal(t, StatusHealthy, agg.OverallStatus(context.Background()))
		assert.True(t, agg.Ready(context.Background()))
	})

	t.Run("降级仍就绪", func(t *testing.T) {
		agg := NewAggregator(&mockChecker{"link", StatusDegraded}, &mockChecker{"redis", StatusHealthy})
		assert.Equal(t, StatusDegraded, agg.OverallStatus(context.Background()))
		assert.True(t, agg.Ready(context.Background()))
	})

	t.Run("不健康优先于降级", func(t *testing.T) {
		agg := NewAggregator(&mockChecker{"link", StatusDegraded}, &mockChecker{"redis", StatusUnhealthy})
		assert.Equal(t, StatusUnhealthy, agg.OverallStatus(context.Background()))
		assert.False(t, agg.Ready(context.Background()))
	})

	t.Run("动态添加检查器", func(t *testing.T) {
		agg := NewAggregator(&mockChecker{"initial", StatusHealthy})
		agg.AddChecker(&mockChecker{"added", StatusHealthy})
		assert.Len(t, agg.CheckAll(context.Background()), 2)
	})

	t.Run("单项超时", func(t *testing.T) {
		agg := NewAggregator(slowChecker{}, &mockChecker{"link", StatusHealthy})
		agg.timeout = 20 * time.Millisecond
		results := agg.CheckAll(context.Background())
		assert.Equal(t, StatusUnhealthy, results["slow"].Status)
		assert.Equal(t, StatusHealthy, results["link"].Status)
	})
}

func TestLinkChecker(t *testing.T) {
	link := &fakeLink{node: 0x1234}
	var reconnecting atomic.Bool
	c := NewLinkChecker(link, reconnecting.Load)

	assert.Equal(t, StatusUnhealthy, c.Check(context.Background()).Status)

	reconnecting.Store(true)
	r := c.Check(context.Background())
	assert.Equal(t, StatusDegraded, r.Status)
	assert.Equal(t, "reconnecting", r.Message)

	link.up.Store(true)
	r = c.Check(context.Background())
	assert.Equal(t, StatusHealthy, r.Status)
	assert.Equal(t, uint32(0x1234), r.Details["my_node_num"])
}

func TestHTTPRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	link := &fakeLink{}
	r := gin.New()
	RegisterHTTPRoutes(r, NewAggregator(NewLinkChecker(link, nil)))

	get := func(path string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		return rr
	}

	assert.Equal(t, http.StatusOK, get("/health/live").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get("/health/ready").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get("/health").Code)

	link.up.Store(true)
	assert.Equal(t, http.StatusOK, get("/health/ready").Code)
	rr := get("/health")
	require.Equal(t, http.StatusOK, rr.Code)
	var report Report
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &report))
	assert.Equal(t, StatusHealthy, report.Status)
	assert.Contains(t, report.Checks, "link")
}
