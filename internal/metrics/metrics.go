package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry 创建自定义 Prometheus Registry，并注册常用采集器
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler 返回 Prometheus 指标 HTTP 处理器
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// LinkMetrics 设备链路指标
type LinkMetrics struct {
	Operations     *prometheus.CounterVec // labels: component, operation, status
	LinkUp         prometheus.Gauge
	LinkChanges    *prometheus.CounterVec // labels: state=up|down
	BLEDrainReads  prometheus.Histogram
	ReconnectState prometheus.Gauge
}

// NewLinkMetrics 注册并返回链路指标
func NewLinkMetrics(reg prometheus.Registerer) *LinkMetrics {
	m := &LinkMetrics{
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meshlink_operations_total",
			Help: "Link, admin and reconnect operations by component and outcome.",
		}, []string{"component", "operation", "status"}),
		LinkUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "meshlink_link_up",
			Help: "1 when a device link is connected.",
		}),
		LinkChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meshlink_link_changes_total",
			Help: "Device link state transitions.",
		}, []string{"state"}),
		BLEDrainReads: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "meshlink_ble_drain_reads",
			Help:    "Packets read per BLE mailbox drain.",
			Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64},
		}),
		ReconnectState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "meshlink_reconnect_state",
			Help: "Reconnect orchestrator state (0 idle .. 5 exhausted).",
		}),
	}
	reg.MustRegister(m.Operations, m.LinkUp, m.LinkChanges, m.BLEDrainReads, m.ReconnectState)
	return m
}

// SetLinkUp 同时更新在线量表与切换计数
func (m *LinkMetrics) SetLinkUp(up bool) {
	if up {
		m.LinkUp.Set(1)
		m.LinkChanges.WithLabelValues("up").Inc()
		return
	}
	m.LinkUp.Set(0)
	m.LinkChanges.WithLabelValues("down").Inc()
}

// ObserveDrain 记录一次 BLE 读空的读取次数
func (m *LinkMetrics) ObserveDrain(reads int) { m.BLEDrainReads.Observe(float64(reads)) }

// ComponentObserver 把组件的 Record(operation, status) 落到 Operations 计数
type ComponentObserver struct {
	vec       *prometheus.CounterVec
	component string
}

func (o ComponentObserver) Record(operation, status string) {
	o.vec.WithLabelValues(o.component, operation, status).Inc()
}

// Observer 返回指定组件的观察者
func (m *LinkMetrics) Observer(component string) ComponentObserver {
	return ComponentObserver{vec: m.Operations, component: component}
}
