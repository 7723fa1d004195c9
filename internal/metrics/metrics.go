// Package metrics 暴露审计流水线与HTTP接口的Prometheus指标
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "riskoracle"

var (
	// Registry 本服务的指标注册表
	Registry = prometheus.NewRegistry()

	auditRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "runs_total",
			Help:      "Total number of audit runs by terminal path and risk class.",
		},
		[]string{"path", "risk_class"},
	)

	auditDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "run_duration_seconds",
			Help:      "Duration of audit runs.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms 到约25s
		},
		[]string{"path"},
	)

	lastRun = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the last completed audit run per contract.",
		},
		[]string{"contract"},
	)

	sinkErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "errors_total",
			Help:      "Total number of failed writes to result sinks.",
		},
		[]string{"sink"},
	)

	handledErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "errors",
			Name:      "handled_total",
			Help:      "Total number of errors passed to the error handler by type and severity.",
		},
		[]string{"type", "severity"},
	)

	simulationAgreement = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "simulation",
			Name:      "agreement_ratio",
			Help:      "Share of simulated nodes that produced the majority digest in the last simulation.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"method", "route"},
	)
)

func init() {
	Registry.MustRegister(
		auditRuns,
		auditDuration,
		lastRun,
		sinkErrors,
		handledErrors,
		simulationAgreement,
		httpRequests,
		httpDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler 指标抓取端点
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordAudit 记录一次审计运行
func RecordAudit(path, riskClass, contract string, duration time.Duration) {
	if riskClass == "" {
		riskClass = "none"
	}
	auditRuns.WithLabelValues(path, riskClass).Inc()
	auditDuration.WithLabelValues(path).Observe(duration.Seconds())
	lastRun.WithLabelValues(contract).SetToCurrentTime()
}

// RecordSinkError 记录结果输出失败
func RecordSinkError(sink string) {
	sinkErrors.WithLabelValues(sink).Inc()
}

// RecordError 记录一次经错误处理器的错误
func RecordError(errorType, severity string) {
	handledErrors.WithLabelValues(errorType, severity).Inc()
}

// RecordSimulation 记录模拟中多数摘要的占比
func RecordSimulation(agreement, nodes int) {
	if nodes <= 0 {
		return
	}
	simulationAgreement.Set(float64(agreement) / float64(nodes))
}

// GinMiddleware HTTP请求指标，使用路由模板避免标签爆炸
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		httpRequests.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}
