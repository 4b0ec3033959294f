package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	queueWaiting  prometheus.Gauge
	queueRunning  prometheus.Gauge
	queueTasks    *prometheus.CounterVec
	queueDuration prometheus.Histogram

	sessionRunTotal    *prometheus.CounterVec
	sessionRunDuration *prometheus.HistogramVec
	sessionTurnsTotal  *prometheus.CounterVec
	summarizations     *prometheus.CounterVec

	llmCallTotal    *prometheus.CounterVec
	llmCallDuration *prometheus.HistogramVec
	llmTokensTotal  *prometheus.CounterVec

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec
	toolErrorsTotal       *prometheus.CounterVec

	cacheSaveDuration prometheus.Histogram
	cacheLoadTotal    *prometheus.CounterVec
	cacheDriftTotal   *prometheus.CounterVec
	syncFilesCopied   prometheus.Counter
	syncBytesCopied   prometheus.Counter
	syncRemoved       prometheus.Counter
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			queueWaiting: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "stirrup_queue_waiting",
				Help: "Sessions waiting for an admission slot.",
			}),
			queueRunning: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "stirrup_queue_running",
				Help: "Sessions currently holding an admission slot.",
			}),
			queueTasks: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "stirrup_queue_tasks_total",
					Help: "Completed queued tasks by status.",
				},
				[]string{"status"},
			),
			queueDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "stirrup_queue_task_duration_seconds",
				Help:    "Queued task run time in seconds.",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
			}),
			sessionRunTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "stirrup_session_runs_total",
					Help: "Session runs by agent and terminal status.",
				},
				[]string{"agent", "status"},
			),
			sessionRunDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "stirrup_session_run_duration_seconds",
					Help:    "Session run duration in seconds by agent.",
					Buckets: prometheus.ExponentialBuckets(1, 2, 12),
				},
				[]string{"agent"},
			),
			sessionTurnsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "stirrup_session_turns_total",
					Help: "Completed turns by agent.",
				},
				[]string{"agent"},
			),
			summarizations: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "stirrup_summarizations_total",
					Help: "Context summarizations by agent and trigger.",
				},
				[]string{"agent", "trigger"},
			),
			llmCallTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "stirrup_llm_calls_total",
					Help: "Model calls by model and status.",
				},
				[]string{"model", "status"},
			),
			llmCallDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "stirrup_llm_call_duration_seconds",
					Help:    "Model call duration in seconds by model.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"model"},
			),
			llmTokensTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "stirrup_llm_tokens_total",
					Help: "Tokens consumed by model and type (input, answer, reasoning).",
				},
				[]string{"model", "type"},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "stirrup_tool_execution_total",
					Help: "Total tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "stirrup_tool_execution_duration_seconds",
					Help:    "Tool execution duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			toolErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "stirrup_tool_errors_total",
					Help: "Total tool execution errors by tool.",
				},
				[]string{"tool"},
			),
			cacheSaveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "stirrup_cache_save_duration_seconds",
				Help:    "Checkpoint save duration in seconds.",
				Buckets: prometheus.DefBuckets,
			}),
			cacheLoadTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "stirrup_cache_loads_total",
					Help: "Checkpoint loads by result (hit, miss, corrupt).",
				},
				[]string{"result"},
			),
			cacheDriftTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "stirrup_cache_drift_warnings_total",
					Help: "Manifest drift warnings by kind (model, tools).",
				},
				[]string{"kind"},
			),
			syncFilesCopied: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "stirrup_sync_files_copied_total",
				Help: "Files copied by incremental sync.",
			}),
			syncBytesCopied: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "stirrup_sync_bytes_copied_total",
				Help: "Bytes copied by incremental sync.",
			}),
			syncRemoved: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "stirrup_sync_entries_removed_total",
				Help: "Destination entries removed by incremental sync.",
			}),
		}

		prometheus.MustRegister(
			m.queueWaiting,
			m.queueRunning,
			m.queueTasks,
			m.queueDuration,
			m.sessionRunTotal,
			m.sessionRunDuration,
			m.sessionTurnsTotal,
			m.summarizations,
			m.llmCallTotal,
			m.llmCallDuration,
			m.llmTokensTotal,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.toolErrorsTotal,
			m.cacheSaveDuration,
			m.cacheLoadTotal,
			m.cacheDriftTotal,
			m.syncFilesCopied,
			m.syncBytesCopied,
			m.syncRemoved,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func SetQueueDepth(waiting, running int) {
	m := getMetrics()
	m.queueWaiting.Set(float64(waiting))
	m.queueRunning.Set(float64(running))
}

func RecordQueueCompletion(duration time.Duration, status string) {
	m := getMetrics()
	m.queueTasks.WithLabelValues(status).Inc()
	m.queueDuration.Observe(duration.Seconds())
}

func RecordSessionRun(agent, status string, duration time.Duration) {
	m := getMetrics()
	m.sessionRunTotal.WithLabelValues(agent, status).Inc()
	m.sessionRunDuration.WithLabelValues(agent).Observe(duration.Seconds())
}

func RecordTurn(agent string) {
	getMetrics().sessionTurnsTotal.WithLabelValues(agent).Inc()
}

func RecordSummarization(agent, trigger string) {
	getMetrics().summarizations.WithLabelValues(agent, trigger).Inc()
}

func RecordLLMCall(model string, duration time.Duration, success bool, input, answer, reasoning int) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.llmCallTotal.WithLabelValues(model, status).Inc()
	m.llmCallDuration.WithLabelValues(model).Observe(duration.Seconds())
	if success {
		m.llmTokensTotal.WithLabelValues(model, "input").Add(float64(input))
		m.llmTokensTotal.WithLabelValues(model, "answer").Add(float64(answer))
		m.llmTokensTotal.WithLabelValues(model, "reasoning").Add(float64(reasoning))
	}
}

func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.toolExecutionTotal.WithLabelValues(tool, status).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
	if !success {
		m.toolErrorsTotal.WithLabelValues(tool).Inc()
	}
}

func RecordCacheSave(duration time.Duration) {
	getMetrics().cacheSaveDuration.Observe(duration.Seconds())
}

func RecordCacheLoad(result string) {
	getMetrics().cacheLoadTotal.WithLabelValues(result).Inc()
}

func RecordCacheDrift(kind string) {
	getMetrics().cacheDriftTotal.WithLabelValues(kind).Inc()
}

func RecordSync(filesCopied int, bytesCopied int64, removed int) {
	m := getMetrics()
	m.syncFilesCopied.Add(float64(filesCopied))
	m.syncBytesCopied.Add(float64(bytesCopied))
	m.syncRemoved.Add(float64(removed))
}
