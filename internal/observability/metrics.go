package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matrixci_runs_total",
			Help: "Finished runs by outcome",
		}, []string{"status"},
	)
	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matrixci_jobs_total",
			Help: "Finished job instances by status",
		}, []string{"status"},
	)
	StepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matrixci_steps_total",
			Help: "Steps by status (passed, failed, skipped)",
		}, []string{"status"},
	)
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matrixci_notifications_total",
			Help: "Notifications fired by status label",
		}, []string{"status"},
	)
	JobDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "matrixci_job_duration_seconds",
		Help:    "Job instance wall time",
		Buckets: prometheus.ExponentialBuckets(0.1, 4, 8),
	})

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matrixci_http_requests_total",
			Help: "Total API requests",
		}, []string{"code"},
	)
	Latency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "matrixci_http_request_duration_seconds",
		Help:    "Request latency seconds",
		Buckets: prometheus.DefBuckets,
	})
	InFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "matrixci_http_in_flight",
		Help: "In-flight HTTP requests",
	})
)

func init() {
	prometheus.MustRegister(RunsTotal, JobsTotal, StepsTotal, NotificationsTotal, JobDuration,
		RequestsTotal, Latency, InFlight)
}

func ObserveRun(status string)          { RunsTotal.WithLabelValues(status).Inc() }
func ObserveStep(status string)         { StepsTotal.WithLabelValues(status).Inc() }
func ObserveNotification(status string) { NotificationsTotal.WithLabelValues(status).Inc() }

func ObserveJob(status string, d time.Duration) {
	JobsTotal.WithLabelValues(status).Inc()
	JobDuration.Observe(d.Seconds())
}

func MetricsHandler() http.Handler { return promhttp.Handler() }

type rec struct {
	http.ResponseWriter
	code int
}

func (r *rec) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func Measure(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		InFlight.Inc()
		defer InFlight.Dec()

		rr := &rec{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rr, r)

		Latency.Observe(time.Since(start).Seconds())
		RequestsTotal.WithLabelValues(strconv.Itoa(rr.code)).Inc()
	})
}
