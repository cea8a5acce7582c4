package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	loginAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecgtrainer_login_attempts_total",
			Help: "Total number of login attempts",
		},
		[]string{"status"},
	)

	loginDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ecgtrainer_login_duration_seconds",
			Help:    "Time spent processing successful logins",
			Buckets: prometheus.DefBuckets,
		},
	)

	registrations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecgtrainer_registrations_total",
			Help: "Total number of registration attempts",
		},
		[]string{"status"},
	)

	authFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecgtrainer_auth_failures_total",
			Help: "Rejected requests to protected routes by reason",
		},
		[]string{"reason"},
	)

	trainingAnswers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecgtrainer_training_answers_total",
			Help: "Recorded practice answers",
		},
		[]string{"result"},
	)

	examsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecgtrainer_exams_started_total",
			Help: "Started exams by type",
		},
		[]string{"type"},
	)

	examsCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ecgtrainer_exams_completed_total",
			Help: "Completed exams",
		},
	)

	examScores = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ecgtrainer_exam_score",
			Help:    "Final exam scores",
			Buckets: prometheus.LinearBuckets(10, 10, 10),
		},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ecgtrainer_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status_code"},
	)
)

// instrument records request durations labelled by route pattern.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		requestDuration.WithLabelValues(r.Method, route, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
	})
}
