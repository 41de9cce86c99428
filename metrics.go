package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "datachat",
	Name:      "http_requests_total",
	Help:      "API requests by method and status class.",
}, []string{"method", "class"})

func metricsHandler() http.Handler {
	return promhttp.Handler()
}

// countRequests is a tiny instrumentation middleware; detailed pipeline
// metrics live with the pipeline itself.
func countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		class := "2xx"
		switch {
		case rw.status >= 500:
			class = "5xx"
		case rw.status >= 400:
			class = "4xx"
		case rw.status >= 300:
			class = "3xx"
		}
		httpRequests.WithLabelValues(r.Method, class).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
