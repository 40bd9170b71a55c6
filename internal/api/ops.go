package api

import (
	"net/http"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Ops serves liveness, readiness and Prometheus metrics for a binary.
type Ops struct {
	gatherer prometheus.Gatherer
	ready    atomic.Bool
}

// NewOps creates an ops server that reports NOT_READY until SetReady(true).
func NewOps(gatherer prometheus.Gatherer) *Ops {
	return &Ops{gatherer: gatherer}
}

// SetReady flips the readiness state.
func (o *Ops) SetReady(ready bool) {
	o.ready.Store(ready)
}

// Router returns the ops handler.
func (o *Ops) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "UP"})
	})
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if !o.ready.Load() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "NOT_READY"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "READY"})
	})
	if o.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(o.gatherer, promhttp.HandlerOpts{}))
	}

	return r
}
