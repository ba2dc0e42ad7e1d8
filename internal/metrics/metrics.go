package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds the bot's collectors on a private registry.
type Metrics struct {
	Registry     *prometheus.Registry
	Interactions *prometheus.CounterVec
	Stages       *prometheus.CounterVec
	ComposeTime  prometheus.Histogram
	Inflight     prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Interactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chaosring_interactions_total",
			Help: "Finished /ring interactions by tier and outcome.",
		}, []string{"tier", "outcome"}),
		Stages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chaosring_stage_transitions_total",
			Help: "Interaction lifecycle transitions by target stage.",
		}, []string{"stage"}),
		ComposeTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chaosring_compose_seconds",
			Help:    "Time spent compositing one avatar, including the wait for a worker.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		}),
		Inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chaosring_compose_inflight",
			Help: "Compositions currently running or waiting for a worker.",
		}),
	}
	m.Registry.MustRegister(
		m.Interactions,
		m.Stages,
		m.ComposeTime,
		m.Inflight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Router serves /metrics and /healthz.
func (m *Metrics) Router() http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

// Serve runs the metrics listener until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, log *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           m.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("metrics listening", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
