package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Collectors holds the simulator's Prometheus instruments on a private
// registry.
type Collectors struct {
	Registry *prometheus.Registry

	// TickDuration is the wall time of one tick, by backend.
	TickDuration *prometheus.HistogramVec
	// UploadDuration is the wall time of one host-to-device upload.
	UploadDuration prometheus.Histogram
	// Bodies is the number of simulated bodies.
	Bodies prometheus.Gauge
	// Frames counts completed frames, by backend.
	Frames *prometheus.CounterVec
}

func NewCollectors() *Collectors {
	reg := prometheus.NewRegistry()
	c := &Collectors{
		Registry: reg,
		TickDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nbodysim_tick_duration_seconds",
				Help:    "Wall time of one simulation tick in seconds",
				Buckets: prometheus.ExponentialBuckets(1e-5, 4, 10),
			},
			[]string{"backend"},
		),
		UploadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "nbodysim_upload_duration_seconds",
			Help:    "Wall time of one body upload in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		Bodies: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nbodysim_bodies",
			Help: "Number of simulated bodies",
		}),
		Frames: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nbodysim_frames_total",
				Help: "Completed frames by backend",
			},
			[]string{"backend"},
		),
	}
	reg.MustRegister(
		c.TickDuration,
		c.UploadDuration,
		c.Bodies,
		c.Frames,
		collectors.NewGoCollector(),
	)
	return c
}

// ObserveTick records one tick for backend.
func (c *Collectors) ObserveTick(backend string, elapsed time.Duration) {
	c.TickDuration.WithLabelValues(backend).Observe(elapsed.Seconds())
	c.Frames.WithLabelValues(backend).Inc()
}

func (c *Collectors) ObserveUpload(elapsed time.Duration) {
	c.UploadDuration.Observe(elapsed.Seconds())
}

func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.Registry, promhttp.HandlerOpts{Registry: c.Registry})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (c *Collectors) Serve(ctx context.Context, addr string, log *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("serving metrics", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
