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

// Namen
const (
	ReportCounter       = "qcs_export_reports_total"
	PollCounter         = "qcs_export_polls_total"
	BytesWrittenCounter = "qcs_export_bytes_written_total"
	CycleDuration       = "qcs_export_cycle_duration_seconds"
)

// Labels
const (
	OutcomeLabel = "outcome"
)

// Label-Werte
const (
	SuccessOutcome = "success"
	FailureOutcome = "failure"
)

type Measures struct {
	Reports      *prometheus.CounterVec
	Polls        prometheus.Counter
	BytesWritten prometheus.Counter
	Cycles       prometheus.Histogram
}

// NewMeasures registriert alle Metriken auf reg.
func NewMeasures(reg prometheus.Registerer) (*Measures, error) {
	m := &Measures{
		Reports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: ReportCounter,
			Help: "Counter for export cycles and their success/failure outcomes.",
		}, []string{OutcomeLabel}),
		Polls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: PollCounter,
			Help: "Counter for report status requests.",
		}),
		BytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: BytesWrittenCounter,
			Help: "Counter for report bytes written to disk.",
		}),
		Cycles: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    CycleDuration,
			Help:    "Duration of a full request, poll and download cycle.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
	}

	for _, c := range []prometheus.Collector{m.Reports, m.Polls, m.BytesWritten, m.Cycles} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// NewNopMeasures liefert Metriken, die nirgends registriert sind.
func NewNopMeasures() *Measures {
	m, _ := NewMeasures(prometheus.NewRegistry())
	return m
}

// NewRegistry liefert eine Registry mit Go- und Prozess-Collectoren.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Serve stellt /metrics auf addr bereit, bis ctx beendet ist.
func Serve(ctx context.Context, addr string, reg *prometheus.Registry, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving metrics", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
