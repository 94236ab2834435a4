package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"hufschlaeger.net/qcs-pdf-exporter/internal/config"
	"hufschlaeger.net/qcs-pdf-exporter/internal/domain/report"
	"hufschlaeger.net/qcs-pdf-exporter/internal/metrics"
	qcsRepo "hufschlaeger.net/qcs-pdf-exporter/internal/repository/qcs"
	"hufschlaeger.net/qcs-pdf-exporter/pkg/utils"
)

// PollInterval ist die Pause zwischen zwei Status-Abfragen eines Jobs.
const PollInterval = time.Second

var ErrReportFailed = errors.New("report job failed")

// ReportRepository ist der Teil der Tenant-API, den der Exporter braucht.
type ReportRepository interface {
	CreateReport(ctx context.Context, appID, objectID string) (string, error)
	GetReportStatus(ctx context.Context, statusPath string) (*report.JobStatus, error)
	Download(ctx context.Context, artifactPath string) ([]byte, error)
}

type Exporter struct {
	config       *config.Config
	repo         ReportRepository
	logger       *zap.Logger
	measures     *metrics.Measures
	out          io.Writer
	now          func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error
	pollInterval time.Duration
}

func NewExporter(cfg *config.Config, logger *zap.Logger, measures *metrics.Measures) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if measures == nil {
		measures = metrics.NewNopMeasures()
	}
	return &Exporter{
		config:       cfg,
		repo:         qcsRepo.NewRepository(cfg, logger),
		logger:       logger,
		measures:     measures,
		out:          os.Stdout,
		now:          time.Now,
		sleep:        sleepContext,
		pollInterval: PollInterval,
	}
}

// Run startet die Export-Schleife. Sie endet nur mit einem Fehler oder
// wenn ctx abgebrochen wird; dann wird ctx.Err() zurückgegeben.
func (e *Exporter) Run(ctx context.Context) error {
	interval := e.config.Interval
	var next time.Time

	for seq := 0; ; seq++ {
		if next.IsZero() {
			next = e.now().Add(interval)
		} else {
			now := e.now()
			if now.Before(next) {
				now = next
			}
			next = utils.NextTick(next, interval, now)
		}

		if err := e.RunCycle(ctx, seq, next); err != nil {
			return err
		}

		// Zyklus hat überzogen: verpasste Ticks überspringen.
		if now := e.now(); !now.Before(next) {
			skipped := next
			next = utils.NextTick(next, interval, now)
			e.logger.Warn("cycle overran its tick",
				zap.Int("seq", seq),
				zap.Time("missed", skipped),
				zap.Time("next", next))
		}

		if err := e.sleep(ctx, next.Sub(e.now())); err != nil {
			return err
		}
	}
}

// RunCycle führt einen Durchlauf aus: Job anlegen, auf Fertigstellung
// warten, Artefakt laden und in eine neue Datei schreiben.
func (e *Exporter) RunCycle(ctx context.Context, seq int, next time.Time) (err error) {
	started := e.now()
	defer func() {
		// Abbruch per Signal ist kein Ergebnis des Zyklus.
		if errors.Is(err, context.Canceled) {
			return
		}
		outcome := metrics.SuccessOutcome
		if err != nil {
			outcome = metrics.FailureOutcome
		}
		e.measures.Reports.WithLabelValues(outcome).Inc()
		e.measures.Cycles.Observe(e.now().Sub(started).Seconds())
	}()

	fmt.Fprintf(e.out, "%d\t%s - Generating pdf... ", seq, utils.FormatTick(next))

	statusPath, err := e.repo.CreateReport(ctx, e.config.AppID, e.config.ObjectID)
	if err != nil {
		return fmt.Errorf("cycle %d: %w", seq, err)
	}

	artifactPath, err := e.awaitCompletion(ctx, statusPath)
	if err != nil {
		return fmt.Errorf("cycle %d: %w", seq, err)
	}

	fmt.Fprint(e.out, "Downloading file... ")
	data, err := e.repo.Download(ctx, artifactPath)
	if err != nil {
		return fmt.Errorf("cycle %d: %w", seq, err)
	}
	fmt.Fprint(e.out, "Done! ")

	name := utils.ReportFileName(seq, started)
	n, err := e.writeReport(name, data)
	if err != nil {
		return fmt.Errorf("cycle %d: %w", seq, err)
	}
	fmt.Fprintf(e.out, "Wrote %d to file: %s\n", n, name)

	e.logger.Info("report written",
		zap.Int("seq", seq),
		zap.String("file", name),
		zap.Int("bytes", n),
		zap.Duration("took", e.now().Sub(started)))

	return nil
}

// awaitCompletion fragt den Job-Status ab, bis er fertig oder
// fehlgeschlagen ist, und liefert den Pfad des Artefakts.
func (e *Exporter) awaitCompletion(ctx context.Context, statusPath string) (string, error) {
	for {
		raw, err := e.repo.GetReportStatus(ctx, statusPath)
		if err != nil {
			return "", err
		}
		e.measures.Polls.Inc()

		status, err := raw.Interpret()
		if err != nil {
			return "", err
		}

		switch status.Phase {
		case report.Done:
			return report.PathOf(status.Location)
		case report.Failed:
			return "", fmt.Errorf("%w: %s", ErrReportFailed, status.Reason)
		}

		e.logger.Debug("report pending",
			zap.String("statusPath", statusPath),
			zap.String("status", raw.Status))

		if err := e.sleep(ctx, e.pollInterval); err != nil {
			return "", err
		}
	}
}

// writeReport schreibt data unverändert in eine neue Datei im
// Ausgabeverzeichnis. Existiert die Datei schon, schlägt das fehl.
func (e *Exporter) writeReport(name string, data []byte) (int, error) {
	dir := e.config.OutputDir
	if dir == "" {
		dir = config.DefaultOutputDir
	}
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, fmt.Errorf("failed to create output dir: %w", err)
		}
	}

	f, err := os.OpenFile(filepath.Join(dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return 0, fmt.Errorf("failed to create output file: %w", err)
	}

	n, err := f.Write(data)
	if err != nil {
		_ = f.Close()
		return n, fmt.Errorf("failed to write pdf: %w", err)
	}
	if err := f.Close(); err != nil {
		return n, fmt.Errorf("failed to close output file: %w", err)
	}

	e.measures.BytesWritten.Add(float64(n))
	return n, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
