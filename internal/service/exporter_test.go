package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hufschlaeger.net/qcs-pdf-exporter/internal/config"
	"hufschlaeger.net/qcs-pdf-exporter/internal/domain/report"
	"hufschlaeger.net/qcs-pdf-exporter/internal/metrics"
	"hufschlaeger.net/qcs-pdf-exporter/internal/repository/qcs"
	"hufschlaeger.net/qcs-pdf-exporter/pkg/utils"
)

const (
	testStatusPath   = "/api/v1/reports/r-1/status"
	testArtifactPath = "/api/v1/temp-contents/abc"
)

var testPDF = []byte("%PDF-1.7\n\x00\xff binary payload\n%%EOF")

// fakeRepo spielt eine feste Folge von Status-Dokumenten ab.
type fakeRepo struct {
	statuses    []string
	statusCalls int
	createCalls int
	downloads   int
	createErr   error
	onDownload  func()
	results     []report.Result
}

func (f *fakeRepo) CreateReport(_ context.Context, appID, objectID string) (string, error) {
	f.createCalls++
	if f.createErr != nil {
		return "", f.createErr
	}
	return testStatusPath, nil
}

func (f *fakeRepo) GetReportStatus(_ context.Context, statusPath string) (*report.JobStatus, error) {
	idx := f.statusCalls
	f.statusCalls++
	if idx >= len(f.statuses) {
		idx = len(f.statuses) - 1
	}

	st := &report.JobStatus{Status: f.statuses[idx]}
	if st.Status == report.StatusDone {
		st.Results = f.results
		if st.Results == nil {
			st.Results = []report.Result{{Location: "https://tenant.example.com" + testArtifactPath}}
		}
	}
	return st, nil
}

func (f *fakeRepo) Download(_ context.Context, artifactPath string) ([]byte, error) {
	f.downloads++
	if artifactPath != testArtifactPath {
		return nil, errors.New("unexpected artifact path " + artifactPath)
	}
	if f.onDownload != nil {
		f.onDownload()
	}
	return testPDF, nil
}

// fakeClock ersetzt time.Now und das Schlafen; Schlafen rückt die Uhr vor.
type fakeClock struct {
	now     time.Time
	sleeps  []time.Duration
	onSleep func(n int) bool
	cancel  context.CancelFunc
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.sleeps = append(c.sleeps, d)
	if d > 0 {
		c.now = c.now.Add(d)
	}
	if c.onSleep != nil && c.onSleep(len(c.sleeps)) {
		c.cancel()
		return ctx.Err()
	}
	return nil
}

func newTestExporter(t *testing.T, repo ReportRepository, clock *fakeClock) (*Exporter, *bytes.Buffer) {
	t.Helper()

	cfg := &config.Config{
		URL:       "https://tenant.example.com",
		APIKey:    "key",
		AppID:     "app-1",
		ObjectID:  "obj-1",
		Interval:  time.Second,
		OutputDir: t.TempDir(),
	}

	out := &bytes.Buffer{}
	e := NewExporter(cfg, nil, metrics.NewNopMeasures())
	e.repo = repo
	e.out = out
	e.now = clock.Now
	e.sleep = clock.Sleep
	return e, out
}

func startTime() time.Time {
	return time.Date(2024, 5, 17, 8, 30, 0, 0, time.Local)
}

func TestNewExporter(t *testing.T) {
	cfg := &config.Config{URL: "https://tenant.example.com", Interval: time.Minute}

	exporter := NewExporter(cfg, nil, nil)

	require.NotNil(t, exporter)
	assert.Same(t, cfg, exporter.config)
	assert.NotNil(t, exporter.repo)
	assert.NotNil(t, exporter.logger)
	assert.NotNil(t, exporter.measures)
	assert.Equal(t, PollInterval, exporter.pollInterval)
}

func TestRunCycle_DoneImmediately(t *testing.T) {
	clock := &fakeClock{now: startTime()}
	repo := &fakeRepo{statuses: []string{report.StatusDone}}
	e, out := newTestExporter(t, repo, clock)

	next := clock.now.Add(time.Second)
	require.NoError(t, e.RunCycle(context.Background(), 0, next))

	name := "generated_report_0_20240517T083000.pdf"
	want := fmt.Sprintf("0\t%s - Generating pdf... Downloading file... Done! Wrote %d to file: %s\n",
		utils.FormatTick(next), len(testPDF), name)
	assert.Equal(t, want, out.String())

	data, err := os.ReadFile(filepath.Join(e.config.OutputDir, name))
	require.NoError(t, err)
	assert.Equal(t, testPDF, data)

	assert.Equal(t, 1, repo.createCalls)
	assert.Equal(t, 1, repo.statusCalls)
	assert.Equal(t, 1, repo.downloads)
	assert.Empty(t, clock.sleeps)
	assert.Equal(t, float64(len(testPDF)), testutil.ToFloat64(e.measures.BytesWritten))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.measures.Reports.WithLabelValues(metrics.SuccessOutcome)))
}

func TestAwaitCompletion_OneRequestPerTick(t *testing.T) {
	clock := &fakeClock{now: startTime()}
	repo := &fakeRepo{statuses: []string{"queued", "queued", "running", report.StatusDone}}
	e, _ := newTestExporter(t, repo, clock)

	path, err := e.awaitCompletion(context.Background(), testStatusPath)
	require.NoError(t, err)

	assert.Equal(t, testArtifactPath, path)
	assert.Equal(t, 4, repo.statusCalls)
	assert.Equal(t, []time.Duration{time.Second, time.Second, time.Second}, clock.sleeps)
	assert.Equal(t, 4.0, testutil.ToFloat64(e.measures.Polls))
}

func TestAwaitCompletion_UsesFirstResult(t *testing.T) {
	clock := &fakeClock{now: startTime()}
	repo := &fakeRepo{
		statuses: []string{report.StatusDone},
		results: []report.Result{
			{Location: "https://tenant.example.com/api/v1/temp-contents/first"},
			{Location: "https://tenant.example.com/api/v1/temp-contents/second"},
		},
	}
	e, _ := newTestExporter(t, repo, clock)

	path, err := e.awaitCompletion(context.Background(), testStatusPath)
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/temp-contents/first", path)
}

func TestAwaitCompletion_FailedJob(t *testing.T) {
	clock := &fakeClock{now: startTime()}
	repo := &fakeRepo{statuses: []string{"queued", report.StatusFailed}}
	e, out := newTestExporter(t, repo, clock)

	err := e.RunCycle(context.Background(), 0, clock.now.Add(time.Second))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrReportFailed), "got %v", err)
	assert.Equal(t, 0, repo.downloads)
	assert.NotContains(t, out.String(), "Downloading file")
	assert.Equal(t, 1.0, testutil.ToFloat64(e.measures.Reports.WithLabelValues(metrics.FailureOutcome)))
}

func TestAwaitCompletion_DoneWithoutResults(t *testing.T) {
	clock := &fakeClock{now: startTime()}
	repo := &fakeRepo{statuses: []string{report.StatusDone}, results: []report.Result{}}
	e, _ := newTestExporter(t, repo, clock)

	_, err := e.awaitCompletion(context.Background(), testStatusPath)
	assert.ErrorIs(t, err, report.ErrNoResults)
}

func TestAwaitCompletion_StopsOnCancel(t *testing.T) {
	clock := &fakeClock{now: startTime()}
	repo := &fakeRepo{statuses: []string{"queued"}}
	e, _ := newTestExporter(t, repo, clock)

	ctx, cancel := context.WithCancel(context.Background())
	clock.cancel = cancel
	clock.onSleep = func(n int) bool { return n == 5 }

	_, err := e.awaitCompletion(ctx, testStatusPath)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 5, repo.statusCalls)
}

func TestRunCycle_CancelIsNotCountedAsFailure(t *testing.T) {
	clock := &fakeClock{now: startTime()}
	repo := &fakeRepo{statuses: []string{"queued"}}
	e, _ := newTestExporter(t, repo, clock)

	ctx, cancel := context.WithCancel(context.Background())
	clock.cancel = cancel
	clock.onSleep = func(n int) bool { return n == 2 }

	err := e.RunCycle(ctx, 0, clock.now.Add(time.Second))
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, 0, testutil.CollectAndCount(e.measures.Reports))
	assert.Equal(t, 0.0, testutil.ToFloat64(e.measures.Reports.WithLabelValues(metrics.FailureOutcome)))
}

func TestRunCycle_CreateError(t *testing.T) {
	clock := &fakeClock{now: startTime()}
	repo := &fakeRepo{createErr: &qcs.StatusError{Op: "create report", Code: 403}}
	e, _ := newTestExporter(t, repo, clock)

	err := e.RunCycle(context.Background(), 3, clock.now)
	require.Error(t, err)
	assert.ErrorIs(t, err, qcs.ErrNonSuccessResponse)
	assert.Contains(t, err.Error(), "cycle 3")
	assert.Equal(t, 0, repo.statusCalls)
}

func TestWriteReport_NeverOverwrites(t *testing.T) {
	clock := &fakeClock{now: startTime()}
	e, _ := newTestExporter(t, &fakeRepo{}, clock)

	name := utils.ReportFileName(0, clock.now)
	target := filepath.Join(e.config.OutputDir, name)
	require.NoError(t, os.WriteFile(target, []byte("existing"), 0o644))

	_, err := e.writeReport(name, testPDF)
	require.Error(t, err)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "existing", string(data))
}

func TestWriteReport_CreatesOutputDir(t *testing.T) {
	clock := &fakeClock{now: startTime()}
	e, _ := newTestExporter(t, &fakeRepo{}, clock)
	e.config.OutputDir = filepath.Join(e.config.OutputDir, "nested", "reports")

	n, err := e.writeReport("x.pdf", testPDF)
	require.NoError(t, err)
	assert.Equal(t, len(testPDF), n)
	assert.FileExists(t, filepath.Join(e.config.OutputDir, "x.pdf"))
}

func TestRun_RepeatsWithIncreasingSequence(t *testing.T) {
	start := startTime()
	clock := &fakeClock{now: start}
	repo := &fakeRepo{statuses: []string{report.StatusDone}}
	e, out := newTestExporter(t, repo, clock)

	ctx, cancel := context.WithCancel(context.Background())
	clock.cancel = cancel
	clock.onSleep = func(n int) bool { return n == 2 }

	err := e.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, []time.Duration{time.Second, time.Second}, clock.sleeps)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "0\t"+utils.FormatTick(start.Add(time.Second))+" - Generating pdf... "))
	assert.True(t, strings.HasPrefix(lines[1], "1\t"+utils.FormatTick(start.Add(2*time.Second))+" - Generating pdf... "))

	assert.FileExists(t, filepath.Join(e.config.OutputDir, utils.ReportFileName(0, start)))
	assert.FileExists(t, filepath.Join(e.config.OutputDir, utils.ReportFileName(1, start.Add(time.Second))))
}

func TestRun_SkipsMissedTicks(t *testing.T) {
	start := startTime()
	clock := &fakeClock{now: start}
	repo := &fakeRepo{statuses: []string{report.StatusDone}}
	repo.onDownload = func() { clock.now = clock.now.Add(2500 * time.Millisecond) }
	e, out := newTestExporter(t, repo, clock)

	ctx, cancel := context.WithCancel(context.Background())
	clock.cancel = cancel
	clock.onSleep = func(n int) bool { return n == 2 }

	err := e.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	// Nach dem Überziehen wird bis zum nächsten Raster-Tick gewartet,
	// nicht sofort neu gestartet.
	assert.Equal(t, []time.Duration{500 * time.Millisecond, 500 * time.Millisecond}, clock.sleeps)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[1], "1\t"+utils.FormatTick(start.Add(4*time.Second))+" - "))
	assert.FileExists(t, filepath.Join(e.config.OutputDir, utils.ReportFileName(1, start.Add(3*time.Second))))
}

func TestRun_StopsOnFatalError(t *testing.T) {
	clock := &fakeClock{now: startTime()}
	repo := &fakeRepo{statuses: []string{report.StatusError}}
	e, _ := newTestExporter(t, repo, clock)

	err := e.Run(context.Background())
	assert.ErrorIs(t, err, ErrReportFailed)
	assert.Equal(t, 1, repo.createCalls)
}

func TestSleepContext(t *testing.T) {
	assert.NoError(t, sleepContext(context.Background(), -time.Second))
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
	assert.ErrorIs(t, sleepContext(ctx, 0), context.Canceled)
}
