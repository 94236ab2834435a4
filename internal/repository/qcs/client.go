package qcs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"hufschlaeger.net/qcs-pdf-exporter/internal/config"
	"hufschlaeger.net/qcs-pdf-exporter/internal/domain/report"
)

const (
	reportsPath    = "/api/v1/reports"
	maxErrorBody   = 64 * 1024
	requestTimeout = 30 * time.Second
)

var (
	ErrNonSuccessResponse = errors.New("tenant responded with a non-success status code")
	ErrMissingLocation    = errors.New("tenant response carries no Location header")
)

// StatusError beschreibt eine Antwort außerhalb von 2xx.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s failed %d", e.Op, e.Code)
	}
	return fmt.Sprintf("%s failed %d: %s", e.Op, e.Code, e.Body)
}

func (e *StatusError) Unwrap() error {
	return ErrNonSuccessResponse
}

type Repository struct {
	config     *config.Config
	httpClient *http.Client
	baseURL    string
	logger     *zap.Logger
}

func NewRepository(cfg *config.Config, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	httpClient := &http.Client{
		Timeout: requestTimeout,
		Transport: &authTransport{
			token: cfg.APIKey,
			base:  http.DefaultTransport,
		},
	}

	return &Repository{
		config:     cfg,
		httpClient: httpClient,
		baseURL:    cfg.BaseURL(),
		logger:     logger,
	}
}

// CreateReport reicht den Render-Job ein und liefert den Pfad der
// Status-Ressource aus dem Location-Header.
func (r *Repository) CreateReport(ctx context.Context, appID, objectID string) (string, error) {
	jsonData, err := json.Marshal(report.NewRequest(appID, objectID))
	if err != nil {
		return "", err
	}

	req, err := r.newRequest(ctx, http.MethodPost, reportsPath, bytes.NewReader(jsonData))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("create report: %w", err)
	}
	defer r.closeBody(resp)

	if !isSuccess(resp.StatusCode) {
		return "", newStatusError("create report", resp)
	}

	location := resp.Header.Get("Location")
	if location == "" {
		return "", ErrMissingLocation
	}

	statusPath, err := report.PathOf(location)
	if err != nil {
		return "", fmt.Errorf("create report: %w", err)
	}

	r.logger.Debug("report job submitted",
		zap.String("appId", appID),
		zap.String("objId", objectID),
		zap.String("statusPath", statusPath))

	return statusPath, nil
}

// GetReportStatus holt das Status-Dokument des Jobs unter statusPath.
func (r *Repository) GetReportStatus(ctx context.Context, statusPath string) (*report.JobStatus, error) {
	req, err := r.newRequest(ctx, http.MethodGet, statusPath, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get report status: %w", err)
	}
	defer r.closeBody(resp)

	if !isSuccess(resp.StatusCode) {
		return nil, newStatusError("get report status", resp)
	}

	var status report.JobStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decode report status: %w", err)
	}
	return &status, nil
}

// Download holt das fertige Artefakt als rohe Bytes.
func (r *Repository) Download(ctx context.Context, artifactPath string) ([]byte, error) {
	req, err := r.newRequest(ctx, http.MethodGet, artifactPath, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/pdf")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download report: %w", err)
	}
	defer r.closeBody(resp)

	if !isSuccess(resp.StatusCode) {
		return nil, newStatusError("download report", resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read report body: %w", err)
	}
	return data, nil
}

func (r *Repository) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	return http.NewRequestWithContext(ctx, method, r.baseURL+path, body)
}

func (r *Repository) closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		r.logger.Warn("closing response body", zap.Error(err))
	}
}

func isSuccess(code int) bool {
	return code >= 200 && code < 300
}

func newStatusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{Op: op, Code: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
}
