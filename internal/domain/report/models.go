package report

import (
	"errors"
	"fmt"
	"net/url"
)

// Feste Werte des Render-Jobs.
const (
	TemplateType = "sense-image-1.0"
	OutputID     = "Chart_pdf"
	OutputType   = "pdf"
	WidthPx      = 613
	HeightPx     = 409
)

// Status-Werte des Tenants.
const (
	StatusDone    = "done"
	StatusFailed  = "failed"
	StatusError   = "error"
	StatusAborted = "aborted"
)

var (
	ErrNoResults       = errors.New("report job is done but lists no results")
	ErrInvalidLocation = errors.New("invalid location")
)

type Request struct {
	Type               string        `json:"type"`
	Output             Output        `json:"output"`
	SenseImageTemplate ImageTemplate `json:"senseImageTemplate"`
}

type Output struct {
	OutputID  string    `json:"outputId"`
	Type      string    `json:"type"`
	PDFOutput PDFOutput `json:"pdfOutput"`
}

// PDFOutput wird als leeres Objekt gesendet.
type PDFOutput struct{}

type ImageTemplate struct {
	AppID         string        `json:"appId"`
	Visualization Visualization `json:"visualization"`
}

type Visualization struct {
	ID       string `json:"id"`
	WidthPx  int    `json:"widthPx"`
	HeightPx int    `json:"heightPx"`
}

// NewRequest baut das Job-Dokument für ein Chart als PDF.
func NewRequest(appID, objectID string) Request {
	return Request{
		Type: TemplateType,
		Output: Output{
			OutputID: OutputID,
			Type:     OutputType,
		},
		SenseImageTemplate: ImageTemplate{
			AppID: appID,
			Visualization: Visualization{
				ID:       objectID,
				WidthPx:  WidthPx,
				HeightPx: HeightPx,
			},
		},
	}
}

// JobStatus ist das Dokument hinter der Status-Location des Jobs.
type JobStatus struct {
	Status  string   `json:"status"`
	Reason  string   `json:"reason,omitempty"`
	Results []Result `json:"results,omitempty"`
}

type Result struct {
	Location string `json:"location"`
}

// Phase eines Report-Jobs aus Sicht des Pollers.
type Phase int

const (
	Pending Phase = iota
	Done
	Failed
)

func (p Phase) String() string {
	switch p {
	case Pending:
		return "pending"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Status ist der interpretierte JobStatus. Location ist bei Done gesetzt,
// Reason bei Failed.
type Status struct {
	Phase    Phase
	Location string
	Reason   string
}

// Interpret bildet das rohe Status-Dokument auf Pending, Done oder Failed ab.
// Unbekannte Status-Werte gelten als Pending.
func (s JobStatus) Interpret() (Status, error) {
	switch s.Status {
	case StatusDone:
		if len(s.Results) == 0 {
			return Status{}, ErrNoResults
		}
		return Status{Phase: Done, Location: s.Results[0].Location}, nil
	case StatusFailed, StatusError, StatusAborted:
		reason := s.Reason
		if reason == "" {
			reason = s.Status
		}
		return Status{Phase: Failed, Reason: reason}, nil
	default:
		return Status{Phase: Pending}, nil
	}
}

// PathOf liefert den Pfadanteil einer absoluten oder relativen Location.
func PathOf(location string) (string, error) {
	if location == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidLocation)
	}
	u, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidLocation, location)
	}
	if u.Path == "" {
		return "", fmt.Errorf("%w: %s has no path", ErrInvalidLocation, location)
	}
	return u.EscapedPath(), nil
}
