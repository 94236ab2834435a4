package config

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/cast"
)

const (
	DefaultInterval  = 60 * time.Second
	DefaultOutputDir = "."
)

// Umgebungsvariablen als Fallback für nicht gesetzte Flags.
const (
	EnvURL         = "QCS_URL"
	EnvAPIKey      = "QCS_API_KEY"
	EnvAppID       = "QCS_APP_ID"
	EnvObjectID    = "QCS_OBJ_ID"
	EnvInterval    = "QCS_INTERVAL"
	EnvOutputDir   = "QCS_OUTPUT_DIR"
	EnvMetricsAddr = "QCS_METRICS_ADDR"
	EnvVerbose     = "QCS_VERBOSE"
)

// Größter Sekundenwert, der noch in eine time.Duration passt.
const maxSeconds = math.MaxInt64 / int64(time.Second)

var (
	ErrMissingField    = errors.New("missing required argument")
	ErrInvalidURL      = errors.New("url must be absolute")
	ErrInvalidInterval = errors.New("interval must be a positive number of seconds")
)

// Config wird einmal beim Start gebaut und danach nicht mehr verändert.
// Der flag-Tag trägt den Namen des CLI-Flags, damit Validierungsfehler ihn nennen.
type Config struct {
	URL         string        `flag:"url" validate:"required,url"`
	APIKey      string        `flag:"apiKey" validate:"required"`
	AppID       string        `flag:"appId" validate:"required"`
	ObjectID    string        `flag:"objId" validate:"required"`
	Interval    time.Duration `flag:"t" validate:"gt=0"`
	OutputDir   string        `flag:"out"`
	MetricsAddr string        `flag:"metrics"`
	Verbose     bool          `flag:"v"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return fld.Tag.Get("flag")
	})
	return v
}

// FromEnv liefert eine Config mit Defaults und Werten aus der Umgebung.
// Eine .env im Arbeitsverzeichnis wird vorher geladen, außer
// GODOTENV_DISABLE=1 ist gesetzt.
func FromEnv() (*Config, error) {
	if os.Getenv("GODOTENV_DISABLE") != "1" {
		// .env laden (ignoriere Fehler wenn Datei nicht existiert)
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("loading .env: %w", err)
		}
	}

	cfg := &Config{
		URL:         os.Getenv(EnvURL),
		APIKey:      os.Getenv(EnvAPIKey),
		AppID:       os.Getenv(EnvAppID),
		ObjectID:    os.Getenv(EnvObjectID),
		Interval:    DefaultInterval,
		OutputDir:   getEnv(EnvOutputDir, DefaultOutputDir),
		MetricsAddr: os.Getenv(EnvMetricsAddr),
	}

	if raw := os.Getenv(EnvInterval); raw != "" {
		seconds, err := ParseSeconds(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", EnvInterval, err)
		}
		cfg.Interval = seconds
	}

	if raw := os.Getenv(EnvVerbose); raw != "" {
		verbose, err := cast.ToBoolE(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", EnvVerbose, err)
		}
		cfg.Verbose = verbose
	}

	return cfg, nil
}

// ParseSeconds liest eine dezimale Ganzzahl von Sekunden, z.B. "60".
// Führende Nullen bleiben dezimal, "010" sind also 10 Sekunden.
func ParseSeconds(raw string) (time.Duration, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if int64(n) > maxSeconds || int64(n) < -maxSeconds {
		return 0, fmt.Errorf("%w: %s", ErrInvalidInterval, raw)
	}
	return time.Duration(n) * time.Second, nil
}

// Validate prüft die Pflichtfelder und die Invarianten von URL und Intervall.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
			return err
		}
		fe := fieldErrs[0]
		switch fe.Tag() {
		case "required":
			return fmt.Errorf("%w -%s", ErrMissingField, fe.Field())
		case "url":
			return fmt.Errorf("%w: %s", ErrInvalidURL, c.URL)
		case "gt":
			return fmt.Errorf("%w: %s", ErrInvalidInterval, c.Interval)
		default:
			return fmt.Errorf("invalid argument -%s: %w", fe.Field(), err)
		}
	}

	if u, err := url.Parse(c.URL); err != nil || !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("%w: %s", ErrInvalidURL, c.URL)
	}
	if c.Interval%time.Second != 0 {
		return fmt.Errorf("%w: %s", ErrInvalidInterval, c.Interval)
	}
	return nil
}

// BaseURL liefert die Tenant-URL ohne abschließenden Slash.
func (c *Config) BaseURL() string {
	return strings.TrimSuffix(c.URL, "/")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
