package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New baut den Prozess-Logger. Logs gehen nach stderr, stdout bleibt
// der Fortschrittsausgabe vorbehalten.
func New(verbose bool) (*zap.Logger, error) {
	level := zap.InfoLevel
	if verbose {
		level = zap.DebugLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.DisableStacktrace = !verbose

	return cfg.Build(zap.Fields(zap.String("app", "qcs-pdf-exporter")))
}
