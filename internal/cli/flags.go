package cli

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"slices"

	"hufschlaeger.net/qcs-pdf-exporter/internal/config"
)

const ProgramName = "export-pdf"

var (
	ErrHelp            = errors.New("help requested")
	ErrMissingValue    = errors.New("missing argument to flag")
	ErrInvalidURL      = errors.New("unable to parse url")
	ErrInvalidInterval = errors.New("unable to parse interval as integer")
)

// Flags, die genau einen Wert erwarten.
var valueFlags = map[string]bool{
	"-url":     true,
	"-apiKey":  true,
	"-appId":   true,
	"-objId":   true,
	"-t":       true,
	"-out":     true,
	"-metrics": true,
}

// ParseArgs liest die Kommandozeile in eine Config. Nicht gesetzte Werte
// kommen aus der Umgebung (siehe config.FromEnv). Unbekannte Tokens werden
// einzeln übersprungen.
//
// Eine leere Argumentliste oder -h an beliebiger Stelle liefert ErrHelp,
// bevor irgendetwas anderes geprüft wird. Alle anderen Fehler sind
// Bedienfehler.
func ParseArgs(args []string) (*config.Config, error) {
	if len(args) == 0 || slices.Contains(args, "-h") {
		return nil, ErrHelp
	}

	cfg, err := config.FromEnv()
	if err != nil {
		return nil, err
	}

	for i := 0; i < len(args); {
		flag := args[i]

		if flag == "-v" {
			cfg.Verbose = true
			i++
			continue
		}
		if !valueFlags[flag] {
			i++
			continue
		}
		if i+1 == len(args) {
			return nil, fmt.Errorf("%w %q", ErrMissingValue, flag)
		}

		value := args[i+1]
		switch flag {
		case "-url":
			u, err := url.Parse(value)
			if err != nil || !u.IsAbs() || u.Host == "" {
				return nil, fmt.Errorf("%w: %s", ErrInvalidURL, value)
			}
			cfg.URL = value
		case "-apiKey":
			cfg.APIKey = value
		case "-appId":
			cfg.AppID = value
		case "-objId":
			cfg.ObjectID = value
		case "-t":
			interval, err := config.ParseSeconds(value)
			if errors.Is(err, config.ErrInvalidInterval) {
				return nil, err
			}
			if err != nil {
				return nil, fmt.Errorf("%w: %s", ErrInvalidInterval, value)
			}
			cfg.Interval = interval
		case "-out":
			cfg.OutputDir = value
		case "-metrics":
			cfg.MetricsAddr = value
		}
		i += 2
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// PrintUsage schreibt den Hilfetext nach w.
func PrintUsage(w io.Writer) {
	fmt.Fprintf(w, `Usage:   %[1]s -url <url> -apiKey <apiKey> -appId <appId> -objId <objId> [-t <seconds>] [-out <dir>] [-metrics <addr>] [-v] [-h]
         %[1]s [-h]
Example: %[1]s -url https://mytenant.eu.qlikcloud.com -appId e90a34b7-810a-4012-b394-20fd9ce5cd4f -objId PqJmX -apiKey eyJhb... -t 60
         %[1]s -h
Arguments:
  url     : Url to the Qlik Cloud tenant.
  apiKey  : Api key generated for the Qlik Cloud tenant.
  appId   : The identifier of the app to connect to.
  objId   : The identifier of the object for which to export a pdf.
  t       : Time interval in seconds between renderings. (Default: 60)
  out     : Directory the pdf files are written to. (Default: .)
  metrics : Address to serve Prometheus metrics on, e.g. :9100. (Default: off)
  v       : Verbose logging.
  h       : Print this message.

Environment Variables:
  %s  %s  %s  %s
  %s  %s  %s  %s
  Used for arguments not given on the command line; a .env file is loaded if present.
`, ProgramName,
		config.EnvURL, config.EnvAPIKey, config.EnvAppID, config.EnvObjectID,
		config.EnvInterval, config.EnvOutputDir, config.EnvMetricsAddr, config.EnvVerbose)
}
