package utils

import (
	"fmt"
	"time"
)

// FileTimestampLayout entspricht yyyyMMddTHHmmss.
const FileTimestampLayout = "20060102T150405"

// ReportFileName liefert den Dateinamen für den Report eines Zyklus.
func ReportFileName(seq int, started time.Time) string {
	return fmt.Sprintf("generated_report_%d_%s.pdf", seq, started.Format(FileTimestampLayout))
}

// NextTick schiebt next um ganze Intervalle weiter, bis es nach now liegt.
// Verpasste Ticks werden übersprungen, nicht nachgeholt.
func NextTick(next time.Time, interval time.Duration, now time.Time) time.Time {
	if interval <= 0 || now.Before(next) {
		return next
	}
	missed := now.Sub(next)/interval + 1
	return next.Add(missed * interval)
}

// FormatTick formatiert einen Tick für die Konsolenausgabe.
func FormatTick(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}
