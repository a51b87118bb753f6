// Package logging owns the process-wide zerolog logger and the request scoped
// loggers derived from it.
package logging

import (
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/0xReLogic/recettes/internal/config"
)

var base atomic.Pointer[zerolog.Logger]

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.DurationFieldUnit = time.Millisecond
	base.Store(New(os.Stderr, config.LoggingConfig{}))
}

// Init replaces the global logger. Output goes to stderr so the CLI keeps
// stdout for JSON.
func Init(cfg config.LoggingConfig) {
	InitWriter(os.Stderr, cfg)
}

// InitWriter is Init with an explicit destination
func InitWriter(w io.Writer, cfg config.LoggingConfig) {
	base.Store(New(w, cfg))
}

// New builds a logger writing to w. The "json" format writes one JSON object
// per line; anything else is the plain console format.
func New(w io.Writer, cfg config.LoggingConfig) *zerolog.Logger {
	out := w
	if !strings.EqualFold(strings.TrimSpace(cfg.Format), "json") {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: true}
	}

	zc := zerolog.New(out).Level(ParseLevel(cfg.Level)).With().Timestamp()
	if cfg.IncludeCaller {
		zc = zc.Caller()
	}
	l := zc.Logger()
	return &l
}

// L returns the global logger
func L() *zerolog.Logger {
	return base.Load()
}

// ParseLevel accepts zerolog level names plus "warning" and "off".
// Empty or unknown names mean info.
func ParseLevel(value string) zerolog.Level {
	name := strings.ToLower(strings.TrimSpace(value))
	switch name {
	case "":
		return zerolog.InfoLevel
	case "warning":
		return zerolog.WarnLevel
	case "off":
		return zerolog.Disabled
	}
	lvl, err := zerolog.ParseLevel(name)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}
