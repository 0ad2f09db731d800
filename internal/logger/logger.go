package logger

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	mu   sync.RWMutex
	base = zerolog.New(os.Stdout).With().Timestamp().Logger()
)

func Init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	SetOutput(os.Stdout)
	Info("logger initialized", nil)
}

// SetOutput redirects all log lines to w. Tests use it to capture output.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	base = base.Output(w)
}

// SetLevel applies a textual level such as "debug" or "warn".
func SetLevel(level string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()
	base = base.Level(lvl)
	return nil
}

// Zerolog returns the underlying logger for libraries that accept one.
func Zerolog() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

func Debug(msg string, fields map[string]any) {
	l := Zerolog()
	l.Debug().Fields(fields).Msg(msg)
}

func Info(msg string, fields map[string]any) {
	l := Zerolog()
	l.Info().Fields(fields).Msg(msg)
}

func Warn(msg string, fields map[string]any) {
	l := Zerolog()
	l.Warn().Fields(fields).Msg(msg)
}

func Error(msg string, fields map[string]any) {
	l := Zerolog()
	l.Error().Fields(fields).Msg(msg)
}

func Fatal(msg string, fields map[string]any) {
	l := Zerolog()
	l.WithLevel(zerolog.FatalLevel).Fields(fields).Msg(msg)
	os.Exit(1)
}
