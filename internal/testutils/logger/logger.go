package logger

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"testing"

	"github.com/alphabill-org/wsv/logger"
)

/*
New returns logger for test t on debug level (unless WSV_TEST_LOG_LEVEL
environment variable sets a different level).
*/
func New(t testing.TB) *slog.Logger {
	return NewLvl(t, envLevel(slog.LevelDebug))
}

// NewLvl returns logger for test t on given level.
func NewLvl(t testing.TB, level slog.Level) *slog.Logger {
	log, err := newLogger(t, &logger.LogConfiguration{Level: level.String()})
	if err != nil {
		t.Fatalf("creating test logger: %v", err)
	}
	return log
}

// NOP returns logger which discards everything.
func NOP() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

/*
LoggerBuilder returns logger factory for test t, the configuration is
ignored except for the level.
*/
func LoggerBuilder(t testing.TB) func(*logger.LogConfiguration) (*slog.Logger, error) {
	return func(cfg *logger.LogConfiguration) (*slog.Logger, error) {
		c := &logger.LogConfiguration{Level: envLevel(slog.LevelDebug).String()}
		if cfg != nil && cfg.Level != "" {
			c.Level = cfg.Level
		}
		return newLogger(t, c)
	}
}

func newLogger(t testing.TB, cfg *logger.LogConfiguration) (*slog.Logger, error) {
	cfg.Format = logger.FormatConsole
	cfg.TimeFormat = "15:04:05.0000"
	cfg.NoColor = noColors()
	cfg.Writer = testWriter{t}
	return logger.New(cfg)
}

type testWriter struct {
	t testing.TB
}

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}

func envLevel(def slog.Level) slog.Level {
	if lvl, err := logger.ParseLevel(os.Getenv("WSV_TEST_LOG_LEVEL")); err == nil && os.Getenv("WSV_TEST_LOG_LEVEL") != "" {
		return lvl
	}
	return def
}

func noColors() bool {
	v, err := strconv.ParseBool(os.Getenv("WSV_TEST_LOG_NO_COLORS"))
	return err == nil && v
}
