package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// LevelTrace is more verbose than slog.LevelDebug.
const LevelTrace = slog.Level(-8)

const (
	FormatText    = "text"
	FormatJSON    = "json"
	FormatECS     = "ecs"
	FormatConsole = "console"
)

/*
LogConfiguration describes the logger. Empty fields get defaults: level "info",
format "text", output to stderr.
*/
type LogConfiguration struct {
	// one of TRACE, DEBUG, INFO, WARN, ERROR, NONE (case insensitive)
	Level string `yaml:"defaultLevel"`
	// one of text, json, ecs, console
	Format string `yaml:"format"`
	// file name or one of the special values stdout, stderr, discard
	OutputPath string `yaml:"outputPath"`
	// Go time layout, "none" to drop the time field
	TimeFormat string `yaml:"timeFormat"`
	// disables colors of the console format
	NoColor bool `yaml:"noColor"`
	// log the source code position of the logging call
	ShowSource bool `yaml:"showSource"`

	// when set OutputPath is ignored
	Writer io.Writer `yaml:"-"`
}

// LoadConfiguration reads YAML logger configuration from file.
func LoadConfiguration(filename string) (*LogConfiguration, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("opening logger configuration file: %w", err)
	}
	defer f.Close()

	cfg := &LogConfiguration{}
	if err := yaml.NewDecoder(f).Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decoding logger configuration (%s): %w", filename, err)
	}
	return cfg, nil
}

// New creates logger based on the configuration, nil configuration means defaults.
func New(cfg *LogConfiguration) (*slog.Logger, error) {
	if cfg == nil {
		cfg = &LogConfiguration{}
	}
	if strings.EqualFold(cfg.Level, "none") {
		return slog.New(slog.NewTextHandler(io.Discard, nil)), nil
	}
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	out, err := cfg.writer()
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{AddSource: cfg.ShowSource, Level: level}
	var h slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "", FormatText:
		opts.ReplaceAttr = composeAttrFmt(formatTimeAttr(cfg.TimeFormat), formatLevelAttr)
		h = slog.NewTextHandler(out, opts)
	case FormatJSON:
		opts.ReplaceAttr = composeAttrFmt(formatTimeAttr(cfg.TimeFormat), formatLevelAttr)
		h = slog.NewJSONHandler(out, opts)
	case FormatECS:
		opts.ReplaceAttr = composeAttrFmt(formatLevelAttr, formatAttrECS)
		h = slog.NewJSONHandler(out, opts)
	case FormatConsole:
		h = newConsoleHandler(out, cfg, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	return slog.New(h), nil
}

// ParseLevel converts level name to slog level, empty string is INFO.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToUpper(s) {
	case "":
		return slog.LevelInfo, nil
	case "TRACE":
		return LevelTrace, nil
	case "WARNING":
		return slog.LevelWarn, nil
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return lvl, nil
}

func (cfg *LogConfiguration) writer() (io.Writer, error) {
	if cfg.Writer != nil {
		return cfg.Writer, nil
	}
	switch strings.ToLower(cfg.OutputPath) {
	case "", "stderr":
		return os.Stderr, nil
	case "stdout":
		return os.Stdout, nil
	case "discard":
		return io.Discard, nil
	}
	f, err := os.OpenFile(cfg.OutputPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	return f, nil
}

/*
newConsoleHandler creates human friendly colored output. Records are encoded
as JSON with the field names zerolog uses and then pretty printed by zerolog's
ConsoleWriter.
*/
func newConsoleHandler(out io.Writer, cfg *LogConfiguration, opts *slog.HandlerOptions) slog.Handler {
	timeFormat := cfg.TimeFormat
	if timeFormat == "" || timeFormat == "none" {
		timeFormat = "15:04:05.0000"
	}
	cw := zerolog.ConsoleWriter{
		Out:        out,
		NoColor:    cfg.NoColor,
		TimeFormat: timeFormat,
		PartsExclude: func() []string {
			if cfg.TimeFormat == "none" {
				return []string{zerolog.TimestampFieldName}
			}
			return nil
		}(),
	}
	opts.ReplaceAttr = composeAttrFmt(formatDataAttrAsJSON, zerologFieldNames)
	return slog.NewJSONHandler(cw, opts)
}

// zerologFieldNames renames the slog built-in fields to the ones ConsoleWriter expects.
func zerologFieldNames(groups []string, a slog.Attr) slog.Attr {
	if len(groups) != 0 {
		return a
	}
	switch a.Key {
	case slog.TimeKey:
		return slog.String(zerolog.TimestampFieldName, a.Value.Time().Format(time.RFC3339Nano))
	case slog.LevelKey:
		return slog.String(zerolog.LevelFieldName, zerologLevel(a.Value.Any().(slog.Level)).String())
	case slog.MessageKey:
		return slog.String(zerolog.MessageFieldName, a.Value.String())
	case slog.SourceKey:
		if src, ok := a.Value.Any().(*slog.Source); ok {
			return slog.String(zerolog.CallerFieldName, fmt.Sprintf("%s:%d", src.File, src.Line))
		}
	case ErrorKey:
		return slog.Any(zerolog.ErrorFieldName, a.Value.Any())
	}
	return a
}

func zerologLevel(l slog.Level) zerolog.Level {
	switch {
	case l <= LevelTrace:
		return zerolog.TraceLevel
	case l < slog.LevelInfo:
		return zerolog.DebugLevel
	case l < slog.LevelWarn:
		return zerolog.InfoLevel
	case l < slog.LevelError:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}
