package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls level, format and destination of the application log.
type Config struct {
	Level      string // trace, debug, info, warn, error
	Format     string // text, json
	Output     string // stdout, file, both
	Path       string
	File       string
	MaxSize    int // MB
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

// DefaultConfig derives a Config from GO_ENV and LOG_* environment variables.
func DefaultConfig() *Config {
	env := os.Getenv("GO_ENV")
	if env == "" {
		env = "development"
	}

	cfg := &Config{
		Level:      "info",
		Format:     "json",
		Output:     "stdout",
		Path:       "./logs",
		File:       "app.log",
		MaxSize:    100,
		MaxBackups: 7,
		MaxAge:     7,
		Compress:   true,
	}
	if env == "development" {
		cfg.Level = "debug"
		cfg.Format = "text"
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Level = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Format = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_OUTPUT"); v != "" {
		cfg.Output = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_PATH"); v != "" {
		cfg.Path = v
	}
	if v, err := strconv.Atoi(os.Getenv("LOG_MAX_SIZE")); err == nil && v > 0 {
		cfg.MaxSize = v
	}
	if v, err := strconv.Atoi(os.Getenv("LOG_MAX_BACKUPS")); err == nil && v >= 0 {
		cfg.MaxBackups = v
	}
	if v, err := strconv.Atoi(os.Getenv("LOG_MAX_AGE")); err == nil && v > 0 {
		cfg.MaxAge = v
	}
	return cfg
}

// New builds a logrus logger from cfg. A nil cfg uses DefaultConfig.
func New(cfg *Config) (*logrus.Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	l := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	if cfg.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05.000",
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05.000",
			CallerPrettyfier: func(f *runtime.Frame) (string, string) {
				s := strings.Split(f.Function, ".")
				return s[len(s)-1], fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
			},
		})
	}

	var writers []io.Writer
	if cfg.Output == "stdout" || cfg.Output == "both" || cfg.Output == "" {
		writers = append(writers, os.Stdout)
	}
	if cfg.Output == "file" || cfg.Output == "both" {
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   filepath.Join(cfg.Path, cfg.File),
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		})
	}
	l.SetOutput(io.MultiWriter(writers...))

	return l, nil
}

// Discard returns a logger that drops everything; handy in tests.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// OrDiscard returns l, or a discarding logger when l is nil.
func OrDiscard(l logrus.FieldLogger) logrus.FieldLogger {
	if l == nil {
		return Discard()
	}
	return l
}
