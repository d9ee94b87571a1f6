package logger

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"sacngen/internal/config"
)

type Log struct {
	*logrus.Entry
	// out is the log file opened by NewLogger, nil for stdout.
	out io.Closer
}

// NewLogger конструктор. Close the returned logger to release its log file.
func NewLogger(cfg config.LogConf) (*Log, error) {
	log := logrus.New()

	switch cfg.Format {
	case "json":
		log.Formatter = &logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05.0000",
		}
	case "", "text":
		log.Formatter = &logrus.TextFormatter{
			TimestampFormat:  "2006-01-02 15:04:05.0000",
			DisableColors:    cfg.File != "",
			ForceColors:      cfg.File == "",
			FullTimestamp:    true,
			QuoteEmptyFields: true,
		}
	default:
		return nil, fmt.Errorf("logger. Error in settings (format: %s): unknown format", cfg.Format)
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("logger. Error in settings (level: %s): %w", cfg.Level, err)
	}
	log.SetLevel(level)

	out, closer, err := openOutput(cfg.File)
	if err != nil {
		return nil, fmt.Errorf("logger. Error in settings (file: %s): %w", cfg.File, err)
	}
	log.SetOutput(out)
	log.Debug("set level: ", level)

	return &Log{Entry: log.WithFields(nil), out: closer}, nil
}

// Nop returns a logger that drops everything, for tests.
func Nop() *Log {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return &Log{Entry: log.WithFields(nil)}
}

func openOutput(path string) (io.Writer, io.Closer, error) {
	if path == "" {
		return os.Stdout, nil, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	return f, f, nil
}

// Close releases the log file. Loggers derived with With share the file and
// are not closed themselves.
func (l *Log) Close() error {
	if l.out == nil {
		return nil
	}
	return l.out.Close()
}

// With will add the fields to the formatted log entry.
func (l *Log) With(fields Fields) *Log {
	return &Log{Entry: l.WithFields(logrus.Fields(fields))}
}

func (l *Log) GetLevel() string {
	return l.Logger.Level.String()
}

// Fields are a representation of formatted log fields.
type Fields map[string]interface{}

// Logger интерфейс для регистратора.
type Logger interface {
	// GetLevel возвращает текущий установленный уровень логирования.
	GetLevel() string
	With(fields Fields) *Log
}
