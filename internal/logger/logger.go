// Package logger wraps a pair of independently configurable logrus
// loggers (console, file) behind one small structured-logging API, the
// way this codebase's sibling daemons do it rather than reaching for
// the standard library's log package.
package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

// ConsoleConfig configures the stderr/stdout destination.
type ConsoleConfig struct {
	Enabled bool
	Level   string
	Format  string // "text" or "json"
}

// FileConfig configures the on-disk destination, used when --log is
// passed.
type FileConfig struct {
	Enabled bool
	Level   string
	Format  string
	Path    string
}

// Config is the full logger configuration.
type Config struct {
	Console ConsoleConfig
	File    FileConfig
}

// Logger fans a structured log call out to whichever of console/file
// destinations are enabled.
type Logger struct {
	console *logrus.Logger
	file    *logrus.Logger
	fh      *os.File
}

// New builds a Logger from cfg. At least console is always usable: if
// neither destination is enabled, console defaults on at Info level so
// the daemon is never silently mute.
func New(cfg Config) (*Logger, error) {
	l := &Logger{}

	if cfg.Console.Enabled || !cfg.File.Enabled {
		l.console = newLogrus(cfg.Console.Level, cfg.Console.Format, "info")
		l.console.SetOutput(os.Stderr)
	}

	if cfg.File.Enabled {
		f, err := os.OpenFile(cfg.File.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		l.fh = f
		l.file = newLogrus(cfg.File.Level, cfg.File.Format, "info")
		l.file.SetOutput(f)
	}

	return l, nil
}

func newLogrus(level, format, defaultLevel string) *logrus.Logger {
	lg := logrus.New()

	lvlStr := level
	if lvlStr == "" {
		lvlStr = defaultLevel
	}
	lvl, err := logrus.ParseLevel(lvlStr)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	lg.SetLevel(lvl)

	if format == "json" {
		lg.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	} else {
		lg.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}
	return lg
}

// Close releases the file handle, if any.
func (l *Logger) Close() error {
	if l.fh != nil {
		return l.fh.Close()
	}
	return nil
}

func (l *Logger) fields(kv []interface{}) logrus.Fields {
	f := make(logrus.Fields, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		if key, ok := kv[i].(string); ok {
			f[key] = kv[i+1]
		}
	}
	return f
}

func (l *Logger) emit(level logrus.Level, msg string, kv []interface{}) {
	fields := l.fields(kv)
	for _, lg := range []*logrus.Logger{l.console, l.file} {
		if lg == nil {
			continue
		}
		entry := lg.WithFields(fields)
		switch level {
		case logrus.TraceLevel:
			entry.Trace(msg)
		case logrus.DebugLevel:
			entry.Debug(msg)
		case logrus.WarnLevel:
			entry.Warn(msg)
		case logrus.ErrorLevel:
			entry.Error(msg)
		default:
			entry.Info(msg)
		}
	}
}

func (l *Logger) Trace(msg string, kv ...interface{}) { l.emit(logrus.TraceLevel, msg, kv) }
func (l *Logger) Debug(msg string, kv ...interface{}) { l.emit(logrus.DebugLevel, msg, kv) }
func (l *Logger) Info(msg string, kv ...interface{})  { l.emit(logrus.InfoLevel, msg, kv) }
func (l *Logger) Warn(msg string, kv ...interface{})  { l.emit(logrus.WarnLevel, msg, kv) }
func (l *Logger) Error(msg string, kv ...interface{}) { l.emit(logrus.ErrorLevel, msg, kv) }
