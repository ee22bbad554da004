package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/HORNET-Storage/hornet-relay-client/lib/types"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLogLevel converts a config string to a LogLevel, defaulting to INFO
func ParseLogLevel(level string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	case "FATAL":
		return FATAL
	default:
		return INFO
	}
}

// Logger writes leveled text lines to stdout, a log file, or both
type Logger struct {
	level      LogLevel
	output     string
	logDir     string
	component  string
	currentLog *os.File
	stdout     io.Writer
	mu         *sync.RWMutex
	started    time.Time
}

var (
	globalLogger *Logger
	globalMu     sync.Mutex
)

// InitLogger installs the global logger from the logging section of the config.
// Log files are written below dataDir/logs.
func InitLogger(cfg types.LoggingConfig, dataDir string) error {
	logger, err := NewLogger(cfg, dataDir)
	if err != nil {
		return err
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger != nil {
		globalLogger.Close()
	}
	globalLogger = logger
	return nil
}

// GetLogger returns the global logger, falling back to an INFO stdout logger
func GetLogger() *Logger {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = NewBasicLogger()
	}
	return globalLogger
}

// NewLogger creates a logger for the given logging config
func NewLogger(cfg types.LoggingConfig, dataDir string) (*Logger, error) {
	logDir := cfg.Path
	if logDir == "" {
		logDir = filepath.Join(dataDir, "logs")
	}

	logger := &Logger{
		level:   ParseLogLevel(cfg.Level),
		output:  strings.ToLower(cfg.Output),
		logDir:  logDir,
		stdout:  os.Stdout,
		mu:      &sync.RWMutex{},
		started: time.Now(),
	}
	if logger.output == "" {
		logger.output = "stdout"
	}

	if logger.output == "file" || logger.output == "both" {
		if err := logger.createLogFile(); err != nil {
			return nil, fmt.Errorf("failed to setup logger output: %w", err)
		}
	}

	return logger, nil
}

// NewBasicLogger creates an INFO logger writing to stdout
func NewBasicLogger() *Logger {
	return &Logger{
		level:   INFO,
		output:  "stdout",
		stdout:  os.Stdout,
		mu:      &sync.RWMutex{},
		started: time.Now(),
	}
}

// NewWriterLogger creates a logger writing every line to w. Used by tests.
func NewWriterLogger(level LogLevel, w io.Writer) *Logger {
	return &Logger{
		level:   level,
		output:  "stdout",
		stdout:  w,
		mu:      &sync.RWMutex{},
		started: time.Now(),
	}
}

// SetGlobal replaces the global logger
func SetGlobal(l *Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = l
}

// Component returns a logger sharing this logger's output that prefixes messages with name
func (l *Logger) Component(name string) *Logger {
	c := *l
	c.component = name
	return &c
}

// createLogFile opens logs/<date>/<time>.log for the logger start time
func (l *Logger) createLogFile() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	dateDir := l.started.Format("2006-01-02")
	timeFile := l.started.Format("15-04-05") + ".log"

	fullDir := filepath.Join(l.logDir, dateDir)
	if err := os.MkdirAll(fullDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(filepath.Join(fullDir, timeFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}

	if l.currentLog != nil {
		l.currentLog.Close()
	}
	l.currentLog = file
	return nil
}

func (l *Logger) format(level LogLevel, msg string, fields map[string]interface{}) string {
	var b strings.Builder
	b.WriteString(time.Now().Format("2006-01-02 15:04:05.000"))
	b.WriteString(" [")
	b.WriteString(level.String())
	b.WriteString("] ")
	if l.component != "" {
		b.WriteString(l.component)
		b.WriteString(": ")
	}
	b.WriteString(msg)

	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteString(" |")
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, fields[k])
		}
	}
	return b.String()
}

func (l *Logger) log(level LogLevel, msg string, fields map[string]interface{}) {
	if level < l.level {
		return
	}

	line := l.format(level, msg, fields)

	l.mu.Lock()
	fmt.Fprintln(l.writer(), line)
	l.mu.Unlock()

	if level == FATAL {
		os.Exit(1)
	}
}

// writer returns the destination for the configured output; callers hold l.mu
func (l *Logger) writer() io.Writer {
	switch l.output {
	case "file":
		if l.currentLog != nil {
			return l.currentLog
		}
	case "both":
		if l.currentLog != nil {
			return io.MultiWriter(l.stdout, l.currentLog)
		}
	}
	return l.stdout
}

func firstFields(fields []map[string]interface{}) map[string]interface{} {
	if len(fields) > 0 {
		return fields[0]
	}
	return nil
}

func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(DEBUG, msg, firstFields(fields))
}

func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(INFO, msg, firstFields(fields))
}

func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(WARN, msg, firstFields(fields))
}

func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(ERROR, msg, firstFields(fields))
}

// Fatal logs and exits the process
func (l *Logger) Fatal(msg string, fields ...map[string]interface{}) {
	l.log(FATAL, msg, firstFields(fields))
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	l.log(DEBUG, fmt.Sprintf(format, args...), nil)
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.log(INFO, fmt.Sprintf(format, args...), nil)
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.log(WARN, fmt.Sprintf(format, args...), nil)
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.log(ERROR, fmt.Sprintf(format, args...), nil)
}

func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.log(FATAL, fmt.Sprintf(format, args...), nil)
}

// Close closes the log file, if any
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.currentLog != nil {
		err := l.currentLog.Close()
		l.currentLog = nil
		return err
	}
	return nil
}

// Global convenience functions

func Debug(msg string, fields ...map[string]interface{}) { GetLogger().Debug(msg, fields...) }
func Info(msg string, fields ...map[string]interface{})  { GetLogger().Info(msg, fields...) }
func Warn(msg string, fields ...map[string]interface{})  { GetLogger().Warn(msg, fields...) }
func Error(msg string, fields ...map[string]interface{}) { GetLogger().Error(msg, fields...) }
func Fatal(msg string, fields ...map[string]interface{}) { GetLogger().Fatal(msg, fields...) }

func Debugf(format string, args ...interface{}) { GetLogger().Debugf(format, args...) }
func Infof(format string, args ...interface{})  { GetLogger().Infof(format, args...) }
func Warnf(format string, args ...interface{})  { GetLogger().Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { GetLogger().Errorf(format, args...) }
func Fatalf(format string, args ...interface{}) { GetLogger().Fatalf(format, args...) }
