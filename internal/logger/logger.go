package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

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
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "INFO"
	}
}

// ParseLevel maps LOG_LEVEL values onto a LogLevel, falling back to INFO.
func ParseLevel(s string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG
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

type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Category  string `json:"category"`
	Message   string `json:"message"`
	File      string `json:"file,omitempty"`
	Line      int    `json:"line,omitempty"`
}

type Options struct {
	// Service names the log file: <Dir>/<Service>-<date>.log
	Service string
	// Dir is the log directory. Empty disables the JSON file.
	Dir string
	// Terminal receives the colored output. Nil means os.Stdout.
	Terminal io.Writer
	MinLevel LogLevel
	NoColor  bool
}

type Logger struct {
	mu       sync.Mutex
	terminal io.Writer
	logFile  *os.File
	minLevel LogLevel
	colors   bool
	exit     func(int)
}

// NewLogger is the service default: colored stdout plus a daily JSON file under ./logs.
func NewLogger(service string) *Logger {
	l, err := New(Options{Service: service, Dir: "logs", MinLevel: ParseLevel(os.Getenv("LOG_LEVEL"))})
	if err != nil {
		l, _ = New(Options{Service: service})
		l.Warn("LOGGER", fmt.Sprintf("File logging disabled: %v", err))
	}
	return l
}

func New(opts Options) (*Logger, error) {
	l := &Logger{
		terminal: opts.Terminal,
		minLevel: opts.MinLevel,
		colors:   !opts.NoColor,
		exit:     os.Exit,
	}
	if l.terminal == nil {
		l.terminal = os.Stdout
	}

	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
		name := opts.Service
		if name == "" {
			name = "service"
		}
		fileName := filepath.Join(opts.Dir, fmt.Sprintf("%s-%s.log", name, time.Now().Format("2006-01-02")))
		f, err := os.OpenFile(fileName, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		l.logFile = f
		l.Info("LOGGER", fmt.Sprintf("Log file: %s", fileName))
	}
	return l, nil
}

// NewNopLogger discards everything. Used by tests and one-shot tools that want silence.
func NewNopLogger() *Logger {
	return &Logger{terminal: io.Discard, minLevel: FATAL + 1, exit: os.Exit}
}

func (l *Logger) log(level LogLevel, category, message string) {
	if l == nil || level < l.minLevel {
		return
	}

	_, file, line, ok := runtime.Caller(2)
	if ok {
		file = filepath.Base(file)
	}

	entry := LogEntry{
		Timestamp: time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
		Level:     level.String(),
		Category:  strings.ToUpper(category),
		Message:   message,
		File:      file,
		Line:      line,
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprint(l.terminal, l.formatTerminalOutput(entry))
	if l.logFile != nil {
		b, _ := json.Marshal(entry)
		l.logFile.Write(append(b, '\n'))
	}
}

func levelColors(level string) (*color.Color, *color.Color) {
	switch level {
	case "DEBUG":
		return color.New(color.FgCyan), color.New(color.FgCyan, color.Bold)
	case "INFO":
		return color.New(color.FgGreen), color.New(color.FgGreen, color.Bold)
	case "WARN":
		return color.New(color.FgYellow), color.New(color.FgYellow, color.Bold)
	case "ERROR":
		return color.New(color.FgRed), color.New(color.FgRed, color.Bold)
	case "FATAL":
		return color.New(color.FgRed, color.Bold), color.New(color.FgRed, color.Bold)
	}
	return color.New(color.FgWhite), color.New(color.FgWhite, color.Bold)
}

func (l *Logger) formatTerminalOutput(entry LogEntry) string {
	ts := entry.Timestamp[11:19]
	levelColor, categoryColor := levelColors(entry.Level)
	timeColor := color.New(color.FgBlue)
	fileColor := color.New(color.FgMagenta)
	if !l.colors {
		levelColor.DisableColor()
		categoryColor.DisableColor()
		timeColor.DisableColor()
		fileColor.DisableColor()
	}

	out := fmt.Sprintf("%s %s %s %s",
		timeColor.Sprint(ts),
		levelColor.Sprintf("%-5s", entry.Level),
		categoryColor.Sprintf("[%-11s]", entry.Category),
		entry.Message,
	)
	if entry.File != "" && entry.Line > 0 {
		out += fileColor.Sprintf(" (%s:%d)", entry.File, entry.Line)
	}
	return out + "\n"
}

func (l *Logger) Debug(category, message string) {
	l.log(DEBUG, category, message)
}

func (l *Logger) Info(category, message string) {
	l.log(INFO, category, message)
}

func (l *Logger) Warn(category, message string) {
	l.log(WARN, category, message)
}

func (l *Logger) Error(category, message string) {
	l.log(ERROR, category, message)
}

func (l *Logger) Fatal(category, message string) {
	l.log(FATAL, category, message)
	l.exit(1)
}

// Component helpers

func (l *Logger) LogReservation(action, reservationID, message string) {
	l.log(INFO, "RESERVATION", fmt.Sprintf("[%s] %s - %s", action, reservationID, message))
}

func (l *Logger) LogCapacity(eventID string, delta, remaining int) {
	l.log(INFO, "CAPACITY", fmt.Sprintf("event %s delta=%+d remaining=%d", eventID, delta, remaining))
}

func (l *Logger) LogSweep(processed, expired, failed int, took time.Duration) {
	l.log(INFO, "SWEEP", fmt.Sprintf("processed=%d expired=%d failed=%d (%s)", processed, expired, failed, took))
}

func (l *Logger) LogWaitlist(action, eventID, message string) {
	l.log(INFO, "WAITLIST", fmt.Sprintf("[%s] event %s - %s", action, eventID, message))
}

func (l *Logger) LogNotify(kind, target, message string) {
	l.log(INFO, "NOTIFY", fmt.Sprintf("[%s] %s - %s", kind, target, message))
}

func (l *Logger) LogAPI(method, path, status, duration string) {
	l.log(INFO, "API", fmt.Sprintf("%s %s - %s (%s)", method, path, status, duration))
}

func (l *Logger) LogKafka(action, topic, message string) {
	l.log(INFO, "KAFKA", fmt.Sprintf("[%s] %s - %s", action, topic, message))
}

func (l *Logger) LogDatabase(operation, table, message string) {
	l.log(INFO, "DATABASE", fmt.Sprintf("[%s] %s - %s", operation, table, message))
}

func (l *Logger) LogSecurity(event, message string) {
	l.log(WARN, "SECURITY", fmt.Sprintf("[%s] %s", event, message))
}

func (l *Logger) Close() {
	if l == nil || l.logFile == nil {
		return
	}
	l.Info("LOGGER", "Closing log file")
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logFile.Close()
	l.logFile = nil
}
