package logging

import (
	"io"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

const DefaultBufferSize = 500

// Logger writes leveled logfmt lines and keeps the recent entries in a
// LogBuffer so the daemon can inspect them after the fact.
type Logger struct {
	buffer   *LogBuffer
	output   *log.Logger
	minLevel Level
	fields   map[string]string
}

var levelRanks = map[Level]int{
	LevelDebug:   0,
	LevelInfo:    1,
	LevelWarning: 2,
	LevelError:   3,
}

func NewLogger(buffer *LogBuffer, minLevel Level) *Logger {
	return NewLoggerWithOutput(buffer, minLevel, os.Stderr)
}

func NewLoggerWithOutput(buffer *LogBuffer, minLevel Level, output io.Writer) *Logger {
	if buffer == nil {
		buffer = NewLogBuffer(DefaultBufferSize)
	}
	if _, ok := levelRanks[minLevel]; !ok {
		minLevel = LevelInfo
	}
	logger := &Logger{buffer: buffer, minLevel: minLevel}
	if output != nil {
		logger.output = log.New(output, "", log.LstdFlags)
	}
	return logger
}

// Discard returns a logger that only records into its buffer.
func Discard() *Logger {
	return NewLoggerWithOutput(nil, LevelInfo, nil)
}

func (l *Logger) Buffer() *LogBuffer {
	if l == nil {
		return nil
	}
	return l.buffer
}

// With returns a child logger that stamps fields onto every entry.
func (l *Logger) With(fields map[string]string) *Logger {
	if l == nil {
		return nil
	}
	child := *l
	child.fields = mergeFields(l.fields, fields)
	return &child
}

// ForModule tags entries with a module specifier and, when known, the path it
// resolved to.
func (l *Logger) ForModule(specifier, resolvedPath string) *Logger {
	fields := map[string]string{FieldModule: specifier}
	if resolvedPath != "" {
		fields[FieldPath] = resolvedPath
	}
	return l.With(fields)
}

// Reloaded records the outcome of one reload run: info on success, error
// with the cause otherwise.
func (l *Logger) Reloaded(trigger string, targets int, elapsed time.Duration, err error) {
	fields := map[string]string{
		FieldTrigger:  trigger,
		FieldTargets:  strconv.Itoa(targets),
		FieldDuration: elapsed.Round(time.Microsecond).String(),
	}
	if err != nil {
		fields[FieldError] = err.Error()
		l.Error("reload failed", fields)
		return
	}
	l.Info("reload finished", fields)
}

func (l *Logger) Debug(message string, fields map[string]string) {
	l.write(LevelDebug, message, fields)
}

func (l *Logger) Info(message string, fields map[string]string) {
	l.write(LevelInfo, message, fields)
}

func (l *Logger) Warn(message string, fields map[string]string) {
	l.write(LevelWarning, message, fields)
}

func (l *Logger) Error(message string, fields map[string]string) {
	l.write(LevelError, message, fields)
}

func (l *Logger) write(level Level, message string, fields map[string]string) {
	if l == nil || levelRanks[level] < levelRanks[l.minLevel] {
		return
	}
	entry := LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
		Context:   mergeFields(l.fields, fields),
	}
	if l.buffer != nil {
		l.buffer.Add(entry)
	}
	if l.output != nil {
		l.output.Print(entry.logfmt())
	}
}

// ParseLevel accepts the level names used in config files; "warn" is an
// alias for warning.
func ParseLevel(value string) (Level, bool) {
	normalized := Level(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "warn" {
		normalized = LevelWarning
	}
	if _, ok := levelRanks[normalized]; !ok {
		return "", false
	}
	return normalized, true
}

func mergeFields(base, extra map[string]string) map[string]string {
	if len(base)+len(extra) == 0 {
		return nil
	}
	merged := make(map[string]string, len(base)+len(extra))
	for key, value := range base {
		merged[key] = value
	}
	for key, value := range extra {
		merged[key] = value
	}
	return merged
}

func (entry LogEntry) logfmt() string {
	var builder strings.Builder
	builder.WriteString("level=")
	builder.WriteString(string(entry.Level))
	builder.WriteString(" msg=")
	builder.WriteString(strconv.Quote(entry.Message))

	keys := make([]string, 0, len(entry.Context))
	for key := range entry.Context {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		builder.WriteByte(' ')
		builder.WriteString(key)
		builder.WriteByte('=')
		builder.WriteString(strconv.Quote(entry.Context[key]))
	}
	return builder.String()
}
