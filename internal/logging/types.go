package logging

import "time"

type Level string

const (
	LevelDebug   Level = "debug"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Field keys shared by the reload, watcher and api packages.
const (
	FieldCategory = "watchreload.category"
	FieldModule   = "module"
	FieldPath     = "path"
	FieldError    = "error"
	FieldTrigger  = "trigger"
	FieldTargets  = "targets"
	FieldDuration = "duration"
)

type LogEntry struct {
	Timestamp time.Time         `json:"timestamp"`
	Level     Level             `json:"level"`
	Message   string            `json:"message"`
	Context   map[string]string `json:"context,omitempty"`
}

// Category returns a child logger tagged with the given subsystem.
func (l *Logger) Category(name string) *Logger {
	return l.With(map[string]string{FieldCategory: name})
}
