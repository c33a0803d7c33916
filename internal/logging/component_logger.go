package logging

import (
	"fmt"
	"log"

	"github.com/fatih/color"
)

// LogLevel is a verbosity tier for the colored CLI logger.
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

// ComponentLoggerConfig configures a ComponentLogger.
type ComponentLoggerConfig struct {
	ComponentName string
	Color         color.Attribute
	EnabledLevels []LogLevel
}

// ComponentLogger prints colored, component-prefixed lines to the standard
// logger. It is used by runnerctl where a human is watching a terminal,
// as opposed to the structured slog logger used by runnerd.
type ComponentLogger struct {
	name    string
	colorer func(format string, a ...interface{}) string
	enabled map[LogLevel]bool
}

// NewComponentLogger builds a ComponentLogger from the given config.
func NewComponentLogger(cfg ComponentLoggerConfig) *ComponentLogger {
	enabled := make(map[LogLevel]bool, len(cfg.EnabledLevels))
	if len(cfg.EnabledLevels) == 0 {
		enabled[INFO] = true
		enabled[WARN] = true
		enabled[ERROR] = true
	}
	for _, lvl := range cfg.EnabledLevels {
		enabled[lvl] = true
	}
	c := color.New(cfg.Color)
	return &ComponentLogger{
		name:    cfg.ComponentName,
		colorer: c.SprintfFunc(),
		enabled: enabled,
	}
}

func (l *ComponentLogger) log(level LogLevel, label, format string, args ...interface{}) {
	if !l.enabled[level] {
		return
	}
	msg := fmt.Sprintf(format, args...)
	log.Print(l.colorer("[%s] %s %s", l.name, label, msg))
}

func (l *ComponentLogger) Debug(format string, args ...interface{}) { l.log(DEBUG, "DEBUG", format, args...) }
func (l *ComponentLogger) Info(format string, args ...interface{})  { l.log(INFO, "INFO", format, args...) }
func (l *ComponentLogger) Warn(format string, args ...interface{})  { l.log(WARN, "WARN", format, args...) }
func (l *ComponentLogger) Error(format string, args ...interface{}) { l.log(ERROR, "ERROR", format, args...) }

var (
	DispatcherLogger = NewComponentLogger(ComponentLoggerConfig{ComponentName: "DISPATCH", Color: color.FgCyan, EnabledLevels: []LogLevel{INFO, WARN, ERROR}})
	SupervisorLogger = NewComponentLogger(ComponentLoggerConfig{ComponentName: "SUPERVISOR", Color: color.FgYellow, EnabledLevels: []LogLevel{INFO, WARN, ERROR}})
	QueueLogger      = NewComponentLogger(ComponentLoggerConfig{ComponentName: "QUEUE", Color: color.FgGreen, EnabledLevels: []LogLevel{INFO, WARN, ERROR}})
)

// LoggerFactory resolves a ComponentLogger by name, mirroring the teacher's
// convenience-lookup pattern used by CLI entry points.
type LoggerFactory struct{}

// GetLogger returns the well-known logger for component, or a generic one.
func (LoggerFactory) GetLogger(component string) *ComponentLogger {
	switch component {
	case "DISPATCH":
		return DispatcherLogger
	case "SUPERVISOR":
		return SupervisorLogger
	case "QUEUE":
		return QueueLogger
	default:
		return NewComponentLogger(ComponentLoggerConfig{ComponentName: component})
	}
}
