// Package notify is the boundary where component failures become
// user-facing alerts.
package notify

import (
	"log/slog"
	"sync"
)

type Level string

const (
	LevelInfo    Level = "Info"
	LevelWarning Level = "Warning"
	LevelError   Level = "Error"
)

type Notifier interface {
	Notify(level Level, message string)
}

// Func adapts a function to Notifier.
type Func func(level Level, message string)

func (f Func) Notify(level Level, message string) { f(level, message) }

// Log writes alerts to a slog logger. It is the default when a component is
// given no notifier.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Notify(level Level, message string) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	switch level {
	case LevelError:
		logger.Error(message, "alert", true)
	case LevelWarning:
		logger.Warn(message, "alert", true)
	default:
		logger.Info(message, "alert", true)
	}
}

type Alert struct {
	Level   Level
	Message string
}

// Recorder keeps every alert; tests use it to assert on notifications.
type Recorder struct {
	mu     sync.Mutex
	alerts []Alert
}

func (r *Recorder) Notify(level Level, message string) {
	r.mu.Lock()
	r.alerts = append(r.alerts, Alert{Level: level, Message: message})
	r.mu.Unlock()
}

func (r *Recorder) Alerts() []Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Alert(nil), r.alerts...)
}
