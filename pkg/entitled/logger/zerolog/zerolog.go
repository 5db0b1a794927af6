// Package zerolog adapts a zerolog.Logger to the entitled.Logger seam.
package zerolog

import (
	"github.com/rs/zerolog"

	"github.com/mihaimyh/entitled/pkg/entitled"
)

// Logger forwards engine log lines to zerolog, mapping each entitled.Field
// to a structured event field.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger wraps the given zerolog.Logger. Level filtering and output
// formatting stay under the caller's control.
func NewLogger(logger zerolog.Logger) *Logger {
	return &Logger{logger: logger}
}

func (l *Logger) Debug(msg string, fields ...entitled.Field) {
	l.emit(l.logger.Debug(), msg, fields)
}

func (l *Logger) Info(msg string, fields ...entitled.Field) {
	l.emit(l.logger.Info(), msg, fields)
}

func (l *Logger) Warn(msg string, fields ...entitled.Field) {
	l.emit(l.logger.Warn(), msg, fields)
}

func (l *Logger) Error(msg string, fields ...entitled.Field) {
	l.emit(l.logger.Error(), msg, fields)
}

// emit attaches the fields and writes the line. A nil event means the level
// is disabled and the line is dropped without touching the fields.
func (l *Logger) emit(event *zerolog.Event, msg string, fields []entitled.Field) {
	if event == nil {
		return
	}
	for _, f := range fields {
		event = event.Interface(f.Key, f.Value)
	}
	event.Msg(msg)
}
