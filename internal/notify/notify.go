// Package notify carries transient user-facing notifications (toasts) out of
// the client core. The core only reports; presenting is up to the caller.
package notify

import (
	"github.com/rs/zerolog/log"
)

type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

type Notifier interface {
	Notify(level Level, message string)
}

// Func adapts a plain function to a Notifier.
type Func func(level Level, message string)

func (f Func) Notify(level Level, message string) { f(level, message) }

// Log returns a Notifier that writes notifications to the global logger.
func Log() Notifier {
	return Func(func(level Level, message string) {
		switch level {
		case LevelError:
			log.Error().Str("component", "notify").Msg(message)
		case LevelWarning:
			log.Warn().Str("component", "notify").Msg(message)
		default:
			log.Info().Str("component", "notify").Str("kind", string(level)).Msg(message)
		}
	})
}

// Discard drops every notification.
func Discard() Notifier {
	return Func(func(Level, string) {})
}
