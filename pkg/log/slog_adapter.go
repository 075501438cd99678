package log

import (
	"context"
	"log/slog"
)

// SlogAdapter writes flow events to an slog.Logger.
// Useful for development when you want to see the login flow in console.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a new SlogAdapter that writes to the given slog.Logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event to the slog logger. Errors log at Warn level,
// everything else at Debug.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("session_id", event.SessionID),
		slog.String("category", event.Category.String()),
	}
	if event.Step != "" {
		attrs = append(attrs, slog.String("step", event.Step))
	}

	level := slog.LevelDebug
	switch {
	case event.Exchange != nil:
		attrs = append(attrs,
			slog.String("method", event.Exchange.Method),
			slog.String("url", event.Exchange.URL),
			slog.Int("status", event.Exchange.Status),
		)
		if event.Exchange.Encrypted {
			attrs = append(attrs, slog.Bool("encrypted", true))
		}
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
	case event.Error != nil:
		level = slog.LevelWarn
		attrs = append(attrs, slog.String("error_msg", event.Error.Message))
		if event.Error.Context != "" {
			attrs = append(attrs, slog.String("error_context", event.Error.Context))
		}
	}

	a.logger.LogAttrs(context.Background(), level, "flow event", attrs...)
}

// Compile-time interface satisfaction check.
var _ Logger = (*SlogAdapter)(nil)
