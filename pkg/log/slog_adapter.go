package log

import (
	"context"
	"log/slog"
)

// SlogAdapter writes protocol events to an slog.Logger at debug level.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates an adapter writing to logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event to the slog logger.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("conn_id", event.ConnectionID),
		slog.String("direction", event.Direction.String()),
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
	}
	if event.Handle != "" {
		attrs = append(attrs, slog.String("handle", event.Handle))
	}

	switch {
	case event.Line != nil:
		attrs = append(attrs,
			slog.Int("size", event.Line.Size),
			slog.String("line", event.Line.Text),
		)
		if event.Line.Truncated {
			attrs = append(attrs, slog.Bool("truncated", true))
		}
	case event.Message != nil:
		attrs = append(attrs,
			slog.String("kind", event.Message.Kind),
			slog.String("channel", event.Message.Channel),
		)
		if event.Message.Sender != "" {
			attrs = append(attrs, slog.String("sender", event.Message.Sender))
		}
		if event.Message.Service != "" {
			attrs = append(attrs, slog.String("service", event.Message.Service))
		}
		if event.Message.CallID != "" {
			attrs = append(attrs, slog.String("call_id", event.Message.CallID))
		}
		if event.Message.Route != "" {
			attrs = append(attrs, slog.String("route", event.Message.Route))
		}
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
	case event.Control != nil:
		attrs = append(attrs, slog.String("ctrl_type", event.Control.Type.String()))
		if event.Control.Channel != "" {
			attrs = append(attrs, slog.String("channel", event.Control.Channel))
		}
	case event.Error != nil:
		attrs = append(attrs,
			slog.String("error_layer", event.Error.Layer.String()),
			slog.String("error_msg", event.Error.Message),
			slog.String("error_context", event.Error.Context),
		)
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "protocol", attrs...)
}

var _ Logger = (*SlogAdapter)(nil)
