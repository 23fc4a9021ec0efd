package log

import (
	"context"
	"encoding/hex"
	"log/slog"
)

// SlogAdapter writes protocol events to an slog.Logger.
// Useful for development when you want to see protocol events in console.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a new SlogAdapter that writes to the given slog.Logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event to the slog logger at Debug level.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("direction", event.Direction.String()),
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
	}

	if event.Src != 0 {
		attrs = append(attrs, slog.String("src", hexAddr(event.Src)))
	}
	if event.Dst != 0 {
		attrs = append(attrs, slog.String("dst", hexAddr(event.Dst)))
	}
	if event.Seq != 0 {
		attrs = append(attrs, slog.Uint64("seq", uint64(event.Seq)))
	}

	switch {
	case event.Frame != nil:
		attrs = append(attrs,
			slog.Int("frame_size", event.Frame.Size),
			slog.Int("kind", int(event.Frame.Kind)))
		if len(event.Frame.Data) > 0 {
			attrs = append(attrs, slog.String("data", hex.EncodeToString(event.Frame.Data)))
		}
	case event.PDU != nil:
		attrs = append(attrs,
			slog.Bool("control", event.PDU.Control),
			slog.Bool("segmented", event.PDU.Segmented),
			slog.Int("ttl", int(event.PDU.TTL)))
		if len(event.PDU.Opcode) > 0 {
			attrs = append(attrs, slog.String("opcode", hex.EncodeToString(event.PDU.Opcode)))
		}
		if event.PDU.Relayed {
			attrs = append(attrs, slog.Bool("relayed", true))
		}
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("entity", event.StateChange.Entity.String()),
			slog.String("new_state", event.StateChange.NewState))
		if event.StateChange.OldState != "" {
			attrs = append(attrs, slog.String("old_state", event.StateChange.OldState))
		}
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
	case event.Error != nil:
		attrs = append(attrs,
			slog.String("error_layer", event.Error.Layer.String()),
			slog.String("error", event.Error.Message))
		if event.Error.Context != "" {
			attrs = append(attrs, slog.String("context", event.Error.Context))
		}
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "mesh event", attrs...)
}

func hexAddr(v uint16) string {
	return hex.EncodeToString([]byte{byte(v >> 8), byte(v)})
}

// Compile-time interface satisfaction check.
var _ Logger = (*SlogAdapter)(nil)
