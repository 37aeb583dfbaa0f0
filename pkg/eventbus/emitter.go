package eventbus

import (
	"context"
	"log/slog"
)

// Emitter is the narrow fire-and-continue surface handed to the engines.
// A transport failure is logged and swallowed: notification delivery must
// never unwind the state transition that triggered it.
type Emitter struct {
	publisher EventPublisher
	logger    *slog.Logger
}

func NewEmitter(publisher EventPublisher, logger *slog.Logger) *Emitter {
	return &Emitter{
		publisher: publisher,
		logger:    logger,
	}
}

// Emit publishes the event keyed by entity. Errors are reported as
// telemetry only.
func (e *Emitter) Emit(ctx context.Context, key string, event Event) {
	if e == nil || e.publisher == nil {
		return
	}

	err := e.publisher.Publish(ctx, key, event)
	if err != nil {
		e.logger.WarnContext(ctx, "event emission failed",
			"event_type", event.GetType(),
			"key", key,
			"error", err,
		)
	}
}
