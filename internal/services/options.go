package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"workflow-suite/core/internal/events"
	"workflow-suite/core/internal/logging"
	"workflow-suite/core/internal/observability"
)

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = logging.NewLogger()
	}
	if o.Publisher == nil {
		o.Publisher = events.NoopPublisher{}
	}
	if o.Instruments == nil {
		inst, err := observability.NewInstruments()
		if err != nil {
			inst, _ = observability.NewInstrumentsFrom(tracenoop.NewTracerProvider(), metricnoop.NewMeterProvider())
		}
		o.Instruments = inst
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
	return o
}

// publish emits event after a committed change. Failures are logged and
// never surface to the caller.
func (o Options) publish(ctx context.Context, event events.Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = o.Now()
	}
	if err := o.Publisher.Publish(ctx, event); err != nil {
		o.Logger.WithContext(ctx).Warn("failed to publish event", "type", event.Type, "entity_id", event.EntityID, "error", err)
	}
}
