package eventbus

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "github.com/koscakluka/ema-live/core/eventbus"

var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)
	logger = otelslog.NewLogger(scopeName)
)

var eventsCounter, _ = meter.Int64Counter("bus_events",
	metric.WithDescription("Bus events by type and routing outcome"),
	metric.WithUnit("{event}"),
)
