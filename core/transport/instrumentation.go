package transport

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "github.com/koscakluka/ema-live/core/transport"

var (
	meter  = otel.Meter(scopeName)
	logger = otelslog.NewLogger(scopeName)
)

var connectionsGauge, _ = meter.Int64UpDownCounter("client_connections",
	metric.WithDescription("Open client websocket connections"),
	metric.WithUnit("{connection}"),
)
