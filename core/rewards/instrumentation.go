package rewards

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "github.com/koscakluka/ema-live/core/rewards"

var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)
	logger = otelslog.NewLogger(scopeName)
)

var (
	tasksCounter, _ = meter.Int64Counter("reward_tasks",
		metric.WithDescription("Reward tasks by terminal status"),
		metric.WithUnit("{task}"),
	)
	pollsHistogram, _ = meter.Int64Histogram("reward_confirmation_polls",
		metric.WithDescription("Receipt polls needed before a reward task finished"),
		metric.WithUnit("{poll}"),
	)
)
