package middleware

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/pengcunfu/YushuRobotPPT2IMG/job"
)

// meterName is the instrumentation scope name for conversion metrics.
const meterName = "github.com/pengcunfu/YushuRobotPPT2IMG"

// Metrics returns middleware that records per-conversion metrics using
// the global OTel MeterProvider. If no MeterProvider is configured, noop
// instruments are used and this middleware becomes a pass-through.
//
// Instruments:
//   - ppt2img.job.duration (Float64Histogram): conversion time in seconds,
//     with attributes: format, status ("ok" or "error")
//   - ppt2img.job.conversions (Int64Counter): total conversions,
//     with attributes: format, status ("ok" or "error")
func Metrics() Middleware {
	meter := otel.Meter(meterName)
	return MetricsWithMeter(meter)
}

// MetricsWithMeter returns metrics middleware using the provided meter.
// This variant allows injecting a specific MeterProvider for testing.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// Create instruments once at middleware construction time.
	// OTel instruments are safe for concurrent use. On error, the API
	// returns noop instruments so the middleware degrades gracefully.
	duration, dErr := meter.Float64Histogram(
		"ppt2img.job.duration",
		metric.WithDescription("Duration of deck conversion in seconds"),
		metric.WithUnit("s"),
	)
	_ = dErr // noop fallback guaranteed by OTel API contract

	conversions, cErr := meter.Int64Counter(
		"ppt2img.job.conversions",
		metric.WithDescription("Total number of deck conversions"),
		metric.WithUnit("{conversion}"),
	)
	_ = cErr // noop fallback guaranteed by OTel API contract

	return func(ctx context.Context, j *job.Job, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		if err != nil {
			status = "error"
		}

		attrs := metric.WithAttributes(
			attribute.String("format", sourceFormat(j)),
			attribute.String("status", status),
		)

		duration.Record(ctx, elapsed, attrs)
		conversions.Add(ctx, 1, attrs)

		return err
	}
}

// sourceFormat returns the lowercase source file extension without the
// dot, or "unknown" when the name carries none.
func sourceFormat(j *job.Job) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(j.Source.Name)), ".")
	if ext == "" {
		return "unknown"
	}
	return ext
}
