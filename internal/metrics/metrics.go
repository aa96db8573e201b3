// Package metrics installs the global OTel MeterProvider every other
// package's package-level instruments register against, grounded on the
// teacher's internal/storage/dolt deferred-wiring style: instruments call
// otel.Meter(...) at init time and are no-ops until Init runs.
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Init installs a global MeterProvider. When enabled is false, the
// process keeps whatever no-op provider otel.Meter() resolves to by
// default — every instrument call still succeeds, it just records
// nothing. When enabled, metrics are periodically exported as
// line-delimited JSON to stdout for local operator visibility; there is
// no OTLP collector assumed to be running.
func Init(enabled bool) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }
	if !enabled {
		return noop, nil
	}

	exporter, err := stdoutmetric.New()
	if err != nil {
		return noop, err
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(30*time.Second))),
	)
	otel.SetMeterProvider(provider)
	return provider.Shutdown, nil
}
