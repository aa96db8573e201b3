package diskstore

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// diskTracer and diskMetrics follow the same deferred-wiring idiom as the
// rpc package: otel.Tracer/Meter resolve to no-ops until
// internal/metrics.Init installs a real provider.
var diskTracer = otel.Tracer("github.com/mindoo/mindoo-core/diskstore")

var diskMetrics struct {
	putCount        metric.Int64Counter
	getCount        metric.Int64Counter
	compactionCount metric.Int64Counter
}

func init() {
	m := otel.Meter("github.com/mindoo/mindoo-core/diskstore")
	diskMetrics.putCount, _ = m.Int64Counter("mdb.diskstore.put_entries_count",
		metric.WithDescription("Entries accepted by PutEntries"),
		metric.WithUnit("{entry}"),
	)
	diskMetrics.getCount, _ = m.Int64Counter("mdb.diskstore.get_entries_count",
		metric.WithDescription("Entries returned by GetEntries"),
		metric.WithUnit("{entry}"),
	)
	diskMetrics.compactionCount, _ = m.Int64Counter("mdb.diskstore.compaction_count",
		metric.WithDescription("Snapshot compactions performed"),
		metric.WithUnit("{compaction}"),
	)
}
