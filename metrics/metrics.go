package metrics

import (
	"context"
	"time"

	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

var (
	JobsScheduled = stats.Int64("drip/jobs_scheduled", "Jobs created by schedule requests", stats.UnitDimensionless)
	JobsClaimed   = stats.Int64("drip/jobs_claimed", "Jobs claimed by the dispatcher", stats.UnitDimensionless)
	JobsCompleted = stats.Int64("drip/jobs_completed", "Jobs sent successfully", stats.UnitDimensionless)
	JobsRetried   = stats.Int64("drip/jobs_retried", "Jobs rescheduled after a transient failure", stats.UnitDimensionless)
	JobsFailed    = stats.Int64("drip/jobs_failed", "Jobs moved to FAILED", stats.UnitDimensionless)
	JobsRequeued  = stats.Int64("drip/jobs_requeued", "Stale RUNNING jobs moved back to SCHEDULED", stats.UnitDimensionless)
	JobsPurged    = stats.Int64("drip/jobs_purged", "Terminal jobs removed by retention", stats.UnitDimensionless)
	JobsCancelled = stats.Int64("drip/jobs_cancelled", "Jobs cancelled with their flow", stats.UnitDimensionless)

	SendLatency = stats.Float64("drip/send_latency", "Latency of one send attempt", stats.UnitMilliseconds)

	KeyOutcome = tag.MustNewKey("outcome")
)

var counters = []*stats.Int64Measure{
	JobsScheduled, JobsClaimed, JobsCompleted, JobsRetried, JobsFailed, JobsRequeued, JobsPurged, JobsCancelled,
}

func Views() []*view.View {
	views := make([]*view.View, 0, len(counters)+1)
	for _, m := range counters {
		views = append(views, &view.View{
			Name:        m.Name(),
			Description: m.Description(),
			Measure:     m,
			Aggregation: view.Sum(),
		})
	}
	views = append(views, &view.View{
		Name:        SendLatency.Name(),
		Description: SendLatency.Description(),
		Measure:     SendLatency,
		TagKeys:     []tag.Key{KeyOutcome},
		Aggregation: view.Distribution(5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000),
	})
	return views
}

func RegisterViews() error {
	return view.Register(Views()...)
}

func Add(ctx context.Context, m *stats.Int64Measure, n int) {
	if n == 0 {
		return
	}
	stats.Record(ctx, m.M(int64(n)))
}

func RecordLatency(ctx context.Context, outcome string, d time.Duration) {
	stats.RecordWithTags(ctx, []tag.Mutator{tag.Upsert(KeyOutcome, outcome)},
		SendLatency.M(float64(d)/float64(time.Millisecond)))
}
