package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opencensus.io/stats/view"
)

func sum(t *testing.T, name string) float64 {
	rows, err := view.RetrieveData(name)
	require.NoError(t, err)
	if len(rows) == 0 {
		return 0
	}
	return rows[0].Data.(*view.SumData).Value
}

func TestCounters(t *testing.T) {
	require.NoError(t, RegisterViews())
	ctx := context.Background()

	before := sum(t, JobsClaimed.Name())
	Add(ctx, JobsClaimed, 3)
	Add(ctx, JobsClaimed, 0)
	Add(ctx, JobsClaimed, 2)
	require.Eventually(t, func() bool {
		return sum(t, JobsClaimed.Name()) == before+5
	}, time.Second, 10*time.Millisecond)
}

func TestLatency(t *testing.T) {
	require.NoError(t, RegisterViews())
	RecordLatency(context.Background(), "SUCCESS", 40*time.Millisecond)

	require.Eventually(t, func() bool {
		rows, err := view.RetrieveData(SendLatency.Name())
		if err != nil {
			return false
		}
		for _, row := range rows {
			if len(row.Tags) == 1 && row.Tags[0].Value == "SUCCESS" {
				return row.Data.(*view.DistributionData).Count >= 1
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestLogExporter(t *testing.T) {
	require.NoError(t, RegisterViews())
	stop := StartLogExporter(10 * time.Millisecond)
	defer stop()
	LogExporter{}.ExportView(&view.Data{
		View: Views()[0],
		Rows: []*view.Row{{Data: &view.SumData{Value: 1}}},
	})
}
