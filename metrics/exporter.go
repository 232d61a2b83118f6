package metrics

import (
	"time"

	"github.com/mohitkumar/drip/logger"
	"go.opencensus.io/stats/view"
	"go.uber.org/zap"
)

// LogExporter writes every reported view to the process log.
type LogExporter struct{}

var _ view.Exporter = LogExporter{}

func (LogExporter) ExportView(vd *view.Data) {
	for _, row := range vd.Rows {
		fields := []zap.Field{zap.String("view", vd.View.Name)}
		for _, t := range row.Tags {
			fields = append(fields, zap.String(t.Key.Name(), t.Value))
		}
		switch data := row.Data.(type) {
		case *view.SumData:
			fields = append(fields, zap.Float64("sum", data.Value))
		case *view.CountData:
			fields = append(fields, zap.Int64("count", data.Value))
		case *view.DistributionData:
			fields = append(fields, zap.Int64("count", data.Count), zap.Float64("mean", data.Mean), zap.Float64("max", data.Max))
		case *view.LastValueData:
			fields = append(fields, zap.Float64("value", data.Value))
		}
		logger.Info("metric", fields...)
	}
}

// StartLogExporter registers the log exporter and returns a function that
// unregisters it.
func StartLogExporter(period time.Duration) func() {
	exporter := LogExporter{}
	view.SetReportingPeriod(period)
	view.RegisterExporter(exporter)
	return func() {
		view.UnregisterExporter(exporter)
	}
}
