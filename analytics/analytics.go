package analytics

import (
	"fmt"
	"time"

	"github.com/mohitkumar/drip/model"
)

type DataCollectorConfig struct {
	FileName      string
	CollectorType DataCollectorType
}

type DataCollectorType string

const LOG_FILE_DATA_COLLECTOR DataCollectorType = "LOG_FILE_DATA_COLLECTOR"
const NOOP_DATA_COLLECTOR DataCollectorType = "NOOP_DATA_COLLECTOR"

// JobDataCollector records one line per send outcome. It is separate from the
// process log so outcomes can be shipped and queried on their own.
type JobDataCollector interface {
	RecordSent(job *model.JobSpec, latency time.Duration)
	RecordRetry(job *model.JobSpec, reason string, nextFireAt time.Time)
	RecordFailure(job *model.JobSpec, reason string)
	RecordRequeue(job *model.JobSpec)
	Close() error
}

func NewDataCollector(config DataCollectorConfig) (JobDataCollector, error) {
	switch config.CollectorType {
	case LOG_FILE_DATA_COLLECTOR:
		return NewLogFileDataCollector(config.FileName)
	case NOOP_DATA_COLLECTOR, "":
		return NoopDataCollector{}, nil
	}
	return nil, fmt.Errorf("unknown data collector %s", config.CollectorType)
}

type NoopDataCollector struct{}

func (NoopDataCollector) RecordSent(job *model.JobSpec, latency time.Duration)                {}
func (NoopDataCollector) RecordRetry(job *model.JobSpec, reason string, nextFireAt time.Time) {}
func (NoopDataCollector) RecordFailure(job *model.JobSpec, reason string)                     {}
func (NoopDataCollector) RecordRequeue(job *model.JobSpec)                                    {}
func (NoopDataCollector) Close() error                                                        { return nil }
