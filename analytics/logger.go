package analytics

import (
	"os"
	"time"

	"github.com/mohitkumar/drip/model"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LogFileDataCollector struct {
	fileName string
	file     *os.File
	logger   *zap.Logger
}

func NewLogFileDataCollector(fileName string) (*LogFileDataCollector, error) {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.StacktraceKey = ""
	encoderConfig.CallerKey = ""
	fileEncoder := zapcore.NewJSONEncoder(encoderConfig)
	logFile, err := os.OpenFile(fileName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	core := zapcore.NewCore(fileEncoder, zapcore.AddSync(logFile), zapcore.InfoLevel)
	return &LogFileDataCollector{
		fileName: fileName,
		file:     logFile,
		logger:   zap.New(core),
	}, nil
}

func jobFields(job *model.JobSpec) []zap.Field {
	return []zap.Field{
		zap.String("jobId", job.Id),
		zap.String("flowId", job.FlowId),
		zap.Int("blockIndex", job.BlockIndex),
		zap.String("recipient", job.Recipient),
		zap.Int("attempt", job.AttemptCount+1),
	}
}

func (lc *LogFileDataCollector) RecordSent(job *model.JobSpec, latency time.Duration) {
	lc.logger.Info("sent", append(jobFields(job), zap.Duration("latency", latency))...)
}

func (lc *LogFileDataCollector) RecordRetry(job *model.JobSpec, reason string, nextFireAt time.Time) {
	lc.logger.Info("retry", append(jobFields(job), zap.String("reason", reason), zap.Time("nextFireAt", nextFireAt))...)
}

func (lc *LogFileDataCollector) RecordFailure(job *model.JobSpec, reason string) {
	lc.logger.Info("failure", append(jobFields(job), zap.String("reason", reason))...)
}

func (lc *LogFileDataCollector) RecordRequeue(job *model.JobSpec) {
	lc.logger.Info("requeue", jobFields(job)...)
}

func (lc *LogFileDataCollector) Close() error {
	_ = lc.logger.Sync()
	return lc.file.Close()
}
