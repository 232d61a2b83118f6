package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/mohitkumar/drip/analytics"
	"github.com/mohitkumar/drip/archive"
	"github.com/mohitkumar/drip/executor"
	"github.com/mohitkumar/drip/logger"
	"github.com/mohitkumar/drip/metrics"
	"github.com/mohitkumar/drip/model"
	"github.com/mohitkumar/drip/persistence"
	"github.com/mohitkumar/drip/util"
	"go.uber.org/zap"
)

// Executor performs one send attempt for a claimed job.
type Executor interface {
	Execute(ctx context.Context, job *model.JobSpec) executor.Result
}

// Dispatcher claims due jobs and runs them on a bounded pool. Several
// dispatchers may share one store: MarkRunning is the only coordination
// between them.
type Dispatcher struct {
	name      string
	conf      Config
	store     persistence.JobStore
	executor  Executor
	collector analytics.JobDataCollector
	archiver  archive.Archiver
	pool      *util.Worker
	tickers   []*util.TickWorker
	wg        *sync.WaitGroup
	now       func() time.Time
}

// NewDispatcher builds a dispatcher. archiver may be nil, in which case
// expired jobs are purged without being archived.
func NewDispatcher(name string, conf Config, store persistence.JobStore, exec Executor,
	collector analytics.JobDataCollector, archiver archive.Archiver, wg *sync.WaitGroup) *Dispatcher {
	if collector == nil {
		collector = analytics.NoopDataCollector{}
	}
	return &Dispatcher{
		name:      name,
		conf:      conf,
		store:     store,
		executor:  exec,
		collector: collector,
		archiver:  archiver,
		pool:      util.NewWorker(name+"-pool", wg, conf.Concurrency),
		wg:        wg,
		now:       time.Now,
	}
}

func (d *Dispatcher) Name() string {
	return d.name
}

func (d *Dispatcher) Start() error {
	if err := d.conf.Validate(); err != nil {
		return err
	}
	d.pool.Start()
	ctx := context.Background()
	d.tickers = append(d.tickers,
		util.NewTickWorker(d.name+"-dispatch", d.conf.PollInterval, func() { d.DispatchOnce(ctx) }, d.wg),
		util.NewTickWorker(d.name+"-recovery", d.conf.RecoveryInterval, func() { d.RecoverOnce(ctx) }, d.wg),
	)
	if d.conf.Retention > 0 {
		d.tickers = append(d.tickers,
			util.NewTickWorker(d.name+"-purge", d.conf.PurgeInterval, func() { d.PurgeOnce(ctx) }, d.wg))
	}
	for _, tw := range d.tickers {
		tw.Start()
	}
	logger.Info("dispatcher started", zap.String("dispatcher", d.name), zap.Int("concurrency", d.conf.Concurrency))
	return nil
}

// Stop halts polling and waits for a poll in progress, so every job it
// claimed reaches the pool. Jobs in the pool still run to completion; the
// caller waits on the shared WaitGroup.
func (d *Dispatcher) Stop() error {
	for _, tw := range d.tickers {
		tw.Stop()
	}
	d.pool.Stop()
	logger.Info("dispatcher stopped", zap.String("dispatcher", d.name))
	return nil
}

// DispatchOnce claims up to min(BatchSize, idle slots) due jobs and submits
// them to the pool. It returns the number of jobs submitted.
func (d *Dispatcher) DispatchOnce(ctx context.Context) int {
	limit := d.pool.Idle()
	if limit == 0 {
		return 0
	}
	if limit > d.conf.BatchSize {
		limit = d.conf.BatchSize
	}
	due, err := d.store.QueryDue(ctx, d.now(), limit)
	if err != nil {
		logger.Error("error while querying due jobs", zap.String("dispatcher", d.name), zap.Error(err))
		return 0
	}
	submitted := 0
	for _, job := range due {
		claimed, err := d.store.MarkRunning(ctx, job.Id, d.now())
		if errors.Is(err, persistence.ErrAlreadyClaimed) || errors.Is(err, persistence.ErrJobNotFound) {
			logger.Debug("job claimed elsewhere", zap.String("jobId", job.Id))
			continue
		}
		if err != nil {
			logger.Error("error while claiming job", zap.String("jobId", job.Id), zap.Error(err))
			continue
		}
		metrics.Add(ctx, metrics.JobsClaimed, 1)
		if !d.pool.Submit(func() { d.run(claimed) }) {
			// the recovery sweep returns the job to SCHEDULED once it is stale
			logger.Error("worker pool full, leaving claimed job for recovery", zap.String("jobId", claimed.Id))
			continue
		}
		submitted++
	}
	return submitted
}

func (d *Dispatcher) run(job *model.JobSpec) {
	ctx := context.Background()
	res := d.executor.Execute(ctx, job)
	metrics.RecordLatency(ctx, string(res.Outcome), res.Latency)

	switch res.Outcome {
	case executor.OUTCOME_SUCCESS:
		err := d.withStoreRetry(func() error { return d.store.MarkCompleted(ctx, job.Id, d.now()) })
		if d.recorded(job, "completed", err) {
			metrics.Add(ctx, metrics.JobsCompleted, 1)
			d.collector.RecordSent(job, res.Latency)
		}
	case executor.OUTCOME_PERMANENT:
		d.fail(ctx, job, errText(res.Err))
	default:
		attempts := job.AttemptCount + 1
		if attempts >= d.conf.MaxAttempts {
			d.fail(ctx, job, fmt.Sprintf("attempts exhausted after %d tries: %s", attempts, errText(res.Err)))
			return
		}
		next := d.now().Add(d.retryDelay(attempts))
		reason := errText(res.Err)
		err := d.withStoreRetry(func() error { return d.store.Reschedule(ctx, job.Id, next, reason, d.now()) })
		if d.recorded(job, "rescheduled", err) {
			metrics.Add(ctx, metrics.JobsRetried, 1)
			d.collector.RecordRetry(job, reason, next)
			logger.Info("job rescheduled", zap.String("jobId", job.Id), zap.Int("attempt", attempts), zap.Time("fireAt", next), zap.String("reason", reason))
		}
	}
}

func (d *Dispatcher) fail(ctx context.Context, job *model.JobSpec, reason string) {
	err := d.withStoreRetry(func() error { return d.store.MarkFailed(ctx, job.Id, reason, d.now()) })
	if d.recorded(job, "failed", err) {
		metrics.Add(ctx, metrics.JobsFailed, 1)
		d.collector.RecordFailure(job, reason)
		logger.Warn("job failed", zap.String("jobId", job.Id), zap.String("flowId", job.FlowId), zap.String("reason", reason))
	}
}

// recorded logs the outcome of a state write and reports whether it landed.
// ErrInvalidTransition means the job left RUNNING meanwhile, for example
// because its flow was cancelled.
func (d *Dispatcher) recorded(job *model.JobSpec, transition string, err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, persistence.ErrInvalidTransition) || errors.Is(err, persistence.ErrJobNotFound) {
		logger.Info("job left RUNNING before outcome was recorded", zap.String("jobId", job.Id), zap.String("transition", transition))
		return false
	}
	logger.Error("error recording job outcome", zap.String("jobId", job.Id), zap.String("transition", transition), zap.Error(err))
	return false
}

// withStoreRetry retries storage layer failures a few times. Any other error
// is final.
func (d *Dispatcher) withStoreRetry(fn func() error) error {
	interval := d.conf.StoreRetryInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), uint64(d.conf.StoreRetries))
	return backoff.Retry(func() error {
		err := fn()
		var storageErr persistence.StorageLayerError
		if err != nil && !errors.As(err, &storageErr) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}

// retryDelay is the exponential backoff before the given attempt number,
// 1 being the first retry.
func (d *Dispatcher) retryDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.conf.BackoffInitial
	b.MaxInterval = d.conf.BackoffMax
	b.Multiplier = d.conf.BackoffMultiplier
	b.RandomizationFactor = d.conf.BackoffJitter
	b.MaxElapsedTime = 0
	b.Reset()
	delay := b.InitialInterval
	for i := 0; i < attempt; i++ {
		delay = b.NextBackOff()
	}
	return delay
}

// RecoverOnce returns jobs stuck in RUNNING past StaleAfter to SCHEDULED, or
// fails them when another attempt would exceed MaxAttempts.
func (d *Dispatcher) RecoverOnce(ctx context.Context) int {
	cutoff := d.now().Add(-d.conf.StaleAfter)
	stale, err := d.store.QueryStale(ctx, cutoff, d.conf.BatchSize)
	if err != nil {
		logger.Error("error while querying stale jobs", zap.String("dispatcher", d.name), zap.Error(err))
		return 0
	}
	recovered := 0
	for _, job := range stale {
		if job.AttemptCount+1 >= d.conf.MaxAttempts {
			d.fail(ctx, job, fmt.Sprintf("stale claim after %d attempts", job.AttemptCount+1))
			recovered++
			continue
		}
		ok, err := d.store.Requeue(ctx, job.Id, cutoff, d.now())
		if err != nil {
			logger.Error("error while requeueing stale job", zap.String("jobId", job.Id), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		recovered++
		metrics.Add(ctx, metrics.JobsRequeued, 1)
		d.collector.RecordRequeue(job)
		logger.Warn("stale job requeued", zap.String("jobId", job.Id), zap.Time("claimedAt", job.ClaimedAt))
	}
	return recovered
}

// PurgeOnce archives and deletes terminal jobs older than Retention. A batch
// that fails to archive is kept for the next run.
func (d *Dispatcher) PurgeOnce(ctx context.Context) int {
	if d.conf.Retention <= 0 {
		return 0
	}
	expired, err := d.store.QueryExpired(ctx, d.now().Add(-d.conf.Retention), d.conf.BatchSize)
	if err != nil {
		logger.Error("error while querying expired jobs", zap.String("dispatcher", d.name), zap.Error(err))
		return 0
	}
	if len(expired) == 0 {
		return 0
	}
	if d.archiver != nil {
		if err := d.archiver.Archive(ctx, expired); err != nil {
			logger.Error("error while archiving expired jobs", zap.Int("count", len(expired)), zap.Error(err))
			return 0
		}
	}
	if err := d.store.Purge(ctx, expired); err != nil {
		logger.Error("error while purging expired jobs", zap.Int("count", len(expired)), zap.Error(err))
		return 0
	}
	metrics.Add(ctx, metrics.JobsPurged, len(expired))
	logger.Info("purged expired jobs", zap.Int("count", len(expired)))
	return len(expired)
}

func errText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
