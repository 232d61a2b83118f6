package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mohitkumar/drip/mail"
	"github.com/mohitkumar/drip/model"
)

type Outcome string

const OUTCOME_SUCCESS Outcome = "SUCCESS"
const OUTCOME_TRANSIENT Outcome = "TRANSIENT"
const OUTCOME_PERMANENT Outcome = "PERMANENT"

type Result struct {
	Outcome Outcome
	Err     error
	Latency time.Duration
}

// JobExecutor performs exactly one send attempt for a claimed job. It never
// touches the store; the dispatcher records the outcome.
type JobExecutor struct {
	mailer  mail.Mailer
	timeout time.Duration
}

func NewJobExecutor(mailer mail.Mailer, timeout time.Duration) *JobExecutor {
	return &JobExecutor{
		mailer:  mailer,
		timeout: timeout,
	}
}

func (e *JobExecutor) Execute(ctx context.Context, job *model.JobSpec) (res Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res = Result{Outcome: OUTCOME_TRANSIENT, Err: fmt.Errorf("mailer panic: %v", r)}
		}
		res.Latency = time.Since(start)
	}()

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	err := e.mailer.Send(ctx, job.Recipient, job.Subject, job.Body)
	return Result{Outcome: Classify(err), Err: err}
}

// Classify treats anything not explicitly permanent as retryable, including
// deadline expiry and unknown errors.
func Classify(err error) Outcome {
	if err == nil {
		return OUTCOME_SUCCESS
	}
	var perm *mail.PermanentError
	if errors.As(err, &perm) {
		return OUTCOME_PERMANENT
	}
	return OUTCOME_TRANSIENT
}
