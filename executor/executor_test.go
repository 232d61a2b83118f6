package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mohitkumar/drip/mail"
	"github.com/mohitkumar/drip/model"
	"github.com/stretchr/testify/require"
)

type mailerFunc func(ctx context.Context, to string, subject string, body string) error

func (f mailerFunc) Send(ctx context.Context, to string, subject string, body string) error {
	return f(ctx, to, subject, body)
}

var job = &model.JobSpec{Id: "j1", Recipient: "a@x.com", Subject: "s", Body: "b"}

func TestExecuteOutcomes(t *testing.T) {
	for name, tc := range map[string]struct {
		err     error
		outcome Outcome
	}{
		"success":   {err: nil, outcome: OUTCOME_SUCCESS},
		"transient": {err: mail.Transient(errors.New("451")), outcome: OUTCOME_TRANSIENT},
		"permanent": {err: mail.Permanent(errors.New("550")), outcome: OUTCOME_PERMANENT},
		"unknown":   {err: errors.New("boom"), outcome: OUTCOME_TRANSIENT},
		"wrapped permanent": {
			err:     errors.Join(errors.New("ctx"), mail.Permanent(errors.New("535"))),
			outcome: OUTCOME_PERMANENT,
		},
	} {
		t.Run(name, func(t *testing.T) {
			e := NewJobExecutor(mailerFunc(func(ctx context.Context, to, subject, body string) error {
				return tc.err
			}), time.Second)
			res := e.Execute(context.Background(), job)
			require.Equal(t, tc.outcome, res.Outcome)
			require.Equal(t, tc.err, res.Err)
		})
	}
}

func TestExecutePassesJobFields(t *testing.T) {
	var got []string
	e := NewJobExecutor(mailerFunc(func(ctx context.Context, to, subject, body string) error {
		got = []string{to, subject, body}
		return nil
	}), time.Second)
	e.Execute(context.Background(), job)
	require.Equal(t, []string{"a@x.com", "s", "b"}, got)
}

func TestExecuteTimeoutIsTransient(t *testing.T) {
	e := NewJobExecutor(mailerFunc(func(ctx context.Context, to, subject, body string) error {
		<-ctx.Done()
		return ctx.Err()
	}), 20*time.Millisecond)
	res := e.Execute(context.Background(), job)
	require.Equal(t, OUTCOME_TRANSIENT, res.Outcome)
	require.ErrorIs(t, res.Err, context.DeadlineExceeded)
	require.GreaterOrEqual(t, res.Latency, 20*time.Millisecond)
}

func TestExecuteRecoversPanic(t *testing.T) {
	e := NewJobExecutor(mailerFunc(func(ctx context.Context, to, subject, body string) error {
		panic("bad mailer")
	}), time.Second)
	res := e.Execute(context.Background(), job)
	require.Equal(t, OUTCOME_TRANSIENT, res.Outcome)
	require.Error(t, res.Err)
}
