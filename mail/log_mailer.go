package mail

import (
	"context"

	"github.com/mohitkumar/drip/logger"
	"go.uber.org/zap"
)

var _ Mailer = new(LogMailer)

// LogMailer writes messages to the process log instead of sending them.
type LogMailer struct {
	From string
}

func NewLogMailer(from string) *LogMailer {
	return &LogMailer{From: from}
}

func (m *LogMailer) Send(ctx context.Context, to string, subject string, body string) error {
	if err := checkRecipient(to); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return Transient(err)
	}
	logger.Info("mail", zap.String("from", m.From), zap.String("to", to), zap.String("subject", subject), zap.Int("bodyBytes", len(body)))
	return nil
}
