package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"
	gomail "github.com/wneessen/go-mail"
)

var _ Mailer = new(SMTPMailer)

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// ImplicitTLS connects with TLS from the start, usually on port 465.
	// Otherwise STARTTLS is used when the server offers it.
	ImplicitTLS bool
	// InsecureSkipVerify disables certificate checks.
	InsecureSkipVerify bool
}

// SMTPMailer opens one connection per message. The connection deadline
// follows the context, so an expired context aborts the exchange.
type SMTPMailer struct {
	conf   SMTPConfig
	dialer *net.Dialer
	now    func() time.Time
}

func NewSMTPMailer(conf SMTPConfig) *SMTPMailer {
	return &SMTPMailer{
		conf:   conf,
		dialer: &net.Dialer{},
		now:    time.Now,
	}
}

func (m *SMTPMailer) Send(ctx context.Context, to string, subject string, body string) error {
	if err := checkRecipient(to); err != nil {
		return err
	}
	msg, err := m.buildMessage(to, subject, body)
	if err != nil {
		return Permanent(err)
	}
	client, err := gomail.NewClient(m.conf.Host, m.clientOptions(ctx)...)
	if err != nil {
		return Permanent(fmt.Errorf("smtp client: %w", err))
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return m.classify(ctx, err)
	}
	return nil
}

func (m *SMTPMailer) clientOptions(ctx context.Context) []gomail.Option {
	opts := []gomail.Option{
		gomail.WithPort(m.conf.Port),
		gomail.WithTLSConfig(&tls.Config{ServerName: m.conf.Host, InsecureSkipVerify: m.conf.InsecureSkipVerify}),
		gomail.WithDialContextFunc(m.dialContext(ctx)),
	}
	if m.conf.ImplicitTLS {
		opts = append(opts, gomail.WithSSL())
	} else {
		opts = append(opts, gomail.WithTLSPolicy(gomail.TLSOpportunistic))
	}
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 {
			opts = append(opts, gomail.WithTimeout(remaining))
		}
	}
	if len(m.conf.Username) != 0 {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(m.conf.Username),
			gomail.WithPassword(m.conf.Password),
		)
	}
	return opts
}

// dialContext bounds the whole session, greeting included, by the deadline
// of the send context.
func (m *SMTPMailer) dialContext(sendCtx context.Context) gomail.DialContextFunc {
	return func(ctx context.Context, network string, address string) (net.Conn, error) {
		conn, err := m.dialer.DialContext(ctx, network, address)
		if err != nil {
			return nil, err
		}
		if deadline, ok := sendCtx.Deadline(); ok {
			conn.SetDeadline(deadline)
		}
		return conn, nil
	}
}

func (m *SMTPMailer) buildMessage(to string, subject string, body string) (*gomail.Msg, error) {
	msg := gomail.NewMsg()
	if err := msg.From(m.conf.From); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", m.conf.From, err)
	}
	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", to, err)
	}
	msg.Subject(subject)
	msg.SetDateWithValue(m.now())
	msg.SetMessageIDWithValue(fmt.Sprintf("%s@%s", uuid.NewString(), senderDomain(m.conf.From)))
	msg.SetBodyString(gomail.TypeTextPlain, body)
	return msg, nil
}

func senderDomain(from string) string {
	if at := strings.LastIndex(from, "@"); at >= 0 {
		return strings.Trim(from[at+1:], ">")
	}
	return "localhost"
}

// classify maps a send error to the transient or permanent class. Reply
// codes 5xx are permanent. Everything else, including timeouts and broken
// connections, is transient.
func (m *SMTPMailer) classify(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Transient(fmt.Errorf("%w: %v", ctxErr, err))
	}
	// the connection deadline can fire just before the context notices
	if deadline, ok := ctx.Deadline(); ok && !time.Now().Before(deadline) {
		return Transient(fmt.Errorf("%w: %v", context.DeadlineExceeded, err))
	}
	if replyCode(err) >= 500 {
		return Permanent(err)
	}
	return Transient(err)
}

// replyCode returns the SMTP reply code carried by err, or 0.
func replyCode(err error) int {
	var sendErr *gomail.SendError
	if errors.As(err, &sendErr) {
		if sendErr.IsTemp() {
			return 400
		}
		if code := sendErr.ErrorCode(); code != 0 {
			return code
		}
	}
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		return tpErr.Code
	}
	return 0
}
