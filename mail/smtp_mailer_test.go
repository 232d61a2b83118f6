package mail

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeSMTPServer struct {
	ln        net.Listener
	rcptReply string
	silent    bool

	mu       sync.Mutex
	messages []string
}

func startFakeSMTPServer(t *testing.T, rcptReply string, silent bool) *fakeSMTPServer {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &fakeSMTPServer{ln: ln, rcptReply: rcptReply, silent: silent}
	go srv.serve()
	t.Cleanup(func() { ln.Close() })
	return srv
}

func (s *fakeSMTPServer) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *fakeSMTPServer) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *fakeSMTPServer) handle(conn net.Conn) {
	defer conn.Close()
	if s.silent {
		io.Copy(io.Discard, conn)
		return
	}
	tp := textproto.NewConn(conn)
	tp.PrintfLine("220 fake ESMTP")
	for {
		line, err := tp.ReadLine()
		if err != nil {
			return
		}
		cmd := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(cmd, "EHLO"):
			tp.PrintfLine("250-fake")
			tp.PrintfLine("250 8BITMIME")
		case strings.HasPrefix(cmd, "HELO"), strings.HasPrefix(cmd, "MAIL"),
			strings.HasPrefix(cmd, "NOOP"), strings.HasPrefix(cmd, "RSET"):
			tp.PrintfLine("250 ok")
		case strings.HasPrefix(cmd, "RCPT"):
			tp.PrintfLine("%s", s.rcptReply)
		case strings.HasPrefix(cmd, "DATA"):
			tp.PrintfLine("354 go ahead")
			lines, err := tp.ReadDotLines()
			if err != nil {
				return
			}
			s.mu.Lock()
			s.messages = append(s.messages, strings.Join(lines, "\n"))
			s.mu.Unlock()
			tp.PrintfLine("250 queued")
		case strings.HasPrefix(cmd, "QUIT"):
			tp.PrintfLine("221 bye")
			return
		default:
			tp.PrintfLine("502 not implemented")
		}
	}
}

func (s *fakeSMTPServer) received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.messages...)
}

func newTestMailer(port int) *SMTPMailer {
	return NewSMTPMailer(SMTPConfig{Host: "127.0.0.1", Port: port, From: "drip@x.com"})
}

func TestSMTPMailerSend(t *testing.T) {
	srv := startFakeSMTPServer(t, "250 ok", false)
	mailer := newTestMailer(srv.port())

	err := mailer.Send(context.Background(), "a@x.com", "welcome", "hello\nthere")
	require.NoError(t, err)

	msgs := srv.received()
	require.Len(t, msgs, 1)
	require.Contains(t, msgs[0], "Subject: welcome")
	require.Regexp(t, `To: <?a@x\.com>?`, msgs[0])
	require.Regexp(t, `From: <?drip@x\.com>?`, msgs[0])
	require.Contains(t, msgs[0], "hello")
}

func TestSMTPMailerReplyClasses(t *testing.T) {
	for name, tc := range map[string]struct {
		reply     string
		permanent bool
	}{
		"mailbox unavailable": {reply: "550 no such user", permanent: true},
		"greylisted":          {reply: "451 try again later", permanent: false},
		"throttled":           {reply: "421 too many connections", permanent: false},
	} {
		t.Run(name, func(t *testing.T) {
			srv := startFakeSMTPServer(t, tc.reply, false)
			err := newTestMailer(srv.port()).Send(context.Background(), "a@x.com", "s", "b")
			require.Error(t, err)
			require.Equal(t, tc.permanent, IsPermanent(err))
			if !tc.permanent {
				var transient *TransientError
				require.ErrorAs(t, err, &transient)
			}
			require.Empty(t, srv.received())
		})
	}
}

func TestSMTPMailerTimeout(t *testing.T) {
	srv := startFakeSMTPServer(t, "250 ok", true)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := newTestMailer(srv.port()).Send(ctx, "a@x.com", "s", "b")
	require.Error(t, err)
	require.Less(t, time.Since(start), 5*time.Second)
	var transient *TransientError
	require.ErrorAs(t, err, &transient)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestSMTPMailerConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	err = newTestMailer(port).Send(context.Background(), "a@x.com", "s", "b")
	require.Error(t, err)
	require.False(t, IsPermanent(err))
}

func TestSMTPMailerImplicitTLSAgainstPlainServer(t *testing.T) {
	srv := startFakeSMTPServer(t, "250 ok", false)
	mailer := NewSMTPMailer(SMTPConfig{Host: "127.0.0.1", Port: srv.port(), From: "drip@x.com", ImplicitTLS: true})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := mailer.Send(ctx, "a@x.com", "s", "b")
	require.Error(t, err)
	require.False(t, IsPermanent(err))
	require.Empty(t, srv.received())
}

func TestSMTPMailerInvalidRecipient(t *testing.T) {
	err := newTestMailer(1).Send(context.Background(), "not-an-address", "s", "b")
	require.True(t, IsPermanent(err))
}

func TestBuildMessageHeaders(t *testing.T) {
	m := newTestMailer(25)
	m.now = func() time.Time { return time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC) }
	msg, err := m.buildMessage("a@x.com", "héllo", "body")
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = msg.WriteTo(&buf)
	require.NoError(t, err)
	raw := buf.String()
	require.Regexp(t, `(?i)Subject: =\?utf-8\?q\?h=C3=A9llo\?=`, raw)
	require.Contains(t, raw, "Date: Thu, 15 Oct 2026 09:00:00 +0000")
	require.Regexp(t, `Message-ID: <[0-9a-f-]{36}@x\.com>`, raw)
}

func TestBuildMessageRejectsBadSender(t *testing.T) {
	m := NewSMTPMailer(SMTPConfig{Host: "127.0.0.1", Port: 25, From: "not a sender"})
	_, err := m.buildMessage("a@x.com", "s", "b")
	require.Error(t, err)
	require.True(t, IsPermanent(m.Send(context.Background(), "a@x.com", "s", "b")))
}

func TestReplyCode(t *testing.T) {
	require.Equal(t, 550, replyCode(&textproto.Error{Code: 550, Msg: "no such user"}))
	require.Equal(t, 0, replyCode(errors.New("connection reset")))
}

func TestLogMailer(t *testing.T) {
	m := NewLogMailer("drip@x.com")
	require.NoError(t, m.Send(context.Background(), "a@x.com", "s", "b"))
	require.True(t, IsPermanent(m.Send(context.Background(), "A <a@x.com>", "s", "b")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := m.Send(ctx, "a@x.com", "s", "b")
	require.False(t, IsPermanent(err))
	require.ErrorIs(t, err, context.Canceled)
}
