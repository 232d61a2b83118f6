package mail

import (
	"context"
	"errors"
	"fmt"
	netmail "net/mail"
)

// Mailer delivers one message to one recipient. Implementations return a
// *TransientError when the send may succeed later and a *PermanentError when
// retrying cannot help.
type Mailer interface {
	Send(ctx context.Context, to string, subject string, body string) error
}

type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient mail error: %s", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent mail error: %s", e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

func Transient(err error) error {
	return &TransientError{Err: err}
}

func Permanent(err error) error {
	return &PermanentError{Err: err}
}

func IsPermanent(err error) bool {
	var perm *PermanentError
	return errors.As(err, &perm)
}

// checkRecipient accepts only a bare address such as a@x.com.
func checkRecipient(to string) error {
	addr, err := netmail.ParseAddress(to)
	if err != nil {
		return Permanent(fmt.Errorf("invalid recipient %q: %w", to, err))
	}
	if addr.Address != to {
		return Permanent(fmt.Errorf("invalid recipient %q", to))
	}
	return nil
}
