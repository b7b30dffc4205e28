package smtp

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"

	"github.com/emersion/go-smtp"
)

// Stages of an SMTP submission, used for error reporting.
const (
	OpDial     = "dial"
	OpTLS      = "tls"
	OpEHLO     = "ehlo"
	OpStartTLS = "starttls"
	OpAuth     = "auth"
	OpMail     = "mail"
	OpRcpt     = "rcpt"
	OpData     = "data"
)

// Error represents a failure during an SMTP submission stage.
// Temporary errors (4xx replies, network failures) may succeed on retry;
// permanent errors (5xx replies) will not.
type Error struct {
	Op        string
	Temporary bool
	Message   string
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// smtpCodePattern matches SMTP reply codes embedded in error strings,
// for servers whose errors arrive as plain text.
var smtpCodePattern = regexp.MustCompile(`\b(4\d{2}|5\d{2})\b`)

// classify wraps an error from the given stage with a temporary/permanent
// verdict: SMTP 4xx replies and network errors are temporary, 5xx replies
// are permanent, anything unrecognized is assumed temporary.
func classify(op string, err error) *Error {
	e := &Error{
		Op:      op,
		Message: err.Error(),
		Err:     err,
	}

	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		e.Temporary = smtpErr.Code >= 400 && smtpErr.Code < 500
		return e
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		e.Temporary = true
		return e
	}

	if m := smtpCodePattern.FindString(err.Error()); m != "" {
		code, _ := strconv.Atoi(m)
		e.Temporary = code < 500
		return e
	}

	e.Temporary = true
	return e
}

// IsTemporaryError reports whether the error may succeed on retry.
// Unknown errors are assumed temporary.
func IsTemporaryError(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Temporary
	}
	return true
}

// IsAuthError reports whether the error came from the authentication stage.
func IsAuthError(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Op == OpAuth
	}
	return false
}

// IsConnectError reports whether the error occurred while establishing the
// session, before any mail transaction started.
func IsConnectError(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		switch e.Op {
		case OpDial, OpTLS, OpEHLO, OpStartTLS:
			return true
		}
	}
	return false
}
