package failure

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Code is the normalized failure taxonomy shared by every platform adapter.
type Code string

const (
	AuthInvalid        Code = "auth_invalid"
	RateLimited        Code = "rate_limited"
	TransientNetwork   Code = "transient_network"
	Validation         Code = "validation"
	ConfigurationError Code = "configuration_error"
	Unknown            Code = "unknown"
)

func (c Code) Retryable() bool {
	return c == RateLimited || c == TransientNetwork
}

// Error is a classified platform or orchestration failure.
type Error struct {
	Code       Code
	Platform   string
	Status     int
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Platform != "" {
		return fmt.Sprintf("%s: %s: %s", e.Platform, e.Code, msg)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error { return e.Err }

func New(code Code, platform, message string) *Error {
	return &Error{Code: code, Platform: platform, Message: message}
}

func Wrap(code Code, platform string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Platform: platform, Message: err.Error(), Err: err}
}

// FromHTTPStatus maps a platform HTTP response status onto the taxonomy.
func FromHTTPStatus(platform string, status int, message string) *Error {
	e := &Error{Platform: platform, Status: status, Message: message}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Code = AuthInvalid
	case status == http.StatusTooManyRequests:
		e.Code = RateLimited
	case status >= 500:
		e.Code = TransientNetwork
	case status >= 400:
		e.Code = Validation
	default:
		e.Code = Unknown
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}

// As extracts the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

func CodeOf(err error) Code {
	if fe, ok := As(err); ok {
		return fe.Code
	}
	return Unknown
}
