package usecase

import (
	"context"
	"errors"
	"net"
	"net/http"

	"crosspost/domain/failure"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

const reauthMessage = "re-authorization required: reconnect this account"

// Decision is the retry and escalation policy for one classified error.
type Decision struct {
	Code       failure.Code
	Retryable  bool
	Invalidate bool
	Message    string
}

// Classify normalizes an adapter or staging error into the failure taxonomy.
func Classify(err error) Decision {
	if err == nil {
		return Decision{}
	}
	fe := toFailure(err)
	d := Decision{Code: fe.Code, Retryable: fe.Code.Retryable(), Message: fe.Message}
	if d.Message == "" {
		d.Message = err.Error()
	}
	switch fe.Code {
	case failure.AuthInvalid:
		d.Invalidate = true
		d.Message = reauthMessage
	case failure.RateLimited:
		d.Message = "rate limited by platform: " + d.Message
	case failure.TransientNetwork:
		d.Message = "temporary platform error: " + d.Message
	}
	return d
}

func toFailure(err error) *failure.Error {
	if fe, ok := failure.As(err); ok {
		return fe
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return failure.Wrap(failure.TransientNetwork, "", errors.New("platform call timed out"))
	}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		// Token endpoints answer a revoked or expired grant with 400 invalid_grant.
		if status == http.StatusBadRequest || status == http.StatusUnauthorized || re.ErrorCode == "invalid_grant" {
			return &failure.Error{Code: failure.AuthInvalid, Status: status, Message: re.Error(), Err: err}
		}
		fe := failure.FromHTTPStatus("", status, re.Error())
		fe.Err = err
		return fe
	}
	var ge *googleapi.Error
	if errors.As(err, &ge) {
		fe := failure.FromHTTPStatus("", ge.Code, ge.Message)
		for _, item := range ge.Errors {
			switch item.Reason {
			case "quotaExceeded", "rateLimitExceeded", "userRateLimitExceeded":
				fe.Code = failure.RateLimited
			}
		}
		fe.Err = err
		return fe
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return failure.Wrap(failure.TransientNetwork, "", err)
	}
	return failure.Wrap(failure.Unknown, "", err)
}
