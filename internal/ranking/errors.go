package ranking

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// Kind classifies a ranking service failure.
type Kind string

const (
	KindUnauthorized       Kind = "unauthorized"
	KindRateLimited        Kind = "rate_limited"
	KindTimeout            Kind = "timeout"
	KindMalformedResponse  Kind = "malformed_response"
	KindServiceUnavailable Kind = "service_unavailable"
)

// Error is returned when the ranking service could not produce a usable
// ordering. The pipeline downgrades it to a default-order report.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("ranking service %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the failure is transient. Authorization failures
// never are; retrying a bad key only burns the rate limit.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindRateLimited, KindTimeout, KindServiceUnavailable:
		return true
	}
	return false
}

var errNoChoices = errors.New("response contained no choices")

func classify(err error) *Error {
	if errors.Is(err, errNoChoices) {
		return &Error{Kind: KindMalformedResponse, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Err: err}
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus(reqErr.HTTPStatusCode, err)
	}

	// Transport-level failure (DNS, refused connection).
	return &Error{Kind: KindServiceUnavailable, Err: err}
}

func classifyStatus(code int, err error) *Error {
	switch {
	case code == 401 || code == 403:
		return &Error{Kind: KindUnauthorized, Err: err}
	case code == 429:
		return &Error{Kind: KindRateLimited, Err: err}
	case code == 408 || code == 504:
		return &Error{Kind: KindTimeout, Err: err}
	default:
		return &Error{Kind: KindServiceUnavailable, Err: err}
	}
}
