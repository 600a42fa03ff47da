package domain

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
)

var (
	ErrExtraction    = eris.New("no usable post found")
	ErrNotFound      = eris.New("post not found")
	ErrUnauthorized  = eris.New("unauthorized")
	ErrNotLoggedIn   = eris.New("not logged in")
	ErrQuotaExceeded = eris.New("daily AI analysis limit reached")
	ErrRateLimited   = eris.New("rate limited")
)

// RateLimitError is returned when a remote side answers 429
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return "rate limited"
}

// Is lets errors.Is match ErrRateLimited
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// InvalidError reports input the service refuses to process
type InvalidError struct {
	Reason string
}

func (e *InvalidError) Error() string {
	return e.Reason
}

// Invalid builds an InvalidError
func Invalid(format string, args ...any) error {
	return &InvalidError{Reason: fmt.Sprintf(format, args...)}
}
