package analysis

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNoModels        = errors.New("no models configured")
	ErrBudgetExceeded  = errors.New("run budget exceeded")
	ErrUnknownProvider = errors.New("unknown provider")
	ErrUnknownPurpose  = errors.New("unknown prompt purpose")
	ErrEmptyCompletion = errors.New("empty completion")
)

// CompletionError carries the HTTP status of a failed provider call so the
// fallback loop can classify it without knowing the vendor SDK.
type CompletionError struct {
	Provider   string
	Model      string
	StatusCode int
	Err        error
}

func (e *CompletionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Provider, e.Model, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Model, e.Err)
}

func (e *CompletionError) Unwrap() error {
	return e.Err
}

// classify maps a provider error onto an attempt outcome.
func classify(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return OutcomeTimeout
	}

	var completionErr *CompletionError
	if errors.As(err, &completionErr) {
		switch {
		case completionErr.StatusCode == http.StatusTooManyRequests:
			return OutcomeRateLimited
		case completionErr.StatusCode == http.StatusNotFound,
			completionErr.StatusCode == http.StatusServiceUnavailable,
			completionErr.StatusCode == http.StatusBadGateway,
			completionErr.StatusCode == 529:
			return OutcomeUnavailable
		}
	}

	return OutcomeError
}
