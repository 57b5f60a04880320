package retrypolicy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ErrorKind classifies a capability error for retry purposes
type ErrorKind string

const (
	KindTransient ErrorKind = "transient"
	KindPermanent ErrorKind = "permanent"
)

// ErrRetryBudgetExhausted marks a transient failure that outlived its
// attempt ceiling. It is terminal for the affected step or pair.
var ErrRetryBudgetExhausted = errors.New("retry budget exhausted")

// CapabilityError wraps an error from an external capability call with
// its retry classification
type CapabilityError struct {
	Kind ErrorKind
	Err  error
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("%s capability error: %v", e.Kind, e.Err)
}

func (e *CapabilityError) Unwrap() error { return e.Err }

// Transient wraps err as a retryable capability error
func Transient(err error) error {
	return &CapabilityError{Kind: KindTransient, Err: err}
}

// Permanent wraps err as a non-retryable capability error
func Permanent(err error) error {
	return &CapabilityError{Kind: KindPermanent, Err: err}
}

// Classifier maps a raw error to its retry classification
type Classifier func(error) ErrorKind

// DefaultClassifier honors CapabilityError kinds, never retries context
// cancellation, and treats unclassified errors as transient
func DefaultClassifier(err error) ErrorKind {
	var capErr *CapabilityError
	if errors.As(err, &capErr) {
		return capErr.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindPermanent
	}
	return KindTransient
}

// Policy is a reusable retry-with-backoff policy applied uniformly to
// Transformer and Evaluator calls
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Classifier  Classifier
}

// Do runs op under the policy. It returns the result, the number of
// attempts consumed, and the terminal error: nil on success, the
// permanent error itself when classified permanent, or an error wrapping
// ErrRetryBudgetExhausted when transient failures outlive MaxAttempts.
func Do[T any](ctx context.Context, p Policy, op func() (T, error)) (T, int, error) {
	classify := p.Classifier
	if classify == nil {
		classify = DefaultClassifier
	}

	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	attempts := 0
	wrapped := func() (T, error) {
		attempts++
		v, err := op()
		if err == nil {
			return v, nil
		}
		if classify(err) == KindPermanent {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	b := backoff.NewExponentialBackOff()
	if p.BaseDelay > 0 {
		b.InitialInterval = p.BaseDelay
	}
	if p.MaxDelay > 0 {
		b.MaxInterval = p.MaxDelay
	}

	v, err := backoff.Retry(ctx, wrapped, backoff.WithBackOff(b), backoff.WithMaxTries(uint(maxAttempts)))
	if err == nil {
		return v, attempts, nil
	}

	if classify(err) == KindTransient && attempts >= maxAttempts {
		return v, attempts, fmt.Errorf("%w after %d attempts: %w", ErrRetryBudgetExhausted, attempts, err)
	}
	return v, attempts, err
}
