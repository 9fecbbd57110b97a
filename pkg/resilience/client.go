package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/ferret-scan/ferret/pkg/config"
	"github.com/ferret-scan/ferret/pkg/models"
	"github.com/ferret-scan/ferret/pkg/remote"
)

// ErrRetryExhausted is returned when every retry attempt failed with a
// retryable error.
var ErrRetryExhausted = errors.New("resilience: retry attempts exhausted")

// Transport performs the actual network call; *remote.Client implements it.
type Transport interface {
	Classify(ctx context.Context, req remote.Request) (*models.Classification, error)
}

// Client is the failure-aware front to the classification service.
type Client struct {
	transport Transport
	breaker   *Breaker
	retry     config.RetryConfig
	log       logrus.FieldLogger
}

// NewClient wires a transport behind a breaker and retry policy.
func NewClient(transport Transport, breaker *Breaker, retry config.RetryConfig, log logrus.FieldLogger) *Client {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 3
	}
	return &Client{
		transport: transport,
		breaker:   breaker,
		retry:     retry,
		log:       log,
	}
}

// Invoke calls the service. Timeouts and connection errors are retried
// with exponential backoff and jitter; service rejections are surfaced
// immediately. Every failed attempt counts toward the breaker's failure
// window, and an open circuit fails the whole call fast. Cancellation
// interrupts both backoff waits and in-flight calls.
func (c *Client) Invoke(ctx context.Context, req remote.Request) (*models.Classification, error) {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = c.retry.InitialBackoff
	expo.MaxInterval = c.retry.MaxBackoff
	expo.MaxElapsedTime = 0

	policy := backoff.WithContext(
		backoff.WithMaxRetries(expo, uint64(c.retry.MaxAttempts-1)), ctx)

	var result *models.Classification
	attempt := 0

	err := backoff.Retry(func() error {
		attempt++
		if err := c.breaker.Allow(); err != nil {
			return backoff.Permanent(err)
		}

		res, err := c.transport.Classify(ctx, req)
		if err == nil {
			c.breaker.RecordSuccess()
			result = res
			return nil
		}

		if ctx.Err() != nil {
			// Caller went away; not a verdict on the service, but an
			// admitted trial slot must not stay claimed.
			c.breaker.CancelTrial()
			return backoff.Permanent(ctx.Err())
		}

		c.breaker.RecordFailure()
		if !retryable(err) {
			return backoff.Permanent(err)
		}

		c.log.WithFields(logrus.Fields{
			"attempt":      attempt,
			"max_attempts": c.retry.MaxAttempts,
			"path":         req.Path,
		}).WithError(err).Warn("classification attempt failed, will retry")
		return err
	}, policy)

	if err != nil {
		if isTerminal(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, attempt, err)
	}
	return result, nil
}

// retryable reports whether an attempt error is transient. Service
// rejections are permanent for this item.
func retryable(err error) bool {
	var svcErr *remote.ServiceError
	return !errors.As(err, &svcErr)
}

// isTerminal reports errors that must pass through unwrapped: breaker
// fast-fails, service rejections and caller cancellation.
func isTerminal(err error) bool {
	var svcErr *remote.ServiceError
	return errors.Is(err, ErrCircuitOpen) ||
		errors.As(err, &svcErr) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
