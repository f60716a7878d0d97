package reminders

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/harrisonrobin/obs-sync/pkg/model"
)

// caller is the subset of Client's surface the gateway wraps; satisfied
// by *Client, substitutable with a fake in tests.
type caller interface {
	ListReminders(listIDs []string) ([]model.RemindersTask, error)
	CreateReminder(listID string, t *model.RemindersTask) (string, error)
	UpdateReminder(itemID string, t *model.RemindersTask) error
	DeleteReminder(itemID string) error
}

// Gateway wraps a Client with a bounded timeout, exponential retry, and a
// circuit breaker; an authorization failure is returned at once and never
// retried. It does not itself serialize concurrent calls. Grounded on
// the teacher corpus's orchestrator.sendWithRetry: gobreaker circuit plus
// cenkalti/backoff exponential retry around each call.
type Gateway struct {
	client  caller
	breaker *gobreaker.CircuitBreaker
	retry   RetryConfig
	timeout time.Duration
}

// RetryConfig configures the exponential backoff policy wrapping each
// gateway call.
type RetryConfig struct {
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	MaxElapsedTime      time.Duration
	Multiplier          float64
	RandomizationFactor float64
}

// DefaultRetryConfig mirrors the teacher's orchestrator defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval:     200 * time.Millisecond,
		MaxInterval:         5 * time.Second,
		MaxElapsedTime:      30 * time.Second,
		Multiplier:          2.0,
		RandomizationFactor: 0.3,
	}
}

// ErrAuthorizationFailure marks a gateway call as fatal: spec.md §7 says
// "no mutation attempted" once this is seen, and the circuit breaker must
// not retry it.
var ErrAuthorizationFailure = errors.New("reminders: authorization failure")

// NewGateway wraps client with the default bulk-operation timeout spec.md
// §5 names (300s) and the default retry/circuit policy.
func NewGateway(client caller) *Gateway {
	return &Gateway{
		client: client,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "reminders-gateway",
			MaxRequests: 1, // at most one trial request while the circuit is half-open
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Printf("reminders gateway circuit %q: %s -> %s", name, from, to)
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
			},
		}),
		retry:   DefaultRetryConfig(),
		timeout: 300 * time.Second,
	}
}

func (g *Gateway) call(ctx context.Context, op func() (interface{}, error)) (interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var result interface{}
	operation := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		r, err := g.breaker.Execute(op)
		if err != nil {
			if errors.Is(err, ErrAuthorizationFailure) {
				return backoff.Permanent(err)
			}
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		result = r
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = g.retry.InitialInterval
	bo.MaxInterval = g.retry.MaxInterval
	bo.MaxElapsedTime = g.retry.MaxElapsedTime
	bo.Multiplier = g.retry.Multiplier
	bo.RandomizationFactor = g.retry.RandomizationFactor

	err := backoff.Retry(operation, backoff.WithContext(bo, ctx))
	return result, err
}

// ListReminders is the resilience-wrapped form of Client.ListReminders.
func (g *Gateway) ListReminders(ctx context.Context, listIDs []string) ([]model.RemindersTask, error) {
	r, err := g.call(ctx, func() (interface{}, error) {
		return g.client.ListReminders(listIDs)
	})
	if err != nil {
		return nil, err
	}
	return r.([]model.RemindersTask), nil
}

// CreateReminder is the resilience-wrapped form of Client.CreateReminder.
func (g *Gateway) CreateReminder(ctx context.Context, listID string, t *model.RemindersTask) (string, error) {
	r, err := g.call(ctx, func() (interface{}, error) {
		return g.client.CreateReminder(listID, t)
	})
	if err != nil {
		return "", err
	}
	return r.(string), nil
}

// UpdateReminder is the resilience-wrapped form of Client.UpdateReminder.
func (g *Gateway) UpdateReminder(ctx context.Context, itemID string, t *model.RemindersTask) error {
	_, err := g.call(ctx, func() (interface{}, error) {
		return nil, g.client.UpdateReminder(itemID, t)
	})
	return err
}

// DeleteReminder is the resilience-wrapped form of Client.DeleteReminder.
func (g *Gateway) DeleteReminder(ctx context.Context, itemID string) error {
	_, err := g.call(ctx, func() (interface{}, error) {
		return nil, g.client.DeleteReminder(itemID)
	})
	return err
}
