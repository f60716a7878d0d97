package reminders

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/harrisonrobin/obs-sync/pkg/model"
)

// fakeCaller is a scripted caller.ListReminders-only stub for retry tests,
// in the style of the corpus's retryTestBackend.
type fakeCaller struct {
	mu        sync.Mutex
	responses []any
	callCount int
}

func (f *fakeCaller) ListReminders(listIDs []string) ([]model.RemindersTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.callCount >= len(f.responses) {
		return nil, fmt.Errorf("unexpected call %d", f.callCount+1)
	}
	resp := f.responses[f.callCount]
	f.callCount++
	switch v := resp.(type) {
	case []model.RemindersTask:
		return v, nil
	case error:
		return nil, v
	default:
		return nil, fmt.Errorf("bad fixture type %T", v)
	}
}

func (f *fakeCaller) CreateReminder(string, *model.RemindersTask) (string, error) { return "", nil }
func (f *fakeCaller) UpdateReminder(string, *model.RemindersTask) error           { return nil }
func (f *fakeCaller) DeleteReminder(string) error                                { return nil }

func fastGateway(client caller) *Gateway {
	g := NewGateway(client)
	g.retry = RetryConfig{
		InitialInterval:     5 * time.Millisecond,
		MaxInterval:         20 * time.Millisecond,
		MaxElapsedTime:      500 * time.Millisecond,
		Multiplier:          2.0,
		RandomizationFactor: 0.1,
	}
	g.timeout = 2 * time.Second
	return g
}

func TestGatewayRetriesTransientFailures(t *testing.T) {
	want := []model.RemindersTask{{ItemID: "r1", Title: "Buy milk"}}
	fc := &fakeCaller{responses: []any{
		errors.New("transient 1"),
		errors.New("transient 2"),
		want,
	}}
	g := fastGateway(fc)

	got, err := g.ListReminders(context.Background(), []string{"L-default"})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if len(got) != 1 || got[0].ItemID != "r1" {
		t.Fatalf("unexpected result: %+v", got)
	}
	if fc.callCount != 3 {
		t.Fatalf("expected 3 calls, got %d", fc.callCount)
	}
}

func TestGatewayAuthorizationFailureIsPermanent(t *testing.T) {
	fc := &fakeCaller{responses: []any{ErrAuthorizationFailure, ErrAuthorizationFailure, ErrAuthorizationFailure}}
	g := fastGateway(fc)

	_, err := g.ListReminders(context.Background(), []string{"L-default"})
	if !errors.Is(err, ErrAuthorizationFailure) {
		t.Fatalf("expected authorization failure, got %v", err)
	}
	if fc.callCount != 1 {
		t.Fatalf("expected no retry after authorization failure, got %d calls", fc.callCount)
	}
}
