package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

type fakeSink struct {
	failures int
	stale    bool
	calls    int
}

func (f *fakeSink) Apply(ctx context.Context, p models.DriverPosition) (bool, error) {
	f.calls++
	if f.calls <= f.failures {
		return false, errors.New("redis unavailable")
	}
	return !f.stale, nil
}

func testPosition() models.DriverPosition {
	return models.DriverPosition{DriverID: "d1", Lat: 28.61, Lng: 77.20, UpdatedAt: time.Now()}
}

func TestApplyWithRetrySucceedsAfterTransientFailure(t *testing.T) {
	sink := &fakeSink{failures: 2}
	applied, err := applyWithRetry(context.Background(), sink, testPosition(), 3, time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if !applied {
		t.Fatal("expected the update to apply")
	}
	if sink.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", sink.calls)
	}
}

func TestApplyWithRetryGivesUp(t *testing.T) {
	sink := &fakeSink{failures: 10}
	if _, err := applyWithRetry(context.Background(), sink, testPosition(), 3, time.Millisecond); err == nil {
		t.Fatal("expected an error after exhausting retries")
	}
	if sink.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", sink.calls)
	}
}

func TestApplyWithRetryStaleIsFinal(t *testing.T) {
	sink := &fakeSink{stale: true}
	applied, err := applyWithRetry(context.Background(), sink, testPosition(), 3, time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if applied {
		t.Fatal("stale update must not be reported as applied")
	}
	if sink.calls != 1 {
		t.Fatalf("stale verdict should not be retried, got %d calls", sink.calls)
	}
}
