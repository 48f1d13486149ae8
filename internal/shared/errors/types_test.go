package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestFromHTTPStatusClassification(t *testing.T) {
	cases := []struct {
		status    int
		transient bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusBadGateway, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusUnauthorized, false},
		{http.StatusBadRequest, false},
	}
	for _, tc := range cases {
		err := FromHTTPStatus(tc.status, "body")
		if got := IsTransient(err); got != tc.transient {
			t.Errorf("status %d: IsTransient = %v, want %v", tc.status, got, tc.transient)
		}
		if got := IsPermanent(err); got == tc.transient {
			t.Errorf("status %d: IsPermanent = %v, want %v", tc.status, got, !tc.transient)
		}
	}
}

func TestWrappedClassificationSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("chat: %w", NewTransient(stderrors.New("boom"), ""))
	if !IsTransient(err) {
		t.Fatalf("expected wrapped transient error to stay transient")
	}
	if IsTransient(context.Canceled) {
		t.Fatalf("context cancellation must never be retried")
	}
	if !IsTransient(stderrors.New("read tcp: connection reset by peer")) {
		t.Fatalf("expected connection reset to be transient")
	}
}

func TestRetryWithResultRetriesTransientOnly(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

	calls := 0
	got, err := RetryWithResult(context.Background(), cfg, nil, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", FromHTTPStatus(http.StatusServiceUnavailable, "busy")
		}
		return "ok", nil
	})
	if err != nil || got != "ok" {
		t.Fatalf("expected success after retries, got %q, %v", got, err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}

	calls = 0
	_, err = RetryWithResult(context.Background(), cfg, nil, func(context.Context) (string, error) {
		calls++
		return "", FromHTTPStatus(http.StatusUnauthorized, "bad key")
	})
	if err == nil || calls != 1 {
		t.Fatalf("expected permanent error without retry, calls=%d err=%v", calls, err)
	}
}

func TestRetryWithResultStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := RetryWithResult(ctx, DefaultRetryConfig(), nil, func(context.Context) (int, error) {
		t.Fatal("fn must not run after cancellation")
		return 0, nil
	})
	if !stderrors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
