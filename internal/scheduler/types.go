// Package scheduler runs the deferred retry campaign: it sweeps retries
// that have come due, re-sends the payment notice and schedules the next
// attempt.
//
// A sweep is triggered externally (EventBridge in Lambda mode, a cron loop
// locally, or the authenticated HTTP trigger) and is safe to run
// concurrently with itself.
package scheduler

import (
	"context"
	"time"

	"recoverly/internal/types"
)

// SweepPayload is the JSON event delivered to the sweeper function.
//
//	{
//	  "reference_time": "2026-02-06T03:00:00Z"  // optional
//	}
type SweepPayload struct {
	// ReferenceTime overrides "now" for manual invocation or backfilling.
	// If nil, the sweeper clock is used.
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
}

// SweepResult counts what one sweep did. Due is the number of retries
// listed; every listed retry lands in exactly one of Succeeded, Failed,
// Cancelled, Deferred or Skipped.
type SweepResult struct {
	Due       int `json:"due"`
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
	Deferred  int `json:"deferred"`
	Skipped   int `json:"skipped"`
}

// RetryQueue is the retry persistence used by the sweeper.
type RetryQueue interface {
	ListDue(ctx context.Context, now, staleBefore time.Time, after *types.RetryCursor, limit int) ([]types.DueRetry, error)
	Claim(ctx context.Context, retryID string, now, staleBefore time.Time) (bool, error)
	Complete(ctx context.Context, retryID string, status types.RetryStatus, at time.Time) error
	Release(ctx context.Context, retryID string, at time.Time) error
	Cancel(ctx context.Context, retryID string, at time.Time) error
	ScheduleRetry(ctx context.Context, paymentID string, retryNumber int, scheduledAt, now time.Time) (bool, error)
}

// PaymentReader loads the current state of a payment.
type PaymentReader interface {
	GetPayment(ctx context.Context, id string) (*types.PaymentRecord, error)
}
