package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"recoverly/internal/recovery"
	"recoverly/internal/types"
)

const (
	// DefaultBatchSize bounds how many due retries are listed per query.
	DefaultBatchSize = 100
	// DefaultConcurrency bounds in-flight sends per sweep.
	DefaultConcurrency = 8
	// DefaultClaimTTL is how long a claim is honoured before the retry is
	// considered abandoned and becomes due again.
	DefaultClaimTTL = 15 * time.Minute
	// maxBatches caps the number of list queries in a single sweep.
	maxBatches = 50
)

// SweeperConfig wires a RetrySweeper.
type SweeperConfig struct {
	Retries     RetryQueue
	Payments    PaymentReader
	Tenants     recovery.TenantStore
	Notifier    recovery.Notifier
	Policy      recovery.Policy
	BatchSize   int
	Concurrency int
	ClaimTTL    time.Duration
	Metrics     SweepMetrics
	Clock       types.Clock
	Logger      *slog.Logger
}

// RetrySweeper sends due retries. A retry is claimed (pending -> sending)
// before any work is done, so overlapping sweeps never send the same retry
// twice while the claim is live.
type RetrySweeper struct {
	retries     RetryQueue
	payments    PaymentReader
	tenants     recovery.TenantStore
	notifier    recovery.Notifier
	policy      recovery.Policy
	batchSize   int
	concurrency int
	claimTTL    time.Duration
	metrics     SweepMetrics
	clock       types.Clock
	logger      *slog.Logger
}

// NewRetrySweeper applies defaults to zero-valued settings.
func NewRetrySweeper(cfg SweeperConfig) *RetrySweeper {
	s := &RetrySweeper{
		retries:     cfg.Retries,
		payments:    cfg.Payments,
		tenants:     cfg.Tenants,
		notifier:    cfg.Notifier,
		policy:      cfg.Policy,
		batchSize:   cfg.BatchSize,
		concurrency: cfg.Concurrency,
		claimTTL:    cfg.ClaimTTL,
		metrics:     cfg.Metrics,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
	}
	if len(s.policy.Delays) == 0 {
		s.policy = recovery.DefaultPolicy()
	}
	if s.batchSize <= 0 {
		s.batchSize = DefaultBatchSize
	}
	if s.concurrency <= 0 {
		s.concurrency = DefaultConcurrency
	}
	if s.claimTTL <= 0 {
		s.claimTTL = DefaultClaimTTL
	}
	if s.metrics == nil {
		s.metrics = NoopSweepMetrics{}
	}
	if s.clock == nil {
		s.clock = types.RealClock{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Now returns the sweeper clock's current time.
func (s *RetrySweeper) Now() time.Time {
	return s.clock.Now()
}

// outcome is where a single retry ended up.
type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeSucceeded
	outcomeFailed
	outcomeCancelled
	outcomeDeferred
)

// tally accumulates per-retry outcomes from concurrent workers.
type tally struct {
	mu  sync.Mutex
	res SweepResult
}

func (t *tally) add(o outcome, attempted bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if attempted {
		t.res.Attempted++
	}
	switch o {
	case outcomeSucceeded:
		t.res.Succeeded++
	case outcomeFailed:
		t.res.Failed++
	case outcomeCancelled:
		t.res.Cancelled++
	case outcomeDeferred:
		t.res.Deferred++
	default:
		t.res.Skipped++
	}
}

// ProcessDueRetries sends every retry scheduled at or before now. Failures
// of individual retries are isolated and counted; only a failure to list
// due retries is returned as an error.
//
// Pages are read with a keyset cursor, so retries released during this sweep
// (tenant unavailable) are not revisited until the next sweep and never hide
// the retries ordered after them.
func (s *RetrySweeper) ProcessDueRetries(ctx context.Context, now time.Time) (SweepResult, error) {
	start := time.Now()
	now = now.UTC()
	staleBefore := now.Add(-s.claimTTL)

	var (
		t     tally
		after *types.RetryCursor
	)
	for batch := 0; batch < maxBatches; batch++ {
		due, err := s.retries.ListDue(ctx, now, staleBefore, after, s.batchSize)
		if err != nil {
			s.metrics.RecordSweep(ctx, t.res, time.Since(start))
			return t.res, types.NewAppError(types.ErrCodeInternalDB, "failed to list due retries", err)
		}
		if len(due) == 0 {
			break
		}
		after = due[len(due)-1].Cursor()

		t.mu.Lock()
		t.res.Due += len(due)
		t.mu.Unlock()

		g, gCtx := errgroup.WithContext(ctx)
		g.SetLimit(s.concurrency)
		for _, d := range due {
			d := d
			g.Go(func() error {
				o, attempted := s.processOne(gCtx, d.Retry, now, staleBefore)
				t.add(o, attempted)
				// Errors stay isolated to the retry; siblings keep going.
				return nil
			})
		}
		_ = g.Wait()

		if len(due) < s.batchSize {
			break
		}
	}

	elapsed := time.Since(start)
	s.metrics.RecordSweep(ctx, t.res, elapsed)
	s.logger.InfoContext(ctx, "retry sweep complete",
		"due", t.res.Due,
		"attempted", t.res.Attempted,
		"succeeded", t.res.Succeeded,
		"failed", t.res.Failed,
		"cancelled", t.res.Cancelled,
		"deferred", t.res.Deferred,
		"skipped", t.res.Skipped,
		"duration_ms", elapsed.Milliseconds(),
	)
	return t.res, nil
}

// processOne drives a single retry from claim to completion. attempted
// reports whether a send was made.
func (s *RetrySweeper) processOne(ctx context.Context, r types.RetryRecord, now, staleBefore time.Time) (outcome, bool) {
	log := s.logger.With("retry_id", r.ID, "payment_id", r.PaymentID, "retry_number", r.RetryNumber)

	claimed, err := s.retries.Claim(ctx, r.ID, now, staleBefore)
	if err != nil {
		log.ErrorContext(ctx, "failed to claim retry", "error", err)
		return outcomeSkipped, false
	}
	if !claimed {
		log.DebugContext(ctx, "retry claimed by another sweep")
		return outcomeSkipped, false
	}

	payment, err := s.payments.GetPayment(ctx, r.PaymentID)
	if err != nil {
		log.ErrorContext(ctx, "failed to load payment, releasing retry", "error", err)
		s.release(ctx, log, r.ID, now)
		return outcomeDeferred, false
	}
	if payment == nil {
		log.WarnContext(ctx, "payment missing, cancelling orphaned retry")
		return s.cancel(ctx, log, r.ID, now), false
	}
	if payment.Status == types.PaymentStatusRecovered {
		log.InfoContext(ctx, "payment recovered, cancelling retry")
		return s.cancel(ctx, log, r.ID, now), false
	}

	tenant, err := s.tenants.GetTenant(ctx, payment.TenantID)
	if err != nil {
		log.WarnContext(ctx, "tenant unavailable, deferring retry",
			"tenant_id", payment.TenantID,
			"error", err,
		)
		s.release(ctx, log, r.ID, now)
		return outcomeDeferred, false
	}

	if payment.Recipient() == "" {
		log.InfoContext(ctx, "payment has no recipient, cancelling retry")
		return s.cancel(ctx, log, r.ID, now), false
	}

	status := types.RetryStatusSent
	result := outcomeSucceeded
	msgID, sendErr := s.notifier.Notify(ctx, tenant, payment, recovery.ReferenceID(payment.ID, r.RetryNumber))
	if sendErr != nil {
		status = types.RetryStatusFailed
		result = outcomeFailed
		log.WarnContext(ctx, "retry notice failed",
			"tenant_id", tenant.ID,
			"error_code", string(types.CodeOf(sendErr)),
			"error", sendErr,
		)
	} else {
		log.InfoContext(ctx, "retry notice sent", "tenant_id", tenant.ID, "message_id", msgID)
	}

	if err := s.retries.Complete(ctx, r.ID, status, now); err != nil {
		// The claim expired and another sweep owns the retry now; it will
		// schedule the follow-up.
		log.ErrorContext(ctx, "failed to complete retry", "status", string(status), "error", err)
		return result, true
	}

	next, at, ok := s.policy.Next(r.RetryNumber, now)
	if !ok {
		log.InfoContext(ctx, "retry campaign exhausted")
		return result, true
	}
	scheduled, err := s.retries.ScheduleRetry(ctx, payment.ID, next, at, now)
	switch {
	case err != nil:
		log.ErrorContext(ctx, "failed to schedule next retry", "next_retry", next, "error", err)
	case scheduled:
		log.InfoContext(ctx, "next retry scheduled", "next_retry", next, "scheduled_at", at)
	}
	return result, true
}

func (s *RetrySweeper) cancel(ctx context.Context, log *slog.Logger, retryID string, now time.Time) outcome {
	if err := s.retries.Cancel(ctx, retryID, now); err != nil {
		log.ErrorContext(ctx, "failed to cancel retry", "error", err)
		return outcomeSkipped
	}
	return outcomeCancelled
}

func (s *RetrySweeper) release(ctx context.Context, log *slog.Logger, retryID string, now time.Time) {
	if err := s.retries.Release(ctx, retryID, now); err != nil {
		log.ErrorContext(ctx, "failed to release retry claim", "error", err)
	}
}
