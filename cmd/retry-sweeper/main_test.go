package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/robfig/cron/v3"

	"recoverly/internal/scheduler"
)

type mockSweeper struct {
	now    time.Time
	gotNow []time.Time
	result scheduler.SweepResult
	err    error
}

func (m *mockSweeper) ProcessDueRetries(_ context.Context, now time.Time) (scheduler.SweepResult, error) {
	m.gotNow = append(m.gotNow, now)
	return m.result, m.err
}

func (m *mockSweeper) Now() time.Time { return m.now }

func newHandler(s *mockSweeper) *Handler {
	return &Handler{Sweeper: s, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

var sweepNow = time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

func TestHandle_UsesSweeperClock(t *testing.T) {
	s := &mockSweeper{now: sweepNow, result: scheduler.SweepResult{Due: 3, Attempted: 3, Succeeded: 2, Failed: 1}}
	res, err := newHandler(s).Handle(context.Background(), scheduler.SweepPayload{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(s.gotNow) != 1 || !s.gotNow[0].Equal(sweepNow) {
		t.Errorf("expected one sweep at %v, got %v", sweepNow, s.gotNow)
	}
	if res != s.result {
		t.Errorf("expected result %+v, got %+v", s.result, res)
	}
}

func TestHandle_ReferenceTimeOverride(t *testing.T) {
	s := &mockSweeper{now: sweepNow}
	ref := time.Date(2026, 3, 1, 3, 0, 0, 0, time.FixedZone("EST", -5*3600))

	if _, err := newHandler(s).Handle(context.Background(), scheduler.SweepPayload{ReferenceTime: &ref}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(s.gotNow) != 1 {
		t.Fatalf("expected one sweep, got %d", len(s.gotNow))
	}
	if got := s.gotNow[0]; !got.Equal(ref) || got.Location() != time.UTC {
		t.Errorf("expected %v in UTC, got %v", ref.UTC(), got)
	}
}

func TestHandle_SweepError(t *testing.T) {
	s := &mockSweeper{now: sweepNow, err: errors.New("connection refused")}
	_, err := newHandler(s).Handle(context.Background(), scheduler.SweepPayload{})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("expected wrapped cause, got %q", err.Error())
	}
}

func TestHandle_NilLogger(t *testing.T) {
	s := &mockSweeper{now: sweepNow}
	h := &Handler{Sweeper: s}
	if _, err := h.Handle(context.Background(), scheduler.SweepPayload{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSchedule(t *testing.T) {
	s := &mockSweeper{now: sweepNow}
	c := cron.New(cron.WithLocation(time.UTC))

	id, err := schedule(context.Background(), c, "*/10 * * * *", newHandler(s))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entry := c.Entry(id)
	if !entry.Valid() {
		t.Fatal("expected a registered entry")
	}
	next := entry.Schedule.Next(sweepNow)
	if want := sweepNow.Add(10 * time.Minute); !next.Equal(want) {
		t.Errorf("expected next run %v, got %v", want, next)
	}

	entry.WrappedJob.Run()
	if len(s.gotNow) != 1 {
		t.Errorf("expected job to run one sweep, got %d", len(s.gotNow))
	}
}

func TestSchedule_Descriptor(t *testing.T) {
	c := cron.New()
	if _, err := schedule(context.Background(), c, "@every 5m", newHandler(&mockSweeper{})); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSchedule_InvalidExpression(t *testing.T) {
	c := cron.New()
	_, err := schedule(context.Background(), c, "every five minutes", newHandler(&mockSweeper{}))
	if err == nil {
		t.Fatal("expected error for invalid expression")
	}
	if !strings.Contains(err.Error(), "invalid retry schedule") {
		t.Errorf("unexpected error: %v", err)
	}
}
