package external

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"recoverly/internal/types"
)

// StubEmailProvider logs sends instead of delivering them. It backs
// EMAIL_PROVIDER=stub for local runs and records every input for tests.
type StubEmailProvider struct {
	logger *slog.Logger

	mu   sync.Mutex
	sent []types.SendInput
	// Returned by Send when set.
	Err error
}

// NewStubEmailProvider creates a StubEmailProvider.
func NewStubEmailProvider(logger *slog.Logger) *StubEmailProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &StubEmailProvider{logger: logger}
}

func (s *StubEmailProvider) Send(ctx context.Context, input types.SendInput) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return "", s.Err
	}
	s.sent = append(s.sent, input)
	s.logger.InfoContext(ctx, "stub: email send",
		"to", input.To,
		"subject", input.Subject,
		"reference_id", input.ReferenceID,
	)
	return fmt.Sprintf("msg_stub_%d", len(s.sent)), nil
}

// Sent returns a copy of every successful send so far.
func (s *StubEmailProvider) Sent() []types.SendInput {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.SendInput(nil), s.sent...)
}

var _ EmailProvider = (*StubEmailProvider)(nil)
