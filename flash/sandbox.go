package flash

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/warp/benefits-engine/benefit"
)

// Sandbox is an in-process Provider for development. Every order is
// accepted and settles once SettleAfter has passed since submission.
type Sandbox struct {
	SettleAfter time.Duration
	Now         func() time.Time

	mu        sync.Mutex
	submitted map[string]time.Time
}

var _ benefit.Provider = (*Sandbox)(nil)

func NewSandbox(settleAfter time.Duration) *Sandbox {
	return &Sandbox{
		SettleAfter: settleAfter,
		Now:         time.Now,
		submitted:   make(map[string]time.Time),
	}
}

func (s *Sandbox) Submit(ctx context.Context, order benefit.PaymentOrder) (benefit.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return benefit.Receipt{}, err
	}
	if order.Total.IsNegative() {
		return benefit.Receipt{}, &benefit.RejectionError{Reason: "negative total"}
	}

	ref := "sandbox-" + uuid.NewString()
	s.mu.Lock()
	s.submitted[ref] = s.Now()
	s.mu.Unlock()
	return benefit.Receipt{Reference: ref}, nil
}

func (s *Sandbox) Status(ctx context.Context, reference string) (benefit.ProviderStatus, error) {
	if err := ctx.Err(); err != nil {
		return benefit.ProviderStatus{}, err
	}
	s.mu.Lock()
	at, ok := s.submitted[reference]
	s.mu.Unlock()
	if !ok {
		return benefit.ProviderStatus{}, &APIError{StatusCode: 404, Message: fmt.Sprintf("payment %s not found", reference)}
	}

	state := benefit.ProviderProcessing
	if !s.Now().Before(at.Add(s.SettleAfter)) {
		state = benefit.ProviderCompleted
	}
	return benefit.ProviderStatus{Reference: reference, State: state}, nil
}
