package payment

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/cimillas/ticket-processor/internal/domain"
	"github.com/google/uuid"
)

// DeclineTokenPrefix marks payment tokens the sandbox always refuses.
const DeclineTokenPrefix = "tok_decline"

// Sandbox approves every charge except tokens starting with
// DeclineTokenPrefix. Repeated charges with the same idempotency key return
// the same confirmation token.
type Sandbox struct {
	mu      sync.Mutex
	charged map[string]string
}

func NewSandbox() *Sandbox {
	return &Sandbox{charged: make(map[string]string)}
}

func (s *Sandbox) Charge(ctx context.Context, req domain.ChargeRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.HasPrefix(req.Token, DeclineTokenPrefix) {
		return "", fmt.Errorf("%w: card refused", ErrDeclined)
	}
	if req.Amount <= 0 {
		return "", fmt.Errorf("%w: amount must be positive", ErrDeclined)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if req.IdempotencyKey != "" {
		if token, ok := s.charged[req.IdempotencyKey]; ok {
			return token, nil
		}
	}
	token := "sandbox_" + uuid.NewString()
	if req.IdempotencyKey != "" {
		s.charged[req.IdempotencyKey] = token
	}
	return token, nil
}
