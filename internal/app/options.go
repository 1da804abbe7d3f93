package app

import (
	"errors"
	"time"

	"github.com/cimillas/ticket-processor/internal/domain"
	"go.uber.org/zap"
)

const (
	defaultHoldTTL         = 15 * time.Minute
	defaultMaxHoldTTL      = time.Hour
	minIdempotencyTTL      = 10 * time.Second
	defaultReplayAttempts  = 5
	defaultReplayInterval  = 20 * time.Millisecond
	defaultConfirmAttempts = 3
)

// Observer receives the outcome of each core operation (metrics hook).
type Observer interface {
	Observe(operation, outcome string)
}

type nopObserver struct{}

func (nopObserver) Observe(string, string) {}

type settings struct {
	holdTTL         time.Duration
	maxHoldTTL      time.Duration
	replayAttempts  int
	replayInterval  time.Duration
	confirmAttempts int
	logger          *zap.Logger
	observer        Observer
}

func newSettings(opts []Option) settings {
	s := settings{
		holdTTL:         defaultHoldTTL,
		maxHoldTTL:      defaultMaxHoldTTL,
		replayAttempts:  defaultReplayAttempts,
		replayInterval:  defaultReplayInterval,
		confirmAttempts: defaultConfirmAttempts,
		logger:          zap.NewNop(),
		observer:        nopObserver{},
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.maxHoldTTL < s.holdTTL {
		s.maxHoldTTL = s.holdTTL
	}
	return s
}

// Option configures the services in this package.
type Option func(*settings)

// WithHoldTTL overrides the hold duration used when a request does not ask for one.
func WithHoldTTL(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.holdTTL = d
		}
	}
}

// WithMaxHoldTTL caps the hold duration a client may request.
func WithMaxHoldTTL(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.maxHoldTTL = d
		}
	}
}

// WithReplayWait sets how long a duplicate CreateHold waits for the winning
// request's reservation to become visible.
func WithReplayWait(attempts int, interval time.Duration) Option {
	return func(s *settings) {
		if attempts >= 0 {
			s.replayAttempts = attempts
		}
		if interval > 0 {
			s.replayInterval = interval
		}
	}
}

// WithConfirmAttempts bounds how many times Confirm and Cancel run when the
// ledger reports a concurrent modification.
func WithConfirmAttempts(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.confirmAttempts = n
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithObserver(o Observer) Option {
	return func(s *settings) {
		if o != nil {
			s.observer = o
		}
	}
}

func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	if kind := domain.KindOf(err); kind != "" {
		return string(kind)
	}
	return "error"
}

// isBusiness reports whether err is an expected domain failure rather than
// an infrastructure error.
func isBusiness(err error) bool {
	var de *domain.Error
	return errors.As(err, &de)
}
