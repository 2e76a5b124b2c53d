package identity

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/Extra-Chill/extrachill-users/internal/domain"
)

// RegistrationHandler observes successful account creation. Handlers run
// synchronously after the user exists; a handler error is logged, not
// propagated, so bookkeeping failures never fail the signup itself.
type RegistrationHandler func(ctx context.Context, user domain.User) error

// Events is a typed callback registry replacing string-keyed dynamic hooks.
type Events struct {
	mu           sync.RWMutex
	onRegistered []RegistrationHandler
	logger       *zap.Logger
}

// NewEvents constructs an empty registry.
func NewEvents(logger *zap.Logger) *Events {
	if logger == nil {
		logger = zap.L()
	}
	return &Events{logger: logger}
}

// OnUserRegistered registers a handler invoked after each successful signup.
func (e *Events) OnUserRegistered(handler RegistrationHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onRegistered = append(e.onRegistered, handler)
}

func (e *Events) emitUserRegistered(ctx context.Context, user domain.User) {
	e.mu.RLock()
	handlers := make([]RegistrationHandler, len(e.onRegistered))
	copy(handlers, e.onRegistered)
	e.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(ctx, user); err != nil {
			e.logger.Warn("registration handler failed",
				zap.Int64("user_id", user.ID),
				zap.Error(err),
			)
		}
	}
}
