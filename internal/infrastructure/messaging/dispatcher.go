package messaging

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/guildxp/guildxp/internal/domain/shared"
	"github.com/guildxp/guildxp/pkg/logger"
	"github.com/guildxp/guildxp/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// DISPATCHER
// ══════════════════════════════════════════════════════════════════════════════

// InboundHandler processes one inbound envelope.
type InboundHandler func(ctx context.Context, in *Inbound) error

// Middleware wraps handler execution.
type Middleware func(InboundHandler) InboundHandler

// ErrNoRoute is returned for a kind with no registered handler.
var ErrNoRoute = errors.New("no handler registered for inbound kind")

// DispatchObserver receives per-kind handler statistics.
type DispatchObserver interface {
	InboundHandled(kind InboundKind, duration time.Duration, err error)
}

// Dispatcher routes inbound envelopes to the handler registered for their
// kind, through the middleware chain. It is safe for concurrent use.
type Dispatcher struct {
	mu          sync.RWMutex
	routes      map[InboundKind]InboundHandler
	middlewares []Middleware
	log         *logger.Logger
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(log *logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.NewNop()
	}
	return &Dispatcher{
		routes: make(map[InboundKind]InboundHandler),
		log:    log.WithComponent("dispatcher"),
	}
}

// Handle registers the handler for a kind, replacing any previous one.
func (d *Dispatcher) Handle(kind InboundKind, handler InboundHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.routes[kind] = handler
}

// Use appends middleware. The first added is the outermost.
func (d *Dispatcher) Use(middleware ...Middleware) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.middlewares = append(d.middlewares, middleware...)
}

// Dispatch runs the envelope through the chain.
func (d *Dispatcher) Dispatch(ctx context.Context, in *Inbound) error {
	d.mu.RLock()
	handler, ok := d.routes[in.Kind]
	middlewares := d.middlewares
	d.mu.RUnlock()

	if !ok {
		d.log.Warn("no route for inbound kind", zap.String("kind", string(in.Kind)), zap.String("envelope_id", in.ID))
		return retry.Permanent(fmt.Errorf("%w: %q", ErrNoRoute, in.Kind))
	}
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return handler(ctx, in)
}

// DispatchRaw decodes and dispatches one message value. Malformed
// envelopes come back permanent so the consumer dead-letters them at once.
func (d *Dispatcher) DispatchRaw(ctx context.Context, value []byte) error {
	in, err := DecodeInbound(value)
	if err != nil {
		return retry.Permanent(err)
	}
	if in.CorrelationID != "" {
		ctx = logger.ContextWithTraceID(ctx, in.CorrelationID)
	}
	return d.Dispatch(ctx, in)
}

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// RecoveryMiddleware turns a handler panic into an error.
func RecoveryMiddleware(log *logger.Logger) Middleware {
	return func(next InboundHandler) InboundHandler {
		return func(ctx context.Context, in *Inbound) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("handler panic recovered",
						zap.String("kind", string(in.Kind)),
						zap.String("envelope_id", in.ID),
						zap.Any("panic", r),
						zap.ByteString("stack", debug.Stack()),
					)
					err = retry.Permanent(fmt.Errorf("handler panic: %v", r))
				}
			}()
			return next(ctx, in)
		}
	}
}

// LoggingMiddleware logs handler execution.
func LoggingMiddleware(log *logger.Logger) Middleware {
	return func(next InboundHandler) InboundHandler {
		return func(ctx context.Context, in *Inbound) error {
			start := time.Now()
			err := next(ctx, in)
			fields := []zap.Field{
				zap.String("kind", string(in.Kind)),
				zap.String("envelope_id", in.ID),
				logger.UserID(in.UserID),
				logger.GuildID(in.GuildID),
				zap.Duration("duration", time.Since(start)),
			}
			l := log.WithContext(ctx)
			if err != nil {
				l.Warn("inbound handler failed", append(fields, zap.Error(err))...)
			} else {
				l.Debug("inbound handled", fields...)
			}
			return err
		}
	}
}

// MetricsMiddleware reports handler outcomes.
func MetricsMiddleware(observer DispatchObserver) Middleware {
	return func(next InboundHandler) InboundHandler {
		return func(ctx context.Context, in *Inbound) error {
			start := time.Now()
			err := next(ctx, in)
			observer.InboundHandled(in.Kind, time.Since(start), err)
			return err
		}
	}
}

// TimeoutMiddleware bounds each attempt with a context deadline.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next InboundHandler) InboundHandler {
		return func(ctx context.Context, in *Inbound) error {
			if timeout <= 0 {
				return next(ctx, in)
			}
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return next(ctx, in)
		}
	}
}

// RetryMiddleware re-runs the handler while it fails with a retryable ledger
// error. Anything else, including validation failures, is returned at once.
func RetryMiddleware(r *retry.Retrier) Middleware {
	return func(next InboundHandler) InboundHandler {
		return func(ctx context.Context, in *Inbound) error {
			return r.Do(ctx, func(ctx context.Context) error {
				return next(ctx, in)
			})
		}
	}
}

// LedgerRetrier retries persistence failures reported by the engine.
func LedgerRetrier(maxAttempts int, initialDelay time.Duration, log *logger.Logger) *retry.Retrier {
	return retry.EventRetrier(shared.IsRetryable,
		func(attempt int, err error, delay time.Duration) {
			log.Warn("retrying inbound handler",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
		},
		retry.WithMaxAttempts(maxAttempts),
		retry.WithInitialDelay(initialDelay),
	)
}
