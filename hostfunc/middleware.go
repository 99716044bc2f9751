package hostfunc

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/caffeineduck/hostgate/resource"
)

// ClassRateLimited marks calls rejected by a Limiter.
const ClassRateLimited = "RateLimited"

// Middleware wraps a Handler to add cross-cutting behavior.
type Middleware func(next Handler) Handler

// Recover turns handler panics into Internal errors.
func Recover() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, call *Call) (resp []byte, err error) {
			defer func() {
				if r := recover(); r != nil {
					Logger().Error("host call handler panicked",
						zap.Uint64("instance", call.InstanceID),
						zap.String("namespace", call.Namespace),
						zap.String("operation", call.Operation),
						zap.Any("panic", r))
					resp = nil
					err = resource.Errorf(resource.ClassInternal, "%s/%s panicked: %v",
						call.Namespace, call.Operation, r)
				}
			}()
			return next(ctx, call)
		}
	}
}

// Logging logs every host call at debug level and failures at warn. A nil
// logger uses the package logger.
func Logging(logger *zap.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, call *Call) ([]byte, error) {
			log := logger
			if log == nil {
				log = Logger()
			}
			start := time.Now()
			resp, err := next(ctx, call)
			fields := []zap.Field{
				zap.Uint64("instance", call.InstanceID),
				zap.String("namespace", call.Namespace),
				zap.String("operation", call.Operation),
				zap.Int("payload", len(call.Payload)),
				zap.Duration("elapsed", time.Since(start)),
			}
			if err != nil {
				log.Warn("host call failed", append(fields, zap.Error(err))...)
			} else {
				log.Debug("host call", append(fields, zap.Int("response", len(resp)))...)
			}
			return resp, err
		}
	}
}

// Limiter throttles host calls per instance with a token bucket.
type Limiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[uint64]*rate.Limiter
}

// NewLimiter allows perSecond calls per instance with the given burst.
func NewLimiter(perSecond float64, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: make(map[uint64]*rate.Limiter),
	}
}

func (l *Limiter) get(id uint64) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[id]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[id] = lim
	}
	return lim
}

// Forget drops the bucket of a finished instance.
func (l *Limiter) Forget(id uint64) {
	l.mu.Lock()
	delete(l.limiters, id)
	l.mu.Unlock()
}

// Middleware rejects calls beyond the instance's budget.
func (l *Limiter) Middleware() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, call *Call) ([]byte, error) {
			if !l.get(call.InstanceID).Allow() {
				return nil, resource.NewError(ClassRateLimited, "host call rate exceeded")
			}
			return next(ctx, call)
		}
	}
}
