package connectivity

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"
)

// HandlerMiddleware decorates a Handler with a cross-cutting concern
// (logging, timeouts, retry, panic recovery) while keeping the Handler
// signature intact, so stacks compose freely.
type HandlerMiddleware func(next Handler) Handler

// Chain folds a list of middlewares into one. Order is outermost first:
//
//	Chain(Logging(...), WithCircuitBreaker(cb), Timeout(d))
//
// runs logging around the breaker around the timeout.
func Chain(mws ...HandlerMiddleware) HandlerMiddleware {
	return func(next Handler) Handler {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// Logging records the outcome and duration of every call to the named
// upstream service. Failures log at error level, successes at debug.
func Logging(service string, logger *slog.Logger) HandlerMiddleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			start := time.Now()
			resp, err := next(ctx, payload)
			elapsed := time.Since(start)

			if err != nil {
				logger.ErrorContext(ctx, "upstream call failed",
					"service", service,
					"duration_ms", elapsed.Milliseconds(),
					"payload_bytes", len(payload),
					"error", err)
				return resp, err
			}
			logger.DebugContext(ctx, "upstream call ok",
				"service", service,
				"duration_ms", elapsed.Milliseconds(),
				"payload_bytes", len(payload),
				"response_bytes", len(resp))
			return resp, nil
		}
	}
}

// Timeout caps the duration of a single call. The wrapped handler sees a
// context that expires after d; a handler that ignores its context keeps
// running in the background, but the caller unblocks with
// context.DeadlineExceeded.
func Timeout(d time.Duration) HandlerMiddleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, payload)
		}
	}
}

// Recovery turns a panic in the wrapped handler into an *ErrPanic return
// so one bad upstream response cannot take the whole process down.
func Recovery(logger *slog.Logger) HandlerMiddleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) (resp []byte, err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.ErrorContext(ctx, "recovered handler panic",
						"panic", r,
						"stack", string(debug.Stack()))
					err = &ErrPanic{Value: r}
				}
			}()
			return next(ctx, payload)
		}
	}
}

// WithRetry re-issues failed calls up to maxRetries times with doubling
// backoff, starting at baseBackoff. It gives up early when the context is
// done and never retries ErrCircuitOpen, since the breaker will keep
// rejecting until its reset timeout. A nil logger silences retry logging.
func WithRetry(maxRetries int, baseBackoff time.Duration, logger *slog.Logger) HandlerMiddleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			var lastErr error
			for attempt := 0; attempt <= maxRetries; attempt++ {
				resp, err := next(ctx, payload)
				if err == nil {
					return resp, nil
				}
				lastErr = err

				if ctx.Err() != nil {
					return nil, lastErr
				}
				if _, ok := err.(*ErrCircuitOpen); ok {
					return nil, err
				}
				if attempt == maxRetries {
					break
				}

				wait := baseBackoff * (1 << uint(attempt))
				if logger != nil {
					logger.WarnContext(ctx, "retrying upstream call",
						"attempt", attempt+1,
						"max_retries", maxRetries,
						"backoff_ms", wait.Milliseconds(),
						"error", err)
				}
				select {
				case <-ctx.Done():
					return nil, lastErr
				case <-time.After(wait):
				}
			}
			return nil, lastErr
		}
	}
}
