package llm

import (
	"context"
	"log/slog"
	"time"
)

// Middleware wraps an Invoke call. Middleware runs in registration order
// on the way in and in reverse order on the way out.
type Middleware func(ctx context.Context, prompt string, next ClientFunc) (string, error)

// Chain returns a Client that passes every call through mw before reaching
// base.
func Chain(base Client, mw ...Middleware) Client {
	next := ClientFunc(base.Invoke)
	for i := len(mw) - 1; i >= 0; i-- {
		m, inner := mw[i], next
		next = func(ctx context.Context, prompt string) (string, error) {
			return m(ctx, prompt, inner)
		}
	}
	return next
}

// Logging records prompt size, latency and outcome of each call.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, prompt string, next ClientFunc) (string, error) {
		start := time.Now()
		logger.Info("invoking model", "prompt_bytes", len(prompt))

		resp, err := next(ctx, prompt)
		elapsed := time.Since(start).Round(time.Millisecond)
		if err != nil {
			logger.Warn("model invocation failed", "elapsed", elapsed, "error", err)
			return "", err
		}
		logger.Info("model invocation finished", "elapsed", elapsed, "response_bytes", len(resp))
		return resp, nil
	}
}
