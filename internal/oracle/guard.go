package oracle

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	kuraerr "github.com/hyperjump/kura/pkg/errors"
)

// Guarded bounds every call to an inner Oracle with a deadline and an optional
// token-bucket limiter. It makes exactly one attempt per call.
type Guarded struct {
	inner   Oracle
	timeout time.Duration
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewGuarded wraps inner. A zero timeout leaves the caller's deadline alone; a
// non-positive rps disables pacing.
func NewGuarded(inner Oracle, timeout time.Duration, rps float64, burst int, logger *zap.Logger) *Guarded {
	g := &Guarded{inner: inner, timeout: timeout, logger: logger}
	if g.logger == nil {
		g.logger = zap.NewNop()
	}
	if rps > 0 {
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return g
}

// Generate returns an extraction error on timeout, cancellation or provider failure.
func (g *Guarded) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return "", kuraerr.Wrap(err, kuraerr.CodeExtraction, "oracle rate limit wait")
		}
	}
	out, err := g.inner.Generate(ctx, prompt, opts)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			g.logger.Warn("oracle call timed out", zap.Duration("timeout", g.timeout))
			return "", kuraerr.Wrap(context.DeadlineExceeded, kuraerr.CodeExtraction, "oracle call timed out")
		}
		if kuraerr.IsExtraction(err) {
			return "", err
		}
		return "", kuraerr.Wrap(err, kuraerr.CodeExtraction, "oracle call failed")
	}
	return out, nil
}
