package llm

import (
	"context"

	errs "github.com/PentesterFlow/OpenExplorer/internal/errors"
	"github.com/PentesterFlow/OpenExplorer/internal/logger"
	"github.com/PentesterFlow/OpenExplorer/internal/ratelimit"
)

// Retrying paces calls to another Decider and retries transient failures.
type Retrying struct {
	next    Decider
	retrier *errs.Retrier
	limiter *ratelimit.AdaptiveLimiter
	logger  *logger.Logger
}

// NewRetrying wraps next. A nil limiter disables pacing.
func NewRetrying(next Decider, cfg errs.RetryConfig, limiter *ratelimit.AdaptiveLimiter, l *logger.Logger) *Retrying {
	if l == nil {
		l = logger.Nop()
	}
	return &Retrying{
		next:    next,
		retrier: errs.NewRetrier(cfg),
		limiter: limiter,
		logger:  l.WithComponent("llm"),
	}
}

// NewDecider builds the paced, retrying OpenAI provider from cfg.
func NewDecider(cfg Config, l *logger.Logger) (*Retrying, error) {
	provider, err := NewOpenAI(cfg, l)
	if err != nil {
		return nil, err
	}
	var limiter *ratelimit.AdaptiveLimiter
	if cfg.RequestsPerMinute > 0 {
		perSecond := cfg.RequestsPerMinute / 60
		limiter = ratelimit.NewAdaptiveLimiter(perSecond/8, perSecond, 1)
	}
	return NewRetrying(provider, cfg.Retry, limiter, l), nil
}

func (r *Retrying) Decide(ctx context.Context, system, user string) (*Decision, error) {
	d, res := errs.DoWithResult(ctx, r.retrier, "decide", func(ctx context.Context) (*Decision, error) {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return nil, errs.NewCancelledError("", "decide")
			}
		}

		d, err := r.next.Decide(ctx, system, user)
		if err != nil {
			if r.limiter != nil && errs.GetErrorType(err) == errs.RateLimit {
				r.limiter.RecordThrottled()
			}
			if errs.IsRetryable(err) {
				r.logger.WithError(err).Warn("Decision call failed, retrying")
			}
			return nil, err
		}
		if r.limiter != nil {
			r.limiter.RecordSuccess()
		}
		return d, nil
	})

	if !res.Success {
		return nil, res.LastError
	}
	if res.Attempts > 1 {
		r.logger.Debugf("Decision succeeded after %d attempts", res.Attempts)
	}
	return d, nil
}
