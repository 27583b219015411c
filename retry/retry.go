// Package retry retries failed calls to a service according to a policy.
package retry

import (
	"context"
	"io"
	"time"

	"github.com/andydunstall/tether/pkg/backoff"
	"github.com/andydunstall/tether/pkg/log"
	"github.com/andydunstall/tether/service"
	"go.uber.org/zap"
)

type options struct {
	minBackoff time.Duration
	maxBackoff time.Duration
	metrics    *Metrics
	logger     log.Logger
}

type Option interface {
	apply(*options)
}

type backoffOption struct {
	min time.Duration
	max time.Duration
}

func (o backoffOption) apply(opts *options) {
	opts.minBackoff = o.min
	opts.maxBackoff = o.max
}

// WithBackoff waits between attempts using exponential backoff. By default
// attempts are retried immediately.
func WithBackoff(min time.Duration, max time.Duration) Option {
	return backoffOption{min: min, max: max}
}

type metricsOption struct {
	Metrics *Metrics
}

func (o metricsOption) apply(opts *options) {
	opts.metrics = o.Metrics
}

func WithMetrics(metrics *Metrics) Option {
	return metricsOption{Metrics: metrics}
}

type loggerOption struct {
	Logger log.Logger
}

func (o loggerOption) apply(opts *options) {
	opts.logger = o.Logger
}

func WithLogger(logger log.Logger) Option {
	return loggerOption{Logger: logger}
}

// Retry is a service that retries calls to an inner service.
//
// Before each attempt the request is cloned, so a spare is available if the
// attempt must be retried. A request is retried only if the policy allows
// it and the spare exists. Responses from discarded attempts are closed.
type Retry[Req any, Resp any] struct {
	policy Policy[Req, Resp]
	inner  service.Service[Req, Resp]

	minBackoff time.Duration
	maxBackoff time.Duration

	metrics *Metrics
	logger  log.Logger
}

func New[Req any, Resp any](
	policy Policy[Req, Resp],
	inner service.Service[Req, Resp],
	opts ...Option,
) *Retry[Req, Resp] {
	options := options{
		logger: log.NewNopLogger(),
	}
	for _, o := range opts {
		o.apply(&options)
	}
	if options.metrics == nil {
		options.metrics = NewMetrics()
	}

	return &Retry[Req, Resp]{
		policy:     policy,
		inner:      inner,
		minBackoff: options.minBackoff,
		maxBackoff: options.maxBackoff,
		metrics:    options.metrics,
		logger:     options.logger.WithSubsystem("retry"),
	}
}

// Ready waits for the inner service to be ready for the first attempt.
func (r *Retry[Req, Resp]) Ready(ctx context.Context) error {
	return r.inner.Ready(ctx)
}

func (r *Retry[Req, Resp]) Call(ctx context.Context, req Req) (Resp, error) {
	policy := r.policy

	var b *backoff.Backoff
	if r.maxBackoff > 0 {
		b = backoff.New(0, r.minBackoff, r.maxBackoff)
	}

	for attempt := 1; ; attempt++ {
		if attempt > 1 {
			if b != nil && !b.Wait(ctx) {
				var resp Resp
				return resp, ctx.Err()
			}
			if err := r.inner.Ready(ctx); err != nil {
				var resp Resp
				return resp, err
			}
		}

		// Clone before the attempt since the attempt may consume the
		// request body.
		spare, hasSpare := policy.Clone(req)

		r.metrics.AttemptsTotal.Inc()
		resp, err := r.inner.Call(ctx, req)

		next, retry := policy.Retry(req, resp, err)
		if !retry {
			return resp, err
		}
		if !hasSpare {
			r.metrics.NotClonableTotal.Inc()
			r.logger.Debug(
				"request not clonable; not retrying",
				zap.Int("attempt", attempt),
			)
			return resp, err
		}

		reason := "error"
		if err == nil {
			reason = "response"
			// Discard the response so the connection can be reused.
			if closer, ok := any(resp).(io.Closer); ok {
				if closeErr := closer.Close(); closeErr != nil {
					r.logger.Debug("failed to discard response", zap.Error(closeErr))
				}
			}
		}
		r.metrics.RetriesTotal.WithLabelValues(reason).Inc()
		r.logger.Debug(
			"retrying",
			zap.Int("attempt", attempt),
			zap.String("reason", reason),
			zap.Error(err),
		)

		policy = next
		req = spare
	}
}
