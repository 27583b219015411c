package client

import (
	"context"
	"net"
	"time"

	"github.com/andydunstall/tether/body"
	"github.com/andydunstall/tether/pkg/log"
	"github.com/andydunstall/tether/protocol"
	"github.com/andydunstall/tether/transport"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type options struct {
	builder  protocol.Builder
	executor Executor
	metrics  *Metrics
	logger   log.Logger
}

type Option interface {
	apply(*options)
}

type builderOption protocol.Builder

func (o builderOption) apply(opts *options) {
	opts.builder = protocol.Builder(o)
}

// WithBuilder configures the protocol handshake. Defaults to HTTP/1.1,
// though the protocol negotiated by the transport takes precedence.
func WithBuilder(builder protocol.Builder) Option {
	return builderOption(builder)
}

type executorOption struct {
	Executor Executor
}

func (o executorOption) apply(opts *options) {
	opts.executor = o.Executor
}

// WithExecutor configures the executor that runs each connection's
// background task. Defaults to GoExecutor.
func WithExecutor(executor Executor) Option {
	return executorOption{Executor: executor}
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

type connectState int

const (
	stateAcquiringTransport connectState = iota
	statePerformingHandshake
)

// Connect establishes connections to targets of type T, which send requests
// with bodies of type B.
//
// Connecting acquires a transport from the maker, performs the protocol
// handshake, then starts the connection's background task on the executor.
// The protocol is selected by the builder, unless the transport negotiated
// a protocol, such as using TLS ALPN.
type Connect[T any, B body.Body] struct {
	maker transport.Maker[T]

	builder  protocol.Builder
	executor Executor

	metrics *Metrics
	logger  log.Logger
}

func NewConnect[T any, B body.Body](maker transport.Maker[T], opts ...Option) *Connect[T, B] {
	options := options{
		executor: GoExecutor{},
		logger:   log.NewNopLogger(),
	}
	for _, o := range opts {
		o.apply(&options)
	}
	if options.metrics == nil {
		options.metrics = NewMetrics()
	}

	return &Connect[T, B]{
		maker:    maker,
		builder:  options.builder,
		executor: options.executor,
		metrics:  options.metrics,
		logger:   options.logger.WithSubsystem("client.connect"),
	}
}

// Ready waits for the maker to be ready to connect.
func (c *Connect[T, B]) Ready(ctx context.Context) error {
	if err := c.maker.Ready(ctx); err != nil {
		return &ConnectError{Kind: ConnectErrorConnect, Err: err}
	}
	return nil
}

// Call connects to target. On success exactly one background task has been
// started for the returned connection. On failure no task is started and
// any acquired transport is closed.
func (c *Connect[T, B]) Call(ctx context.Context, target T) (*Connection[B], error) {
	state := stateAcquiringTransport
	var conn net.Conn
	for {
		switch state {
		case stateAcquiringTransport:
			var err error
			conn, err = c.maker.Call(ctx, target)
			if err != nil {
				c.metrics.ConnectsTotal.WithLabelValues(ConnectErrorConnect.String()).Inc()
				c.logger.Debug("failed to connect", zap.Error(err))
				return nil, &ConnectError{Kind: ConnectErrorConnect, Err: err}
			}
			state = statePerformingHandshake

		case statePerformingHandshake:
			negotiated := transport.NegotiatedProtocol(conn)
			builder := c.builder.WithNegotiated(negotiated)
			if builder.Logger == nil {
				builder.Logger = c.logger
			}

			start := time.Now()
			sender, driver, err := builder.Handshake(ctx, conn)
			if err != nil {
				conn.Close()
				c.metrics.ConnectsTotal.WithLabelValues(ConnectErrorHandshake.String()).Inc()
				c.logger.Debug(
					"handshake failed",
					zap.String("protocol", builder.Protocol.String()),
					zap.Error(err),
				)
				return nil, &ConnectError{Kind: ConnectErrorHandshake, Err: err}
			}
			c.metrics.HandshakeLatency.WithLabelValues(
				builder.Protocol.String(),
			).Observe(time.Since(start).Seconds())

			return c.spawn(conn, builder.Protocol, negotiated, sender, driver)
		}
	}
}

func (c *Connect[T, B]) spawn(
	conn net.Conn,
	p protocol.Protocol,
	negotiated string,
	sender protocol.Sender,
	driver protocol.Driver,
) (*Connection[B], error) {
	id := uuid.NewString()
	logger := c.logger.WithSubsystem("client.background").With(
		zap.String("conn-id", id),
	)

	bg := newBackground(driver, c.metrics, logger)
	if err := c.executor.Spawn(bg.Run); err != nil {
		// A connection is never returned without its driver running.
		driver.Close()
		c.metrics.ConnectsTotal.WithLabelValues(ConnectErrorSpawn.String()).Inc()
		c.logger.Warn("failed to spawn connection", zap.Error(err))
		return nil, &ConnectError{Kind: ConnectErrorSpawn, Err: err}
	}

	c.metrics.ConnectsTotal.WithLabelValues("success").Inc()
	c.logger.Debug(
		"connected",
		zap.String("conn-id", id),
		zap.String("remote-addr", conn.RemoteAddr().String()),
		zap.String("protocol", p.String()),
		zap.String("negotiated", negotiated),
	)

	return newConnection[B](id, p, sender, driver, bg, c.metrics, logger), nil
}
