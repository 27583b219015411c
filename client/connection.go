package client

import (
	"context"
	"strconv"
	"time"

	"github.com/andydunstall/tether/body"
	"github.com/andydunstall/tether/httperr"
	"github.com/andydunstall/tether/message"
	"github.com/andydunstall/tether/pkg/log"
	"github.com/andydunstall/tether/protocol"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Connection is an established connection that sends requests with bodies of
// type B.
//
// Each Call must be preceded by a successful Ready, which reserves capacity
// on the connection for exactly one request. Reservations are counted rather
// than idempotent so concurrent callers can each pair a Ready with a Call.
// A reservation is only released by the Call that consumes it, so a Ready
// must always be followed by a Call. On an HTTP/1 connection, which carries
// one request at a time, a second Ready blocks until the first reserved
// request completes.
//
// The connection remains usable if a call is abandoned by cancelling its
// context.
type Connection[B body.Body] struct {
	id       string
	protocol protocol.Protocol

	sender protocol.Sender
	driver protocol.Driver
	bg     *background

	// reserved is the number of successful Ready calls not yet consumed by
	// a Call.
	reserved *atomic.Int64

	metrics *Metrics
	logger  log.Logger
}

func newConnection[B body.Body](
	id string,
	p protocol.Protocol,
	sender protocol.Sender,
	driver protocol.Driver,
	bg *background,
	metrics *Metrics,
	logger log.Logger,
) *Connection[B] {
	return &Connection[B]{
		id:       id,
		protocol: p,
		sender:   sender,
		driver:   driver,
		bg:       bg,
		reserved: atomic.NewInt64(0),
		metrics:  metrics,
		logger:   logger,
	}
}

// ID returns a unique identifier for the connection.
func (c *Connection[B]) ID() string {
	return c.id
}

// Protocol returns the protocol the connection speaks.
func (c *Connection[B]) Protocol() protocol.Protocol {
	return c.protocol
}

// Ready blocks until the connection can accept another request and reserves
// it for the next Call.
func (c *Connection[B]) Ready(ctx context.Context) error {
	if c.bg.Exited() {
		return c.bg.ClosedError("ready")
	}

	if err := c.sender.Ready(ctx); err != nil {
		if c.bg.Exited() {
			return c.bg.ClosedError("ready")
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return httperr.From(httperr.KindTransport, "ready", err)
	}

	c.reserved.Inc()
	return nil
}

// Call sends the request and returns once the response headers are
// received. The response body is streamed from the connection, so must be
// read to completion or closed.
func (c *Connection[B]) Call(ctx context.Context, req *message.Request[B]) (*message.Response, error) {
	if c.reserved.Dec() < 0 {
		c.reserved.Inc()
		return nil, httperr.New(httperr.KindNotReady, "call")
	}

	if c.bg.Exited() {
		return nil, c.bg.ClosedError("call")
	}

	start := time.Now()

	resp, err := c.sender.Send(ctx, message.ToHTTP(ctx, req))
	if err != nil {
		c.metrics.RequestsTotal.With(prometheus.Labels{
			"status": "error",
			"method": req.Method,
		}).Inc()

		if ctx.Err() != nil {
			c.logger.Debug(
				"request abandoned",
				zap.String("method", req.Method),
				zap.Error(ctx.Err()),
			)
			return nil, ctx.Err()
		}
		if c.bg.Exited() {
			return nil, c.bg.ClosedError("call")
		}
		return nil, httperr.From(httperr.KindTransport, "send", err)
	}

	status := strconv.Itoa(resp.StatusCode)
	c.metrics.RequestsTotal.With(prometheus.Labels{
		"status": status,
		"method": req.Method,
	}).Inc()
	c.metrics.RequestLatency.With(prometheus.Labels{
		"status": status,
		"method": req.Method,
	}).Observe(time.Since(start).Seconds())

	return message.FromHTTP(resp), nil
}

// Close closes the connection. In-flight requests fail.
func (c *Connection[B]) Close() error {
	return c.driver.Close()
}

// Done returns a channel that is closed once the connection terminates.
func (c *Connection[B]) Done() <-chan struct{} {
	return c.bg.Done()
}

// Err returns the error that terminated the connection, or nil if the
// connection is open or was closed cleanly.
func (c *Connection[B]) Err() error {
	return c.bg.Err()
}
