package retry

import (
	"context"
	"errors"

	"github.com/andydunstall/tether/body"
	"github.com/andydunstall/tether/client"
	"github.com/andydunstall/tether/httperr"
	"github.com/andydunstall/tether/message"
)

// Policy decides whether a request should be retried.
//
// Policies are immutable: each decision to retry returns the policy to use
// for the next attempt.
type Policy[Req any, Resp any] interface {
	// Retry inspects the outcome of an attempt, returning the policy for the
	// next attempt and true if the request should be retried.
	Retry(req Req, resp Resp, err error) (Policy[Req, Resp], bool)

	// Clone returns an unsent copy of req, or false if req can't be sent
	// again.
	Clone(req Req) (Req, bool)
}

// HTTPPolicy retries requests that fail with a transport error or a 5xx
// response, up to a maximum number of retries.
//
// Requests are only retried if their body can be cloned.
type HTTPPolicy[B body.Cloner[B]] struct {
	attempts int
}

// NewHTTPPolicy returns a policy allowing up to 'attempts' retries.
func NewHTTPPolicy[B body.Cloner[B]](attempts int) HTTPPolicy[B] {
	return HTTPPolicy[B]{
		attempts: attempts,
	}
}

// Attempts returns the number of remaining retries.
func (p HTTPPolicy[B]) Attempts() int {
	return p.attempts
}

func (p HTTPPolicy[B]) Retry(
	_ *message.Request[B],
	resp *message.Response,
	err error,
) (Policy[*message.Request[B], *message.Response], bool) {
	if p.attempts <= 0 {
		return p, false
	}
	if err != nil {
		if !isTransportError(err) {
			return p, false
		}
	} else if resp == nil || resp.StatusCode < 500 || resp.StatusCode > 599 {
		return p, false
	}
	return HTTPPolicy[B]{attempts: p.attempts - 1}, true
}

func (p HTTPPolicy[B]) Clone(req *message.Request[B]) (*message.Request[B], bool) {
	b, ok := req.Body.TryClone()
	if !ok {
		return nil, false
	}
	return req.Clone(b), true
}

// ConnectPolicy retries connecting to a target when acquiring the transport
// or the handshake fails, up to a maximum number of retries.
//
// Failing to spawn the connection's background task is not retried.
type ConnectPolicy[T any, Resp any] struct {
	attempts int
}

func NewConnectPolicy[T any, Resp any](attempts int) ConnectPolicy[T, Resp] {
	return ConnectPolicy[T, Resp]{
		attempts: attempts,
	}
}

func (p ConnectPolicy[T, Resp]) Attempts() int {
	return p.attempts
}

func (p ConnectPolicy[T, Resp]) Retry(_ T, _ Resp, err error) (Policy[T, Resp], bool) {
	if p.attempts <= 0 || err == nil {
		return p, false
	}
	var connectErr *client.ConnectError
	if !errors.As(err, &connectErr) {
		return p, false
	}
	if connectErr.Kind != client.ConnectErrorConnect &&
		connectErr.Kind != client.ConnectErrorHandshake {
		return p, false
	}
	return ConnectPolicy[T, Resp]{attempts: p.attempts - 1}, true
}

// Clone returns the target unchanged, since targets are values.
func (p ConnectPolicy[T, Resp]) Clone(target T) (T, bool) {
	return target, true
}

// isTransportError returns whether err is a failure of the connection or
// protocol, rather than the caller cancelling the request or misusing the
// connection.
func isTransportError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return httperr.IsKind(err, httperr.KindTransport) ||
		httperr.IsKind(err, httperr.KindProtocol) ||
		httperr.IsKind(err, httperr.KindClosed)
}

var (
	_ Policy[*message.Request[*body.Bytes], *message.Response] = HTTPPolicy[*body.Bytes]{}
	_ Policy[string, *client.Connection[body.Empty]]           = ConnectPolicy[string, *client.Connection[body.Empty]]{}
)
