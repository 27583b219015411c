// Package service defines the two-phase request/response contract shared by
// connections, connectors and middleware such as retries.
package service

import "context"

// Service is an asynchronous operation from a request to a response.
//
// Callers must check Ready before each Call. Ready blocks until the service
// can accept a call, or returns the error explaining why it never will. This
// lets a service apply backpressure, such as a connection that only supports
// one in-flight request.
type Service[Req any, Resp any] interface {
	Ready(ctx context.Context) error
	Call(ctx context.Context, req Req) (Resp, error)
}

// Func adapts a function into a Service that is always ready.
type Func[Req any, Resp any] func(ctx context.Context, req Req) (Resp, error)

func (f Func[Req, Resp]) Ready(_ context.Context) error {
	return nil
}

func (f Func[Req, Resp]) Call(ctx context.Context, req Req) (Resp, error) {
	return f(ctx, req)
}

// Oneshot waits for svc to be ready then calls it with req.
func Oneshot[Req any, Resp any](
	ctx context.Context,
	svc Service[Req, Resp],
	req Req,
) (Resp, error) {
	if err := svc.Ready(ctx); err != nil {
		var resp Resp
		return resp, err
	}
	return svc.Call(ctx, req)
}

var _ Service[int, int] = Func[int, int](nil)
