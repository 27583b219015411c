package message

import (
	"context"
	"net/http"

	"github.com/andydunstall/tether/body"
)

type lengther interface {
	Len() int
}

// ToHTTP converts the request into an *http.Request, lifting the body into
// the net/http payload contract.
//
// Bodies with a known length are sent with a Content-Length, otherwise the
// body is streamed and any trailers are sent once the body is exhausted. A
// nil body is sent as an empty body.
func ToHTTP[B body.Body](ctx context.Context, r *Request[B]) *http.Request {
	u := *r.URL
	if u.Scheme == "" {
		u.Scheme = "http"
	}
	host := r.Host
	if host == "" {
		host = u.Host
	}

	header := r.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}

	req := (&http.Request{
		Method:     r.Method,
		URL:        &u,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     header,
		Host:       host,
	}).WithContext(ctx)

	if any(r.Body) == nil || r.Body.IsEndStream() {
		req.Body = http.NoBody
		req.ContentLength = 0
		return req
	}

	lifted := body.Lift(r.Body)
	req.Body = lifted
	req.GetBody = nil
	if l, ok := any(r.Body).(lengther); ok {
		req.ContentLength = int64(l.Len())
	} else {
		req.ContentLength = -1
		req.Trailer = lifted.Trailer()
	}
	return req
}

// FromHTTP converts an *http.Response, unlifting the body back into the Body
// contract. Trailers are read from the response once the body is exhausted.
func FromHTTP(resp *http.Response) *Response {
	return &Response{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Proto:      resp.Proto,
		Header:     resp.Header,
		Body: body.Unlift(resp.Body, func() http.Header {
			return resp.Trailer
		}),
	}
}

// FromHTTPRequest converts an inbound server request, such as one received
// by an http.Handler.
func FromHTTPRequest(r *http.Request) *Request[*body.Incoming] {
	u := *r.URL
	return &Request[*body.Incoming]{
		Method: r.Method,
		URL:    &u,
		Host:   r.Host,
		Header: r.Header,
		Body: body.Unlift(r.Body, func() http.Header {
			return r.Trailer
		}),
	}
}
