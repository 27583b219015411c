// Package message defines the transport independent request and response
// envelopes sent over a connection.
package message

import (
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/andydunstall/tether/body"
)

// Request is an outbound request with a generic body.
type Request[B body.Body] struct {
	Method string
	URL    *url.URL
	// Host overrides the host from URL when set.
	Host   string
	Header http.Header
	Body   B
}

// NewRequest returns a request with the given method, target and body.
func NewRequest[B body.Body](method string, target string, b B) (*Request[B], error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if method == "" {
		method = http.MethodGet
	}
	return &Request[B]{
		Method: method,
		URL:    u,
		Header: make(http.Header),
		Body:   b,
	}, nil
}

// Clone returns a copy of the request with the given body. The URL and
// headers are deep copied so the clone can be modified independently.
func (r *Request[B]) Clone(b B) *Request[B] {
	clone := &Request[B]{
		Method: r.Method,
		Host:   r.Host,
		Header: r.Header.Clone(),
		Body:   b,
	}
	if r.URL != nil {
		u := *r.URL
		if r.URL.User != nil {
			user := *r.URL.User
			u.User = &user
		}
		clone.URL = &u
	}
	return clone
}

// Response is an inbound response whose body is streamed from the
// connection.
type Response struct {
	StatusCode int
	// Status is the status line text, such as '200 OK'.
	Status string
	Proto  string
	Header http.Header
	Body   *body.Incoming
}

// NewResponse returns a response with the given status and body, such as to
// respond from a server side service.
func NewResponse(statusCode int, b body.Body) *Response {
	if b == nil {
		b = body.Empty{}
	}
	return &Response{
		StatusCode: statusCode,
		Status:     fmt.Sprintf("%d %s", statusCode, http.StatusText(statusCode)),
		Proto:      "HTTP/1.1",
		Header:     make(http.Header),
		Body:       body.Unlift(body.Lift(b), nil),
	}
}

// Close discards any unread body data and releases the body.
//
// Responses that are not read to completion must be closed so the
// connection can be reused.
func (r *Response) Close() error {
	if r.Body == nil {
		return nil
	}
	for {
		_, err := r.Body.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			_ = r.Body.Close()
			return err
		}
	}
	return r.Body.Close()
}
