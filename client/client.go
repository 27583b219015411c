// Package client establishes connections to HTTP servers and sends requests
// over them.
//
// Connect performs the transport and protocol handshake, returning a
// Connection that is driven by a background task. Client wraps a pooled
// http.Client for callers that don't need to manage connections.
package client

import (
	"context"
	"net/http"

	"github.com/andydunstall/tether/body"
	"github.com/andydunstall/tether/httperr"
	"github.com/andydunstall/tether/message"
	"github.com/hashicorp/go-cleanhttp"
)

// Client sends requests using a pooled http.Client, which manages its own
// connections.
type Client[B body.Body] struct {
	httpClient *http.Client
}

// NewClient returns a client using the given http.Client, or a pooled
// client with default settings if nil.
func NewClient[B body.Body](httpClient *http.Client) *Client[B] {
	if httpClient == nil {
		httpClient = cleanhttp.DefaultPooledClient()
	}
	return &Client[B]{
		httpClient: httpClient,
	}
}

// Ready always succeeds as the pool creates connections on demand.
func (c *Client[B]) Ready(_ context.Context) error {
	return nil
}

func (c *Client[B]) Call(ctx context.Context, req *message.Request[B]) (*message.Response, error) {
	resp, err := c.httpClient.Do(message.ToHTTP(ctx, req))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, httperr.From(httperr.KindTransport, "send", err)
	}
	return message.FromHTTP(resp), nil
}
