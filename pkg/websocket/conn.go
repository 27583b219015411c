package websocket

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// retryableStatusCodes contains a set of HTTP status codes that should be
// retried.
var retryableStatusCodes = map[int]struct{}{
	http.StatusRequestTimeout:      {},
	http.StatusTooManyRequests:     {},
	http.StatusInternalServerError: {},
	http.StatusBadGateway:          {},
	http.StatusServiceUnavailable:  {},
	http.StatusGatewayTimeout:      {},
}

// RetryableError indicates a error is retryable.
type RetryableError struct {
	err error
}

func NewRetryableError(err error) *RetryableError {
	return &RetryableError{err}
}

func (e *RetryableError) Unwrap() error {
	return e.err
}

func (e *RetryableError) Error() string {
	return e.err.Error()
}

type dialOptions struct {
	header       http.Header
	tlsConfig    *tls.Config
	subprotocols []string
}

type DialOption interface {
	apply(*dialOptions)
}

type headerOption http.Header

func (o headerOption) apply(opts *dialOptions) {
	for k, v := range o {
		opts.header[k] = append(opts.header[k], v...)
	}
}

// WithHeader adds headers to the upgrade request.
func WithHeader(header http.Header) DialOption {
	return headerOption(header)
}

type tlsConfigOption struct {
	TLSConfig *tls.Config
}

func (o tlsConfigOption) apply(opts *dialOptions) {
	opts.tlsConfig = o.TLSConfig
}

func WithTLSConfig(config *tls.Config) DialOption {
	return tlsConfigOption{TLSConfig: config}
}

type subprotocolsOption []string

func (o subprotocolsOption) apply(opts *dialOptions) {
	opts.subprotocols = append(opts.subprotocols, o...)
}

// WithSubprotocols offers the given subprotocols to the server, in order of
// preference.
func WithSubprotocols(subprotocols ...string) DialOption {
	return subprotocolsOption(subprotocols)
}

// Conn implements a [net.Conn] using WebSockets as the underlying transport.
//
// This adds a small amount of overhead compared to using TCP directly, though
// it means the connection can be used with HTTP servers and load balancers.
type Conn struct {
	wsConn *websocket.Conn

	reader io.Reader
}

func New(wsConn *websocket.Conn) *Conn {
	return &Conn{
		wsConn: wsConn,
		reader: nil,
	}
}

func Dial(ctx context.Context, url string, opts ...DialOption) (*Conn, error) {
	options := dialOptions{
		header: make(http.Header),
	}
	for _, o := range opts {
		o.apply(&options)
	}

	dialer := &websocket.Dialer{
		HandshakeTimeout: 60 * time.Second,
		Subprotocols:     options.subprotocols,
	}

	if options.tlsConfig != nil {
		dialer.TLSClientConfig = options.tlsConfig
	}

	wsConn, resp, err := dialer.DialContext(
		ctx, url, options.header,
	)
	if err != nil {
		if resp != nil {
			if _, ok := retryableStatusCodes[resp.StatusCode]; ok {
				return nil, NewRetryableError(err)
			}
			return nil, fmt.Errorf("%d: %w", resp.StatusCode, err)
		}
		return nil, NewRetryableError(err)
	}
	return New(wsConn), nil
}

// Upgrade upgrades an inbound HTTP request to a WebSocket connection,
// selecting the first of the given subprotocols offered by the client.
func Upgrade(
	w http.ResponseWriter,
	r *http.Request,
	subprotocols ...string,
) (*Conn, error) {
	upgrader := &websocket.Upgrader{
		Subprotocols: subprotocols,
	}
	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("upgrade: %w", err)
	}
	return New(wsConn), nil
}

// Subprotocol returns the subprotocol negotiated during the handshake, or an
// empty string if none was selected.
func (c *Conn) Subprotocol() string {
	return c.wsConn.Subprotocol()
}

func (c *Conn) Read(b []byte) (int, error) {
	for {
		if c.reader == nil {
			mt, r, err := c.wsConn.NextReader()
			if err != nil {
				return 0, err
			}
			if mt != websocket.BinaryMessage {
				return 0, fmt.Errorf("unexpected message type: %d", mt)
			}
			c.reader = r
		}

		n, err := c.reader.Read(b)
		if n > 0 {
			if err != nil {
				c.reader = nil
				if err == io.EOF {
					err = nil
				}
			}
			return n, err
		}
		if err != io.EOF {
			return 0, err
		}

		// If we get 0 EOF, read from a new reader.
		c.reader = nil
	}
}

func (c *Conn) Write(b []byte) (int, error) {
	if err := c.wsConn.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (c *Conn) Close() error {
	return c.wsConn.Close()
}

func (c *Conn) LocalAddr() net.Addr {
	return c.wsConn.LocalAddr()
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.wsConn.RemoteAddr()
}

func (c *Conn) SetDeadline(t time.Time) error {
	// Note don't just use wsConn.NetConn() as setting deadlines has WebSocket
	// specific logic.
	if err := c.SetReadDeadline(t); err != nil {
		return err
	}
	return c.SetWriteDeadline(t)
}

func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.wsConn.SetReadDeadline(t)
}

func (c *Conn) SetWriteDeadline(t time.Time) error {
	return c.wsConn.SetWriteDeadline(t)
}

var _ net.Conn = &Conn{}
