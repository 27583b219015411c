package protocol

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"

	"github.com/andydunstall/tether/httperr"
	"github.com/andydunstall/tether/pkg/log"
	"go.uber.org/zap"
)

const defaultBufferSize = 4096

var errConnClosed = errors.New("connection closed")

type http1Result struct {
	resp *http.Response
	err  error
}

type http1Exchange struct {
	req *http.Request

	// result is buffered so the driver never blocks delivering the result.
	result chan http1Result

	// abandoned is closed by the caller if it stops waiting for the result.
	abandoned chan struct{}
}

// http1Conn is an HTTP/1.1 client connection.
//
// The driver exclusively owns the transport and its buffers, and processes
// one exchange at a time. Requests are handed to the driver over a channel,
// and the driver waits for the response body to be consumed before
// accepting the next request, since the body is streamed from the
// connection's read buffer.
type http1Conn struct {
	conn net.Conn
	br   *bufio.Reader
	bw   *bufio.Writer

	// permit holds a token while a request is in flight, so only a single
	// caller may reserve the connection.
	permit chan struct{}

	exchangeCh chan *http1Exchange

	closeCh   chan struct{}
	closeOnce sync.Once

	// done is closed when the driver exits.
	done chan struct{}

	logger log.Logger
}

func newHTTP1Conn(conn net.Conn, readBufferSize, writeBufferSize int, logger log.Logger) *http1Conn {
	if readBufferSize <= 0 {
		readBufferSize = defaultBufferSize
	}
	if writeBufferSize <= 0 {
		writeBufferSize = defaultBufferSize
	}
	return &http1Conn{
		conn:       conn,
		br:         bufio.NewReaderSize(conn, readBufferSize),
		bw:         bufio.NewWriterSize(conn, writeBufferSize),
		permit:     make(chan struct{}, 1),
		exchangeCh: make(chan *http1Exchange),
		closeCh:    make(chan struct{}),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Ready reserves the connection for a single request. The reservation is
// released once the response body has been consumed.
func (c *http1Conn) Ready(ctx context.Context) error {
	select {
	case <-c.done:
		return httperr.From(httperr.KindClosed, "ready", errConnClosed)
	default:
	}

	select {
	case c.permit <- struct{}{}:
		return nil
	case <-c.done:
		return httperr.From(httperr.KindClosed, "ready", errConnClosed)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *http1Conn) Send(ctx context.Context, req *http.Request) (*http.Response, error) {
	exchange := &http1Exchange{
		req:       req,
		result:    make(chan http1Result, 1),
		abandoned: make(chan struct{}),
	}

	select {
	case c.exchangeCh <- exchange:
	case <-c.done:
		c.release()
		return nil, httperr.From(httperr.KindClosed, "send", errConnClosed)
	case <-ctx.Done():
		c.release()
		return nil, ctx.Err()
	}

	select {
	case result := <-exchange.result:
		return result.resp, result.err
	case <-ctx.Done():
		// The driver completes the exchange and discards the response.
		close(exchange.abandoned)
		return nil, ctx.Err()
	}
}

func (c *http1Conn) Run() error {
	defer close(c.done)
	defer c.conn.Close()

	for {
		// Watch for the peer closing the connection while idle. The peek
		// goroutine owns the read buffer until it returns.
		peekCh := make(chan error, 1)
		go func() {
			_, err := c.br.Peek(1)
			peekCh <- err
		}()

		select {
		case exchange := <-c.exchangeCh:
			keepAlive, err := c.exchange(exchange, peekCh)
			c.release()
			if err != nil {
				if c.closed() {
					return nil
				}
				return err
			}
			if !keepAlive {
				c.logger.Debug("connection not reusable; closing")
				return nil
			}
		case err := <-peekCh:
			if err == nil {
				return httperr.From(
					httperr.KindProtocol,
					"read",
					errors.New("unexpected data on idle connection"),
				)
			}
			if err == io.EOF || c.closed() {
				return nil
			}
			return httperr.From(httperr.KindTransport, "read", err)
		case <-c.closeCh:
			return nil
		}
	}
}

func (c *http1Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closeCh)
	})
	err := c.conn.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// exchange writes the request and reads the response, then waits for the
// response body to be consumed. Returns whether the connection can be
// reused.
func (c *http1Conn) exchange(exchange *http1Exchange, peekCh <-chan error) (bool, error) {
	req := exchange.req

	if err := req.Write(c.bw); err != nil {
		err = httperr.From(httperr.KindTransport, "write request", err)
		exchange.result <- http1Result{err: err}
		return false, err
	}
	if err := c.bw.Flush(); err != nil {
		err = httperr.From(httperr.KindTransport, "write request", err)
		exchange.result <- http1Result{err: err}
		return false, err
	}

	var err error
	select {
	case err = <-peekCh:
	case <-c.closeCh:
		err = errConnClosed
	}
	if err != nil {
		err = httperr.From(httperr.KindTransport, "read response", err)
		exchange.result <- http1Result{err: err}
		return false, err
	}

	resp, err := c.readResponse(req)
	if err != nil {
		exchange.result <- http1Result{err: err}
		return false, err
	}

	keepAlive := !resp.Close && !req.Close

	if resp.Body == http.NoBody {
		exchange.result <- http1Result{resp: resp}
		return keepAlive, nil
	}

	body := &http1Body{
		rc:   resp.Body,
		done: make(chan struct{}),
	}
	resp.Body = body
	exchange.result <- http1Result{resp: resp}

	select {
	case <-body.done:
	case <-exchange.abandoned:
		c.logger.Debug(
			"request abandoned; discarding response",
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
		)
		// Close drains the unread body so the connection can be reused.
		if err := body.Close(); err != nil {
			return false, httperr.From(httperr.KindTransport, "discard response", err)
		}
	case <-c.closeCh:
		return false, errConnClosed
	}

	if err := body.Err(); err != nil {
		return false, err
	}
	return keepAlive, nil
}

func (c *http1Conn) readResponse(req *http.Request) (*http.Response, error) {
	for {
		resp, err := http.ReadResponse(c.br, req)
		if err != nil {
			return nil, httperr.From(httperr.KindProtocol, "read response", err)
		}
		// Skip informational responses, except 101 Switching Protocols
		// which is final.
		if resp.StatusCode >= 100 && resp.StatusCode < 200 &&
			resp.StatusCode != http.StatusSwitchingProtocols {
			continue
		}
		return resp, nil
	}
}

func (c *http1Conn) release() {
	select {
	case <-c.permit:
	default:
	}
}

func (c *http1Conn) closed() bool {
	select {
	case <-c.closeCh:
		return true
	default:
		return false
	}
}

// http1Body signals the driver once the response body has been fully read or
// closed.
type http1Body struct {
	rc io.ReadCloser

	mu  sync.Mutex
	err error

	done     chan struct{}
	doneOnce sync.Once
}

func (b *http1Body) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if err != nil {
		if err != io.EOF {
			b.setErr(err)
		}
		b.signal()
	}
	return n, err
}

// Close discards any unread data so the next response can be read.
func (b *http1Body) Close() error {
	err := b.rc.Close()
	if err != nil {
		b.setErr(err)
	}
	b.signal()
	return err
}

// Err returns the error that ended the body, if any.
func (b *http1Body) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err == nil {
		return nil
	}
	return fmt.Errorf("response body: %w", b.err)
}

func (b *http1Body) setErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err == nil {
		b.err = err
	}
}

func (b *http1Body) signal() {
	b.doneOnce.Do(func() {
		close(b.done)
	})
}
