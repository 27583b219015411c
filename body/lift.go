package body

import (
	"errors"
	"io"
	"net/http"

	"github.com/andydunstall/tether/httperr"
)

// ErrBodyClosed is returned when reading a body after it has been closed.
var ErrBodyClosed = errors.New("body closed")

// chunker is implemented by payloads that can hand out whole chunks without
// copying.
type chunker interface {
	NextChunk() ([]byte, error)
	Trailer() http.Header
}

// LiftBody lifts a Body into an io.ReadCloser, which is the payload type
// expected by net/http and x/net/http2.
//
// Chunks are forwarded as they are read from the inner body and are never
// accumulated. Once the inner body is exhausted its trailers are copied into
// the map returned by Trailer before Read returns io.EOF, which is when the
// HTTP implementations encode request trailers.
type LiftBody[B Body] struct {
	inner B

	// rem is the unread remainder of the current chunk.
	rem []byte

	trailer http.Header

	// err is the terminal error, either io.EOF or a converted body error.
	err error
}

// Lift wraps the given body.
func Lift[B Body](b B) *LiftBody[B] {
	return &LiftBody[B]{
		inner:   b,
		trailer: make(http.Header),
	}
}

// Inner returns the wrapped body.
func (l *LiftBody[B]) Inner() B {
	return l.inner
}

// Read copies from at most one chunk into p.
func (l *LiftBody[B]) Read(p []byte) (int, error) {
	for len(l.rem) == 0 {
		chunk, err := l.next()
		if err != nil {
			return 0, err
		}
		l.rem = chunk
	}
	n := copy(p, l.rem)
	l.rem = l.rem[n:]
	return n, nil
}

// NextChunk returns the next chunk, or the unread remainder of the current
// chunk if it was partially read.
func (l *LiftBody[B]) NextChunk() ([]byte, error) {
	if len(l.rem) > 0 {
		chunk := l.rem
		l.rem = nil
		return chunk, nil
	}
	for {
		chunk, err := l.next()
		if err != nil {
			return nil, err
		}
		if len(chunk) > 0 {
			return chunk, nil
		}
	}
}

// Trailer returns the trailer map. It is populated once the body has been
// read to io.EOF.
func (l *LiftBody[B]) Trailer() http.Header {
	return l.trailer
}

// IsEndStream returns whether the inner body is at the end of its stream
// with no remaining buffered data.
func (l *LiftBody[B]) IsEndStream() bool {
	return len(l.rem) == 0 && (l.err == io.EOF || l.inner.IsEndStream())
}

// Close releases the inner body if it is closable. Reads after Close fail
// with ErrBodyClosed unless the body was already exhausted.
func (l *LiftBody[B]) Close() error {
	if l.err == nil {
		l.err = httperr.From(httperr.KindBody, "read body", ErrBodyClosed)
	}
	l.rem = nil
	if closer, ok := any(l.inner).(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func (l *LiftBody[B]) next() ([]byte, error) {
	if l.err != nil {
		return nil, l.err
	}

	chunk, err := l.inner.Next()
	if err == io.EOF {
		trailers, err := l.inner.Trailers()
		if err != nil {
			l.err = httperr.From(httperr.KindBody, "read trailers", err)
			return nil, l.err
		}
		for k, v := range trailers {
			l.trailer[k] = append([]string(nil), v...)
		}
		l.err = io.EOF
		return nil, io.EOF
	}
	if err != nil {
		l.err = httperr.From(httperr.KindBody, "read body", err)
		return nil, l.err
	}
	return chunk, nil
}

var (
	_ io.ReadCloser = &LiftBody[Empty]{}
	_ chunker       = &LiftBody[Empty]{}
)
