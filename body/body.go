// Package body translates between the generic chunk-based Body contract and
// the io.ReadCloser plus trailer header model used by net/http and
// x/net/http2.
package body

import (
	"io"
	"net/http"
)

// Body is a lazy, finite sequence of data chunks, optionally followed by
// trailing headers.
//
// A Body is single-consumption: once drained it cannot be replayed. Use
// Cloner to obtain an independent duplicate before consuming.
type Body interface {
	// Next returns the next data chunk. It returns io.EOF once the data is
	// exhausted, and on every later call.
	Next() ([]byte, error)

	// Trailers returns the trailing headers. Only valid once Next has
	// returned io.EOF. A nil header means there are no trailers.
	Trailers() (http.Header, error)

	// IsEndStream returns true when both Next and Trailers will yield no
	// more data.
	IsEndStream() bool
}

// Cloner is a Body that may be duplicated.
//
// TryClone returns a fresh, equivalent, unconsumed body, or false if the body
// cannot safely be sent again, such as if it has already been consumed.
type Cloner[B any] interface {
	Body
	TryClone() (B, bool)
}

// Empty is a body with no data and no trailers.
type Empty struct{}

func (Empty) Next() ([]byte, error) {
	return nil, io.EOF
}

func (Empty) Trailers() (http.Header, error) {
	return nil, nil
}

func (Empty) IsEndStream() bool {
	return true
}

func (Empty) TryClone() (Empty, bool) {
	return Empty{}, true
}

// Bytes is a body containing a single chunk.
//
// The chunk is taken on the first call to Next, after which the body can no
// longer be cloned. A nil *Bytes is an empty body. Clones share the underlying byte slice so it must not be
// modified after the body is created.
type Bytes struct {
	chunk []byte
	taken bool
}

func NewBytes(b []byte) *Bytes {
	return &Bytes{
		chunk: b,
	}
}

func NewString(s string) *Bytes {
	return NewBytes([]byte(s))
}

func (b *Bytes) Next() ([]byte, error) {
	if b == nil || b.taken {
		return nil, io.EOF
	}
	b.taken = true
	if len(b.chunk) == 0 {
		return nil, io.EOF
	}
	return b.chunk, nil
}

func (b *Bytes) Trailers() (http.Header, error) {
	return nil, nil
}

func (b *Bytes) IsEndStream() bool {
	return b == nil || b.taken || len(b.chunk) == 0
}

// Len returns the size of the chunk, or zero once consumed.
func (b *Bytes) Len() int {
	if b == nil || b.taken {
		return 0
	}
	return len(b.chunk)
}

func (b *Bytes) TryClone() (*Bytes, bool) {
	if b == nil {
		return nil, true
	}
	if b.taken {
		return nil, false
	}
	return NewBytes(b.chunk), true
}

// Chunks is a body containing a fixed list of chunks followed by optional
// trailers.
//
// Like Bytes, Chunks can only be cloned before it is first read, and a nil
// *Chunks is an empty body.
type Chunks struct {
	chunks   [][]byte
	trailers http.Header

	pos     int
	started bool
}

func NewChunks(chunks [][]byte, trailers http.Header) *Chunks {
	return &Chunks{
		chunks:   chunks,
		trailers: trailers,
	}
}

func (c *Chunks) Next() ([]byte, error) {
	if c == nil {
		return nil, io.EOF
	}
	c.started = true
	for c.pos < len(c.chunks) {
		chunk := c.chunks[c.pos]
		c.pos++
		if len(chunk) > 0 {
			return chunk, nil
		}
	}
	return nil, io.EOF
}

func (c *Chunks) Trailers() (http.Header, error) {
	if c == nil || len(c.trailers) == 0 {
		return nil, nil
	}
	return c.trailers.Clone(), nil
}

func (c *Chunks) IsEndStream() bool {
	if c == nil {
		return true
	}
	return c.pos >= len(c.chunks) && len(c.trailers) == 0
}

func (c *Chunks) TryClone() (*Chunks, bool) {
	if c == nil {
		return nil, true
	}
	if c.started {
		return nil, false
	}
	return NewChunks(c.chunks, c.trailers), true
}

var (
	_ Cloner[Empty]   = Empty{}
	_ Cloner[*Bytes]  = &Bytes{}
	_ Cloner[*Chunks] = &Chunks{}
)
