package body

import (
	"io"
	"net/http"

	"github.com/andydunstall/tether/httperr"
)

const defaultChunkSize = 32 * 1024

// Incoming is a Body received from a transport, such as a response body.
//
// It lifts the transport's io.ReadCloser back into the Body contract. Each
// call to Next returns the data from a single read, so chunk boundaries
// follow the transport. When the payload is itself a lifted body, chunks are
// passed through unchanged.
type Incoming struct {
	rc      io.ReadCloser
	chunker chunker

	// trailer returns the transport's trailer map, which is only complete
	// once rc returns io.EOF.
	trailer func() http.Header

	chunkSize int

	// err is the terminal error, either io.EOF or a converted body error.
	err error
	// pending is an error returned by the transport alongside data, which is
	// reported on the following call to Next.
	pending error
}

// Unlift wraps the given transport payload. trailer may be nil if the
// transport does not support trailers.
func Unlift(rc io.ReadCloser, trailer func() http.Header) *Incoming {
	if rc == nil {
		rc = http.NoBody
	}
	b := &Incoming{
		rc:        rc,
		trailer:   trailer,
		chunkSize: defaultChunkSize,
	}
	if c, ok := rc.(chunker); ok {
		b.chunker = c
		if trailer == nil {
			b.trailer = c.Trailer
		}
	}
	return b
}

func (b *Incoming) Next() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.pending != nil {
		b.setErr(b.pending)
		return nil, b.err
	}

	if b.chunker != nil {
		chunk, err := b.chunker.NextChunk()
		if err != nil {
			b.setErr(err)
			return nil, b.err
		}
		return chunk, nil
	}

	buf := make([]byte, b.chunkSize)
	for {
		n, err := b.rc.Read(buf)
		if n > 0 {
			b.pending = err
			return buf[:n:n], nil
		}
		if err != nil {
			b.setErr(err)
			return nil, b.err
		}
	}
}

// Trailers returns the trailers received after the data, ignoring trailer
// keys that were declared but never sent.
func (b *Incoming) Trailers() (http.Header, error) {
	if b.err != nil && b.err != io.EOF {
		return nil, b.err
	}
	if b.err != io.EOF || b.trailer == nil {
		return nil, nil
	}

	var trailers http.Header
	for k, v := range b.trailer() {
		if len(v) == 0 {
			continue
		}
		if trailers == nil {
			trailers = make(http.Header)
		}
		trailers[k] = v
	}
	return trailers, nil
}

func (b *Incoming) IsEndStream() bool {
	return b.err == io.EOF
}

// Close closes the underlying payload. Closing before the body is exhausted
// tells the transport the remaining data is not wanted.
func (b *Incoming) Close() error {
	return b.rc.Close()
}

func (b *Incoming) setErr(err error) {
	if err == io.EOF {
		b.err = io.EOF
		return
	}
	b.err = httperr.From(httperr.KindBody, "read body", err)
}

var _ Body = &Incoming{}
