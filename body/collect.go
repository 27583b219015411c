package body

import (
	"bytes"
	"io"
	"net/http"
)

// Collect drains b, returning the concatenated data and the trailers.
func Collect(b Body) ([]byte, http.Header, error) {
	var buf bytes.Buffer
	for {
		chunk, err := b.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		buf.Write(chunk)
	}

	trailers, err := b.Trailers()
	if err != nil {
		return nil, nil, err
	}
	return buf.Bytes(), trailers, nil
}
