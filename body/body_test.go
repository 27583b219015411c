package body

import (
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBytes(t *testing.T) {
	t.Run("single chunk", func(t *testing.T) {
		b := NewString("foo")
		assert.False(t, b.IsEndStream())
		assert.Equal(t, 3, b.Len())

		chunk, err := b.Next()
		require.NoError(t, err)
		assert.Equal(t, []byte("foo"), chunk)
		assert.True(t, b.IsEndStream())

		_, err = b.Next()
		assert.Equal(t, io.EOF, err)
		_, err = b.Next()
		assert.Equal(t, io.EOF, err)

		trailers, err := b.Trailers()
		assert.NoError(t, err)
		assert.Nil(t, trailers)
	})

	t.Run("clone before read", func(t *testing.T) {
		b := NewString("foo")

		clone, ok := b.TryClone()
		require.True(t, ok)

		// Draining the original must not affect the clone.
		_, _, err := Collect(b)
		require.NoError(t, err)

		data, _, err := Collect(clone)
		require.NoError(t, err)
		assert.Equal(t, []byte("foo"), data)
	})

	t.Run("clone after read", func(t *testing.T) {
		b := NewString("foo")
		_, err := b.Next()
		require.NoError(t, err)

		_, ok := b.TryClone()
		assert.False(t, ok)
	})

	t.Run("empty", func(t *testing.T) {
		b := NewBytes(nil)
		assert.True(t, b.IsEndStream())
		_, err := b.Next()
		assert.Equal(t, io.EOF, err)
	})
}

func TestNilBody(t *testing.T) {
	t.Run("bytes", func(t *testing.T) {
		var b *Bytes
		assert.True(t, b.IsEndStream())
		assert.Equal(t, 0, b.Len())
		_, err := b.Next()
		assert.Equal(t, io.EOF, err)

		clone, ok := b.TryClone()
		assert.True(t, ok)
		assert.Nil(t, clone)
	})

	t.Run("chunks", func(t *testing.T) {
		var b *Chunks
		assert.True(t, b.IsEndStream())
		data, trailers, err := Collect(b)
		require.NoError(t, err)
		assert.Empty(t, data)
		assert.Nil(t, trailers)
	})
}

func TestChunks(t *testing.T) {
	trailers := http.Header{"Checksum": []string{"abc"}}
	b := NewChunks([][]byte{[]byte("a"), nil, []byte("b")}, trailers)

	clone, ok := b.TryClone()
	require.True(t, ok)

	data, gotTrailers, err := Collect(b)
	require.NoError(t, err)
	assert.Equal(t, []byte("ab"), data)
	assert.Equal(t, trailers, gotTrailers)

	_, ok = b.TryClone()
	assert.False(t, ok)

	data, _, err = Collect(clone)
	require.NoError(t, err)
	assert.Equal(t, []byte("ab"), data)
}

func TestEmpty(t *testing.T) {
	var b Empty
	assert.True(t, b.IsEndStream())
	_, err := b.Next()
	assert.Equal(t, io.EOF, err)

	_, ok := b.TryClone()
	assert.True(t, ok)
}
