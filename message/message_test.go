package message

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/andydunstall/tether/body"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequest_Clone(t *testing.T) {
	req, err := NewRequest(http.MethodPost, "http://example.com/foo?a=b", body.NewString("foo"))
	require.NoError(t, err)
	req.Header.Set("X-Foo", "bar")

	clone := req.Clone(body.NewString("bar"))
	clone.Header.Set("X-Foo", "baz")
	clone.URL.Path = "/bar"

	assert.Equal(t, http.MethodPost, clone.Method)
	assert.Equal(t, "bar", req.Header.Get("X-Foo"))
	assert.Equal(t, "/foo", req.URL.Path)
	assert.Equal(t, "a=b", clone.URL.RawQuery)
}

func TestToHTTP(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		req, err := NewRequest("", "/foo", body.Empty{})
		require.NoError(t, err)
		req.Host = "example.com"

		httpReq := ToHTTP(context.Background(), req)
		assert.Equal(t, http.MethodGet, httpReq.Method)
		assert.Equal(t, "http", httpReq.URL.Scheme)
		assert.Equal(t, "example.com", httpReq.Host)
		assert.Equal(t, http.NoBody, httpReq.Body)
		assert.Equal(t, int64(0), httpReq.ContentLength)
	})

	t.Run("known length", func(t *testing.T) {
		req, err := NewRequest(http.MethodPost, "http://example.com", body.NewString("foo"))
		require.NoError(t, err)

		httpReq := ToHTTP(context.Background(), req)
		assert.Equal(t, int64(3), httpReq.ContentLength)
		assert.Nil(t, httpReq.Trailer)
	})

	t.Run("nil body", func(t *testing.T) {
		req, err := NewRequest[*body.Bytes](http.MethodGet, "http://example.com", nil)
		require.NoError(t, err)

		httpReq := ToHTTP(context.Background(), req)
		assert.Equal(t, http.NoBody, httpReq.Body)
		assert.Equal(t, int64(0), httpReq.ContentLength)

		ifaceReq, err := NewRequest[body.Body](http.MethodGet, "http://example.com", nil)
		require.NoError(t, err)

		httpReq = ToHTTP(context.Background(), ifaceReq)
		assert.Equal(t, http.NoBody, httpReq.Body)
		assert.Equal(t, int64(0), httpReq.ContentLength)
	})

	t.Run("streamed with trailers", func(t *testing.T) {
		received := make(chan http.Header, 1)
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			b, err := io.ReadAll(r.Body)
			assert.NoError(t, err)
			assert.Equal(t, "foobar", string(b))
			received <- r.Trailer
		}))
		defer server.Close()

		req, err := NewRequest(
			http.MethodPost,
			server.URL,
			body.NewChunks(
				[][]byte{[]byte("foo"), []byte("bar")},
				http.Header{"Checksum": []string{"123"}},
			),
		)
		require.NoError(t, err)

		httpReq := ToHTTP(context.Background(), req)
		assert.Equal(t, int64(-1), httpReq.ContentLength)

		resp, err := http.DefaultClient.Do(httpReq)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		trailer := <-received
		assert.Equal(t, "123", trailer.Get("Checksum"))
	})
}

func TestFromHTTP(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Trailer", "Checksum")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("hello"))
		w.Header().Set("Checksum", "abc")
	}))
	defer server.Close()

	httpResp, err := http.Get(server.URL)
	require.NoError(t, err)

	resp := FromHTTP(httpResp)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "202 Accepted", resp.Status)

	data, trailers, err := body.Collect(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	assert.Equal(t, "abc", trailers.Get("Checksum"))
	assert.NoError(t, resp.Close())
}

func TestNewResponse(t *testing.T) {
	resp := NewResponse(http.StatusNotFound, body.NewString("not found"))
	assert.Equal(t, "404 Not Found", resp.Status)

	data, _, err := body.Collect(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "not found", string(data))

	resp = NewResponse(http.StatusNoContent, nil)
	assert.NoError(t, resp.Close())
}
