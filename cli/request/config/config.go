// Package config contains the configuration of the 'request' command.
package config

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/andydunstall/tether/pkg/config"
	"github.com/andydunstall/tether/pkg/log"
	"github.com/andydunstall/tether/protocol"
)

type RetryConfig struct {
	// Attempts is the maximum number of times to retry a failed request.
	// Zero disables retries.
	Attempts int `json:"attempts" yaml:"attempts"`

	// Backoff is the initial duration to wait between retries, which
	// doubles on each retry up to MaxBackoff.
	Backoff time.Duration `json:"backoff" yaml:"backoff"`

	MaxBackoff time.Duration `json:"max_backoff" yaml:"max_backoff"`
}

func (c *RetryConfig) Validate() error {
	if c.Attempts < 0 {
		return fmt.Errorf("attempts must not be negative")
	}
	if c.Backoff < 0 || c.MaxBackoff < 0 {
		return fmt.Errorf("backoff must not be negative")
	}
	if c.MaxBackoff != 0 && c.MaxBackoff < c.Backoff {
		return fmt.Errorf("max backoff must not be less than backoff")
	}
	return nil
}

func (c *RetryConfig) RegisterFlags(fs *pflag.FlagSet) {
	fs.IntVar(
		&c.Attempts,
		"retry.attempts",
		c.Attempts,
		`
Maximum number of times to retry the request.

Requests that fail with a transport error or a 5xx response are retried. Failed
connection attempts are also retried up to the same limit.`,
	)
	fs.DurationVar(
		&c.Backoff,
		"retry.backoff",
		c.Backoff,
		`
Initial duration to wait before retrying, which doubles on each retry.

Zero retries immediately.`,
	)
	fs.DurationVar(
		&c.MaxBackoff,
		"retry.max-backoff",
		c.MaxBackoff,
		`
Maximum duration to wait before retrying. Defaults to the initial backoff
multiplied by 32.`,
	)
}

// EffectiveMaxBackoff returns the maximum backoff, defaulting to Backoff*32.
func (c *RetryConfig) EffectiveMaxBackoff() time.Duration {
	if c.MaxBackoff != 0 {
		return c.MaxBackoff
	}
	return c.Backoff * 32
}

type Config struct {
	// Method is the HTTP request method.
	Method string `json:"method" yaml:"method"`

	// Headers contains request headers in the form 'key:value'.
	Headers []string `json:"headers" yaml:"headers"`

	// Data is the request body.
	Data string `json:"data" yaml:"data"`

	// ChunkSize splits the request body into chunks of at most ChunkSize
	// bytes, which are sent with chunked encoding. Zero sends the body with
	// a known length.
	ChunkSize int `json:"chunk_size" yaml:"chunk_size"`

	// Protocol is the protocol to use when not negotiated by the transport.
	// Either 'http1', 'http2' or 'mux'.
	Protocol string `json:"protocol" yaml:"protocol"`

	// WebSocket is a WebSocket URL to connect to, such as
	// 'ws://localhost:8000/ws'. If given, the request is sent over a
	// WebSocket connection to that URL.
	WebSocket string `json:"websocket" yaml:"websocket"`

	// Output is the output format. Either 'body' or 'yaml'.
	Output string `json:"output" yaml:"output"`

	// Timeout is the maximum duration of the request including retries. Zero
	// means no timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	HTTP2 protocol.HTTP2Config `json:"http2" yaml:"http2"`

	Mux protocol.MuxConfig `json:"mux" yaml:"mux"`

	Retry RetryConfig `json:"retry" yaml:"retry"`

	TLS config.ClientTLSConfig `json:"tls" yaml:"tls"`

	Log log.Config `json:"log" yaml:"log"`
}

func Default() *Config {
	return &Config{
		Method:   http.MethodGet,
		Protocol: "http1",
		Output:   "body",
		Log: log.Config{
			Level: "warn",
		},
	}
}

func (c *Config) Validate() error {
	if c.Method == "" {
		return fmt.Errorf("missing method")
	}
	if _, err := c.ParsedHeaders(); err != nil {
		return err
	}
	if c.ChunkSize < 0 {
		return fmt.Errorf("chunk size must not be negative")
	}
	if _, err := protocol.ParseProtocol(c.Protocol); err != nil {
		return err
	}
	if c.Output != "body" && c.Output != "yaml" {
		return fmt.Errorf("unsupported output: %s", c.Output)
	}
	if err := c.Retry.Validate(); err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	if err := c.TLS.Validate(); err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	return nil
}

// ParsedProtocol returns the configured protocol. Assumes the config is
// valid.
func (c *Config) ParsedProtocol() protocol.Protocol {
	p, _ := protocol.ParseProtocol(c.Protocol)
	return p
}

// ParsedHeaders returns the configured request headers.
func (c *Config) ParsedHeaders() (http.Header, error) {
	h := make(http.Header)
	for _, header := range c.Headers {
		k, v, ok := strings.Cut(header, ":")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid header: %s: must be 'key:value'", header)
		}
		h.Add(strings.TrimSpace(k), strings.TrimSpace(v))
	}
	return h, nil
}

// Chunks splits the request body into chunks.
func (c *Config) Chunks() [][]byte {
	data := []byte(c.Data)
	if len(data) == 0 {
		return nil
	}
	if c.ChunkSize == 0 || c.ChunkSize >= len(data) {
		return [][]byte{data}
	}

	var chunks [][]byte
	for len(data) > 0 {
		n := min(c.ChunkSize, len(data))
		chunks = append(chunks, data[:n])
		data = data[n:]
	}
	return chunks
}

func (c *Config) RegisterFlags(fs *pflag.FlagSet) {
	fs.StringVarP(
		&c.Method,
		"method",
		"X",
		c.Method,
		`
HTTP request method.`,
	)
	fs.StringArrayVarP(
		&c.Headers,
		"header",
		"H",
		c.Headers,
		`
Request header in the form 'key:value'. May be given multiple times.`,
	)
	fs.StringVarP(
		&c.Data,
		"data",
		"d",
		c.Data,
		`
Request body.`,
	)
	fs.IntVar(
		&c.ChunkSize,
		"chunk-size",
		c.ChunkSize,
		`
Splits the request body into chunks of at most the given size, which are sent
using chunked encoding. By default the body is sent with a known length.`,
	)
	fs.StringVar(
		&c.Protocol,
		"protocol",
		c.Protocol,
		`
Protocol to speak to the server. Either 'http1', 'http2' (with prior knowledge)
or 'mux'.

When connecting with TLS the protocol negotiated with ALPN takes precedence,
and when connecting with a WebSocket 'mux' is used if the server accepts the
'tether-mux' subprotocol.`,
	)
	fs.StringVar(
		&c.WebSocket,
		"websocket",
		c.WebSocket,
		`
WebSocket URL to connect to, such as 'ws://localhost:8000/ws'.

If given, the request is sent over a WebSocket connection to the URL rather
than a TCP connection to the request URL.`,
	)
	fs.StringVarP(
		&c.Output,
		"output",
		"o",
		c.Output,
		`
Output format. Either 'body' to output only the response body, or 'yaml' to
output the response status, headers, body and trailers.`,
	)
	fs.DurationVar(
		&c.Timeout,
		"timeout",
		c.Timeout,
		`
Maximum duration of the request, including connecting and retries. Zero means
no timeout.`,
	)

	c.HTTP2.RegisterFlags(fs, "client")
	c.Mux.RegisterFlags(fs, "client")
	c.Retry.RegisterFlags(fs)
	c.TLS.RegisterFlags(fs, "client")
	c.Log.RegisterFlags(fs)
}
