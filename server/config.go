package server

import (
	"time"

	"github.com/spf13/pflag"
)

// HTTPConfig configures the timeouts and limits of served connections.
//
// Zero values use the net/http defaults.
type HTTPConfig struct {
	// ReadTimeout is the maximum duration for reading the entire request,
	// including the body.
	ReadTimeout time.Duration `json:"read_timeout" yaml:"read_timeout"`

	// ReadHeaderTimeout is the amount of time allowed to read request
	// headers.
	ReadHeaderTimeout time.Duration `json:"read_header_timeout" yaml:"read_header_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the
	// response.
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`

	// IdleTimeout is the maximum amount of time to wait for the next request
	// on an idle connection.
	IdleTimeout time.Duration `json:"idle_timeout" yaml:"idle_timeout"`

	// MaxHeaderBytes is the maximum number of bytes the server will read
	// parsing the request header.
	MaxHeaderBytes int `json:"max_header_bytes" yaml:"max_header_bytes"`
}

func (c *HTTPConfig) RegisterFlags(fs *pflag.FlagSet, prefix string) {
	prefix += ".http."

	fs.DurationVar(
		&c.ReadTimeout,
		prefix+"read-timeout",
		c.ReadTimeout,
		`
The maximum duration for reading the entire request, including the body. A
zero or negative value means there will be no timeout.`,
	)
	fs.DurationVar(
		&c.ReadHeaderTimeout,
		prefix+"read-header-timeout",
		c.ReadHeaderTimeout,
		`
The amount of time allowed to read request headers.`,
	)
	fs.DurationVar(
		&c.WriteTimeout,
		prefix+"write-timeout",
		c.WriteTimeout,
		`
The maximum duration before timing out writes of the response.`,
	)
	fs.DurationVar(
		&c.IdleTimeout,
		prefix+"idle-timeout",
		c.IdleTimeout,
		`
The maximum amount of time to wait for the next request when keep-alives are
enabled.`,
	)
	fs.IntVar(
		&c.MaxHeaderBytes,
		prefix+"max-header-bytes",
		c.MaxHeaderBytes,
		`
The maximum number of bytes the server will read parsing the request header's
keys and values, including the request line.`,
	)
}
