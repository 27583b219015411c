package protocol

import (
	"github.com/spf13/pflag"
)

func (c *HTTP2Config) RegisterFlags(fs *pflag.FlagSet, prefix string) {
	prefix += ".http2."

	fs.Uint32Var(
		&c.MaxHeaderListSize,
		prefix+"max-header-list-size",
		c.MaxHeaderListSize,
		`
Maximum size of response headers to accept. Zero uses the default of 10MB.`,
	)
	fs.Uint32Var(
		&c.MaxReadFrameSize,
		prefix+"max-read-frame-size",
		c.MaxReadFrameSize,
		`
Largest frame the peer is permitted to send. Zero uses the default of 16KB.`,
	)
	fs.DurationVar(
		&c.ReadIdleTimeout,
		prefix+"read-idle-timeout",
		c.ReadIdleTimeout,
		`
Duration after which a health check ping is sent if no frames are received.

Zero disables health checks.`,
	)
	fs.DurationVar(
		&c.PingTimeout,
		prefix+"ping-timeout",
		c.PingTimeout,
		`
Duration after which the connection is closed if a health check ping doesn't
receive a response.`,
	)
}

func (c *MuxConfig) RegisterFlags(fs *pflag.FlagSet, prefix string) {
	prefix += ".mux."

	fs.BoolVar(
		&c.EnableKeepAlive,
		prefix+"keep-alive",
		c.EnableKeepAlive,
		`
Whether to send keep-alive pings on multiplexed sessions.`,
	)
	fs.DurationVar(
		&c.KeepAliveInterval,
		prefix+"keep-alive-interval",
		c.KeepAliveInterval,
		`
Interval between keep-alive pings. Zero uses the default of 30s.`,
	)
	fs.Uint32Var(
		&c.MaxStreamWindowSize,
		prefix+"max-stream-window-size",
		c.MaxStreamWindowSize,
		`
Maximum receive window per stream in bytes. Zero uses the default of 256KB.`,
	)
}
