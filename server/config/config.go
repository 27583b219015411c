// Package config contains the configuration of the 'serve' command.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/andydunstall/tether/pkg/config"
	"github.com/andydunstall/tether/pkg/log"
	"github.com/andydunstall/tether/protocol"
	"github.com/andydunstall/tether/server"
)

type WebSocketConfig struct {
	// Path is the route that accepts WebSocket connections. Empty disables
	// the WebSocket endpoint.
	Path string `json:"path" yaml:"path"`
}

func (c *WebSocketConfig) Validate() error {
	if c.Path != "" && !strings.HasPrefix(c.Path, "/") {
		return fmt.Errorf("path must start with '/'")
	}
	return nil
}

type ServerConfig struct {
	// BindAddr is the address to bind to listen for incoming connections.
	BindAddr string `json:"bind_addr" yaml:"bind_addr"`

	// AdvertiseAddr is the address clients should use to reach the server.
	AdvertiseAddr string `json:"advertise_addr" yaml:"advertise_addr"`

	// Protocol is the protocol spoken on accepted connections. Either
	// 'http1', 'http2' or 'mux'.
	Protocol string `json:"protocol" yaml:"protocol"`

	WebSocket WebSocketConfig `json:"websocket" yaml:"websocket"`

	HTTP server.HTTPConfig `json:"http" yaml:"http"`

	Mux protocol.MuxConfig `json:"mux" yaml:"mux"`

	TLS config.TLSConfig `json:"tls" yaml:"tls"`

	AccessLog log.AccessLogConfig `json:"access_log" yaml:"access_log"`
}

func (c *ServerConfig) Validate() error {
	if c.BindAddr == "" {
		return fmt.Errorf("missing bind addr")
	}
	p, err := protocol.ParseProtocol(c.Protocol)
	if err != nil {
		return err
	}
	if err := c.WebSocket.Validate(); err != nil {
		return fmt.Errorf("websocket: %w", err)
	}
	// WebSocket upgrades require an HTTP/1.1 request.
	if c.WebSocket.Path != "" && p != protocol.HTTP1 {
		return fmt.Errorf("websocket: requires protocol http1")
	}
	if err := c.TLS.Validate(); err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	if err := c.AccessLog.Validate(); err != nil {
		return fmt.Errorf("access log: %w", err)
	}
	return nil
}

// ParsedProtocol returns the configured protocol. Assumes the config is
// valid.
func (c *ServerConfig) ParsedProtocol() protocol.Protocol {
	p, _ := protocol.ParseProtocol(c.Protocol)
	return p
}

func (c *ServerConfig) RegisterFlags(fs *pflag.FlagSet) {
	fs.StringVar(
		&c.BindAddr,
		"server.bind-addr",
		c.BindAddr,
		`
The host/port to listen for incoming connections.

If the host is unspecified it defaults to all listeners, such as
'--server.bind-addr :8000' will listen on '0.0.0.0:8000'`,
	)
	fs.StringVar(
		&c.AdvertiseAddr,
		"server.advertise-addr",
		c.AdvertiseAddr,
		`
Address clients should use to reach the server, which is logged on startup.

By default, if the bind address includes an IP to bind to that will be used.
If the bind address does not include an IP (such as ':8000') the nodes
private IP will be used, such as a bind address of ':8000' may have an
advertise address of '10.26.104.14:8000'.`,
	)
	fs.StringVar(
		&c.Protocol,
		"server.protocol",
		c.Protocol,
		`
The protocol spoken on accepted connections. Either 'http1', 'http2' (with
prior knowledge) or 'mux'.

When TLS is enabled, the protocol negotiated with ALPN takes precedence.`,
	)
	fs.StringVar(
		&c.WebSocket.Path,
		"server.websocket.path",
		c.WebSocket.Path,
		`
Route accepting WebSocket connections, such as '/ws'. Clients offering the
'tether-mux' subprotocol are served with the multiplexed protocol.

Requires protocol 'http1'. Empty disables the WebSocket endpoint.`,
	)
	c.HTTP.RegisterFlags(fs, "server")
	c.Mux.RegisterFlags(fs, "server")
	c.TLS.RegisterFlags(fs, "server")
	c.AccessLog.RegisterFlags(fs, "server")
}

type AdminConfig struct {
	// BindAddr is the address to bind to listen for incoming HTTP connections.
	BindAddr string `json:"bind_addr" yaml:"bind_addr"`

	TLS config.TLSConfig `json:"tls" yaml:"tls"`
}

func (c *AdminConfig) Validate() error {
	if c.BindAddr == "" {
		return fmt.Errorf("missing bind addr")
	}
	if err := c.TLS.Validate(); err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	return nil
}

func (c *AdminConfig) RegisterFlags(fs *pflag.FlagSet) {
	fs.StringVar(
		&c.BindAddr,
		"admin.bind-addr",
		c.BindAddr,
		`
The host/port to listen for incoming admin connections.

If the host is unspecified it defaults to all listeners, such as
'--admin.bind-addr :8002' will listen on '0.0.0.0:8002'`,
	)
	c.TLS.RegisterFlags(fs, "admin")
}

type Config struct {
	Server ServerConfig `json:"server" yaml:"server"`
	Admin  AdminConfig  `json:"admin" yaml:"admin"`
	Log    log.Config   `json:"log" yaml:"log"`

	// GracePeriod is the duration to gracefully shutdown the server. During
	// the grace period, listeners and idle connections are closed, then waits
	// for active requests to complete and closes their connections.
	GracePeriod time.Duration `json:"grace_period" yaml:"grace_period"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			BindAddr: ":8000",
			Protocol: "http1",
			AccessLog: log.AccessLogConfig{
				Disable: true,
			},
		},
		Admin: AdminConfig{
			BindAddr: ":8002",
		},
		Log: log.Config{
			Level: "info",
		},
		GracePeriod: time.Minute,
	}
}

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Admin.Validate(); err != nil {
		return fmt.Errorf("admin: %w", err)
	}
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	if c.GracePeriod == 0 {
		return fmt.Errorf("missing grace period")
	}
	return nil
}

func (c *Config) RegisterFlags(fs *pflag.FlagSet) {
	c.Server.RegisterFlags(fs)
	c.Admin.RegisterFlags(fs)
	c.Log.RegisterFlags(fs)

	fs.DurationVar(
		&c.GracePeriod,
		"grace-period",
		c.GracePeriod,
		`
Maximum duration after a shutdown signal is received (SIGTERM or
SIGINT) to gracefully shutdown the server before terminating.
This includes handling in-progress HTTP requests and gracefully closing
connections.`,
	)
}
