package transport

import (
	"fmt"
	"net"
	"net/url"
)

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
	"ws":    "80",
	"wss":   "443",
}

// Destination is the address of a target to connect to.
type Destination struct {
	Scheme string
	Host   string
	Port   string
	// Path is used by transports that route on the request path, such as
	// WebSockets.
	Path string
}

// ParseDestination parses a URI such as 'https://example.com:8443'. If the
// port is omitted the default port for the scheme is used.
func ParseDestination(uri string) (Destination, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return Destination{}, fmt.Errorf("parse uri: %w", err)
	}
	if u.Scheme == "" {
		return Destination{}, fmt.Errorf("missing scheme: %s", uri)
	}
	if u.Hostname() == "" {
		return Destination{}, fmt.Errorf("missing host: %s", uri)
	}

	port := u.Port()
	if port == "" {
		var ok bool
		port, ok = defaultPorts[u.Scheme]
		if !ok {
			return Destination{}, fmt.Errorf("unsupported scheme: %s", u.Scheme)
		}
	}

	return Destination{
		Scheme: u.Scheme,
		Host:   u.Hostname(),
		Port:   port,
		Path:   u.Path,
	}, nil
}

// Addr returns the 'host:port' address.
func (d Destination) Addr() string {
	return net.JoinHostPort(d.Host, d.Port)
}

func (d Destination) String() string {
	return d.Scheme + "://" + d.Addr() + d.Path
}
