package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/spf13/pflag"
)

// TLSConfig configures a TLS listener.
type TLSConfig struct {
	Cert string `json:"cert" yaml:"cert"`
	Key  string `json:"key" yaml:"key"`
}

func (c *TLSConfig) Validate() error {
	if !c.Enabled() {
		return nil
	}

	if c.Cert == "" {
		return fmt.Errorf("missing cert")
	}
	if c.Key == "" {
		return fmt.Errorf("missing key")
	}
	return nil
}

func (c *TLSConfig) RegisterFlags(fs *pflag.FlagSet, prefix string) {
	prefix += ".tls."

	fs.StringVar(
		&c.Cert,
		prefix+"cert",
		c.Cert,
		`
Path to the PEM encoded certificate file.

If given the server will listen on TLS.`,
	)
	fs.StringVar(
		&c.Key,
		prefix+"key",
		c.Key,
		`
Path to the PEM encoded key file.`,
	)
}

// Load returns the TLS configuration, or nil if TLS is disabled.
//
// The listener advertises both HTTP/2 and HTTP/1.1 using ALPN.
func (c *TLSConfig) Load() (*tls.Config, error) {
	if !c.Enabled() {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(c.Cert, c.Key)
	if err != nil {
		return nil, fmt.Errorf("load key pair: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{"h2", "http/1.1"},
	}, nil
}

func (c *TLSConfig) Enabled() bool {
	return c.Cert != "" || c.Key != ""
}

// ClientTLSConfig configures the TLS connection to a server.
type ClientTLSConfig struct {
	// RootCAs contains a path to root certificate authorities to validate
	// the server certificate.
	//
	// Defaults to using the host root CAs.
	RootCAs string `json:"root_cas" yaml:"root_cas"`

	// InsecureSkipVerify configures the client to accept any certificate
	// presented by the server and any host name in that certificate.
	InsecureSkipVerify bool `json:"insecure_skip_verify" yaml:"insecure_skip_verify"`

	// ServerName overrides the hostname used to verify the server
	// certificate.
	ServerName string `json:"server_name" yaml:"server_name"`
}

func (c *ClientTLSConfig) Validate() error {
	_, err := c.Load()
	return err
}

func (c *ClientTLSConfig) RegisterFlags(fs *pflag.FlagSet, prefix string) {
	prefix += ".tls."

	fs.StringVar(
		&c.RootCAs,
		prefix+"root-cas",
		c.RootCAs,
		`
A path to a certificate PEM file containing root certificiate authorities to
validate the TLS connection to the server.

Defaults to using the host root CAs.`,
	)
	fs.BoolVar(
		&c.InsecureSkipVerify,
		prefix+"insecure-skip-verify",
		c.InsecureSkipVerify,
		`
Configures the client to accept any certificate presented by the server and any
host name in that certificate.`,
	)
	fs.StringVar(
		&c.ServerName,
		prefix+"server-name",
		c.ServerName,
		`
Server name to use for certificate verification. This overrides the hostname
from the URL.`,
	)
}

func (c *ClientTLSConfig) Load() (*tls.Config, error) {
	tlsConfig := &tls.Config{
		InsecureSkipVerify: c.InsecureSkipVerify,
		ServerName:         c.ServerName,
	}

	if c.RootCAs != "" {
		caCert, err := os.ReadFile(c.RootCAs)
		if err != nil {
			return nil, fmt.Errorf("open root cas: %s: %w", c.RootCAs, err)
		}
		caCertPool := x509.NewCertPool()
		if ok := caCertPool.AppendCertsFromPEM(caCert); !ok {
			return nil, fmt.Errorf("parse root cas: %s", c.RootCAs)
		}
		tlsConfig.RootCAs = caCertPool
	}

	return tlsConfig, nil
}
