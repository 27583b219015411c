package log

import (
	"fmt"
	"net/http"

	"github.com/spf13/pflag"
)

type Config struct {
	// Level is one of 'debug', 'info', 'warn' or 'error'.
	Level string `json:"level" yaml:"level"`

	// Subsystems logs every level for the named subsystems and their
	// children, regardless of Level.
	Subsystems []string `json:"subsystems" yaml:"subsystems"`
}

func (c *Config) Validate() error {
	if c.Level == "" {
		return fmt.Errorf("missing level")
	}
	if _, err := zapLevelFromString(c.Level); err != nil {
		return err
	}
	return nil
}

func (c *Config) RegisterFlags(fs *pflag.FlagSet) {
	fs.StringVar(
		&c.Level,
		"log.level",
		c.Level,
		`
Minimum log level to output.

The available levels are 'debug', 'info', 'warn' and 'error'.`,
	)
	fs.StringSliceVar(
		&c.Subsystems,
		"log.subsystems",
		c.Subsystems,
		`
Each log has a 'subsystem' field where the log occured.

'--log.subsystems' enables all log levels for those given subsystems. This
can be useful to debug a particular subsystem without having to enable all
debug logs.

Enabling a subsystem also enables its children, such as '--log.subsystems
client' enables both 'client.connect' and 'client.background' logs.`,
	)
}

// AccessLogHeaderConfig selects which headers are included in access logs.
// At most one of Allowlist and Blocklist may be set.
type AccessLogHeaderConfig struct {
	Allowlist []string `json:"allowlist" yaml:"allowlist"`
	Blocklist []string `json:"blocklist" yaml:"blocklist"`

	// Canonical header names, built by Validate.
	allow map[string]struct{}
	block map[string]struct{}
}

func (c *AccessLogHeaderConfig) Validate() error {
	if len(c.Allowlist) > 0 && len(c.Blocklist) > 0 {
		return fmt.Errorf("cannot define both allowlist and blocklist")
	}
	c.allow = canonicalSet(c.Allowlist)
	c.block = canonicalSet(c.Blocklist)
	return nil
}

// Filter returns a copy of h containing only the headers to log. h is not
// modified.
func (c *AccessLogHeaderConfig) Filter(h http.Header) http.Header {
	// Validate may not have been called when configured programmatically.
	if c.allow == nil && len(c.Allowlist) > 0 {
		c.allow = canonicalSet(c.Allowlist)
	}
	if c.block == nil && len(c.Blocklist) > 0 {
		c.block = canonicalSet(c.Blocklist)
	}

	filtered := make(http.Header, len(h))
	for name, values := range h {
		name = http.CanonicalHeaderKey(name)
		if c.allow != nil {
			if _, ok := c.allow[name]; !ok {
				continue
			}
		}
		if _, ok := c.block[name]; ok {
			continue
		}
		filtered[name] = append([]string(nil), values...)
	}
	return filtered
}

func (c *AccessLogHeaderConfig) RegisterFlags(fs *pflag.FlagSet, prefix string) {
	fs.StringSliceVar(
		&c.Allowlist,
		prefix+"allowlist",
		c.Allowlist,
		`
Headers to include in the access log. All other headers are omitted.`,
	)
	fs.StringSliceVar(
		&c.Blocklist,
		prefix+"blocklist",
		c.Blocklist,
		`
Headers to omit from the access log, such as 'Authorization'.`,
	)
}

func canonicalSet(names []string) map[string]struct{} {
	if len(names) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		set[http.CanonicalHeaderKey(name)] = struct{}{}
	}
	return set
}

type AccessLogConfig struct {
	// Disable logs successful requests at 'debug' rather than 'info'.
	// Server errors are always logged at 'warn'.
	Disable bool `json:"disable" yaml:"disable"`

	RequestHeaders  AccessLogHeaderConfig `json:"request_headers" yaml:"request_headers"`
	ResponseHeaders AccessLogHeaderConfig `json:"response_headers" yaml:"response_headers"`
}

func (c *AccessLogConfig) Validate() error {
	if err := c.RequestHeaders.Validate(); err != nil {
		return fmt.Errorf("request headers: %w", err)
	}
	if err := c.ResponseHeaders.Validate(); err != nil {
		return fmt.Errorf("response headers: %w", err)
	}
	return nil
}

func (c *AccessLogConfig) RegisterFlags(fs *pflag.FlagSet, prefix string) {
	prefix += ".access-log."
	fs.BoolVar(
		&c.Disable,
		prefix+"disable",
		c.Disable,
		`
Log successful requests at 'debug' instead of 'info'.`,
	)
	c.RequestHeaders.RegisterFlags(fs, prefix+"request-headers.")
	c.ResponseHeaders.RegisterFlags(fs, prefix+"response-headers.")
}
