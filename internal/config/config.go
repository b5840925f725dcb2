// Package config parses the daemon's optional YAML configuration file,
// grounded on cmd/dex/config.go's pattern of a small struct unmarshaled
// with ghodss/yaml, with flags overriding file values.
package config

import (
	"fmt"
	"os"

	"github.com/ghodss/yaml"
)

// Config is the daemon's ambient configuration -- not part of spec.md's
// core (which only names the socket path and $HOME as external
// interfaces) but carried as the ambient stack every long-lived daemon
// in this corpus ships with.
type Config struct {
	SocketPath     string   `json:"socket_path,omitempty"`
	LogLevel       string   `json:"log_level,omitempty"`
	LogFormat      string   `json:"log_format,omitempty"`
	PasswordTTL    int      `json:"password_ttl_seconds,omitempty"`
	AllowedIssuers []string `json:"allowed_issuers,omitempty"`
}

// Default returns the zero-value configuration with the daemon's
// built-in defaults applied.
func Default() Config {
	return Config{
		LogLevel:    "info",
		LogFormat:   "text",
		PasswordTTL: 0, // parsed from the file only; the daemon does not cache unlock passwords and never reads this field
	}
}

// Load reads and parses the YAML config file at path, starting from
// Default() so that omitted fields keep their defaults.
func Load(path string) (Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return c, nil
}

// IssuerAllowed reports whether issuer may be used, honoring an empty
// allow-list as "unrestricted".
func (c Config) IssuerAllowed(issuer string) bool {
	if len(c.AllowedIssuers) == 0 {
		return true
	}
	for _, allowed := range c.AllowedIssuers {
		if allowed == issuer {
			return true
		}
	}
	return false
}
