package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rennerdo30/proxyreg/internal/logging"
)

// Config is the proxyreg configuration file.
type Config struct {
	Logging logging.Config `yaml:"logging" json:"logging"`
	API     APIConfig      `yaml:"api" json:"api"`
	Metrics MetricsConfig  `yaml:"metrics" json:"metrics"`
	Watch   WatchConfig    `yaml:"watch" json:"watch"`

	// Proxy holds the persisted proxy options as an ordered mapping of
	// qualified keys ("<name>.<field>") to values. yaml.v3 only keeps the
	// raw node for a value yaml.Node field.
	Proxy yaml.Node `yaml:"proxy,omitempty" json:"-"`
}

// APIConfig contains administrative REST API settings.
type APIConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Listen    string `yaml:"listen" json:"listen"`
	Token     string `yaml:"token,omitempty" json:"token,omitempty"`
	TokenHash string `yaml:"token_hash,omitempty" json:"token_hash,omitempty"` // bcrypt hash of the token
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Listen  string `yaml:"listen" json:"listen"`
	Path    string `yaml:"path" json:"path"`
}

// WatchConfig contains config file watching settings.
type WatchConfig struct {
	Enabled  bool     `yaml:"enabled" json:"enabled"`
	Debounce Duration `yaml:"debounce" json:"debounce"`
}

// Duration is a time.Duration that reads and writes as a string like "200ms".
type Duration time.Duration

// UnmarshalYAML parses a duration string. An empty string is zero.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML writes the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// MarshalJSON writes the duration as a JSON string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON parses a JSON duration string. An empty string is zero.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// Duration returns the value as a time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Logging: logging.DefaultConfig(),
		API: APIConfig{
			Enabled: true,
			Listen:  "127.0.0.1:8082",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  "127.0.0.1:9090",
			Path:    "/metrics",
		},
		Watch: WatchConfig{
			Enabled:  true,
			Debounce: Duration(200 * time.Millisecond),
		},
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	var errs []error

	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}
	if c.API.Enabled && c.API.Listen == "" {
		errs = append(errs, errors.New("api.listen is required when the API is enabled"))
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		errs = append(errs, errors.New("metrics.listen is required when metrics are enabled"))
	}
	if c.Watch.Debounce < 0 {
		errs = append(errs, errors.New("watch.debounce cannot be negative"))
	}
	if _, err := c.ProxyEntries(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Sanitized returns a copy without secrets, suitable for display.
func (c *Config) Sanitized() Config {
	out := *c
	out.Proxy = yaml.Node{}
	if out.API.Token != "" {
		out.API.Token = "********"
	}
	if out.API.TokenHash != "" {
		out.API.TokenHash = "********"
	}
	return out
}
