// Package config loads the verifier configuration from YAML and the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	ldaplib "github.com/netresearch/ldap-endpoint-verify"
	"github.com/netresearch/ldap-endpoint-verify/internal/report"
)

// Environment variables that override file values.
const (
	EnvServer   = "LDAP_VERIFY_SERVER"
	EnvBaseDN   = "LDAP_VERIFY_BASE_DN"
	EnvUsername = "LDAP_VERIFY_USERNAME"
	EnvPassword = "LDAP_VERIFY_PASSWORD"
)

// Config holds the complete verifier configuration.
type Config struct {
	LDAP    LDAPConfig    `yaml:"ldap"`
	Input   InputConfig   `yaml:"input"`
	Output  OutputConfig  `yaml:"output"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     LogConfig     `yaml:"log"`
}

// LDAPConfig describes the directory connection.
type LDAPConfig struct {
	Server   string `yaml:"server"`
	BaseDN   string `yaml:"base_dn"`
	Username string `yaml:"username"`
	// Password should come from LDAP_VERIFY_PASSWORD rather than the file
	Password           string `yaml:"password"`
	BindMode           string `yaml:"bind_mode"`
	Domain             string `yaml:"domain"`
	StartTLS           bool   `yaml:"start_tls"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	DialTimeout        string `yaml:"dial_timeout"`
	OperationTimeout   string `yaml:"operation_timeout"`
}

// InputConfig describes the inventory file.
type InputConfig struct {
	Path       string   `yaml:"path"`
	Column     string   `yaml:"column"`
	Delimiter  string   `yaml:"delimiter"`
	Encoding   string   `yaml:"encoding"`
	// NullValues unset selects inventory.DefaultNullValues; [] disables them
	NullValues []string `yaml:"null_values"`
}

// OutputConfig describes the report file.
type OutputConfig struct {
	Path      string        `yaml:"path"`
	Delimiter string        `yaml:"delimiter"`
	Header    report.Header `yaml:"header"`
	Labels    report.Labels `yaml:"labels"`
}

// MetricsConfig controls the Prometheus textfile.
type MetricsConfig struct {
	// Textfile is written for the node_exporter textfile collector; empty disables it
	Textfile string `yaml:"textfile"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		LDAP: LDAPConfig{
			BindMode:         string(ldaplib.BindSimple),
			DialTimeout:      "10s",
			OperationTimeout: "30s",
		},
		Input: InputConfig{
			Path:      "endpoints.csv",
			Column:    "endpoint",
			Delimiter: ",",
		},
		Output: OutputConfig{
			Path:      "ad_verification_report.csv",
			Delimiter: ",",
			Header:    report.DefaultHeader(),
			Labels:    report.DefaultLabels(),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the YAML file at path on top of the defaults and applies
// environment overrides. An empty path yields the defaults with
// environment overrides; a path that cannot be read is an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(EnvServer); v != "" {
		c.LDAP.Server = v
	}
	if v := os.Getenv(EnvBaseDN); v != "" {
		c.LDAP.BaseDN = v
	}
	if v := os.Getenv(EnvUsername); v != "" {
		c.LDAP.Username = v
	}
	if v := os.Getenv(EnvPassword); v != "" {
		c.LDAP.Password = v
	}
}

// GetDialTimeout returns the dial timeout as a duration.
func (c *Config) GetDialTimeout() time.Duration {
	d, err := time.ParseDuration(c.LDAP.DialTimeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// GetOperationTimeout returns the per-search time limit as a duration.
func (c *Config) GetOperationTimeout() time.Duration {
	d, err := time.ParseDuration(c.LDAP.OperationTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// InputDelimiter returns the inventory delimiter as a rune.
func (c *Config) InputDelimiter() rune {
	r, _ := utf8.DecodeRuneInString(c.Input.Delimiter)
	return r
}

// OutputDelimiter returns the report delimiter as a rune.
func (c *Config) OutputDelimiter() rune {
	r, _ := utf8.DecodeRuneInString(c.Output.Delimiter)
	return r
}

// LogLevel returns the configured slog level.
func (c *Config) LogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// Validate reports every configuration problem at once. Each problem is a
// *ldaplib.ConfigError.
func (c *Config) Validate() error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, ldaplib.NewConfigError(field, fmt.Sprintf(format, args...)))
	}

	if c.LDAP.Server == "" {
		add("ldap.server", "not configured (set %s or --server)", EnvServer)
	} else if err := ldaplib.ValidateServerURL(c.LDAP.Server); err != nil {
		add("ldap.server", "%v", err)
	}
	if c.LDAP.BaseDN == "" {
		add("ldap.base_dn", "not configured (set %s or --base-dn)", EnvBaseDN)
	} else if _, err := ldaplib.ValidateDN(c.LDAP.BaseDN); err != nil {
		add("ldap.base_dn", "%v", err)
	}
	if c.LDAP.Username == "" {
		add("ldap.username", "not configured (set %s or --username)", EnvUsername)
	}
	if c.LDAP.Password == "" {
		add("ldap.password", "not configured (set %s)", EnvPassword)
	}
	switch ldaplib.BindMode(strings.ToLower(c.LDAP.BindMode)) {
	case ldaplib.BindSimple, ldaplib.BindNTLM:
	default:
		add("ldap.bind_mode", "invalid bind mode %q (valid: simple, ntlm)", c.LDAP.BindMode)
	}
	if d, err := time.ParseDuration(c.LDAP.DialTimeout); err != nil || d < 0 {
		add("ldap.dial_timeout", "invalid duration %q", c.LDAP.DialTimeout)
	}
	if d, err := time.ParseDuration(c.LDAP.OperationTimeout); err != nil || d < 0 {
		add("ldap.operation_timeout", "invalid duration %q", c.LDAP.OperationTimeout)
	}

	if c.Input.Path == "" {
		add("input.path", "not configured")
	}
	if c.Input.Column == "" {
		add("input.column", "not configured")
	}
	if err := validDelimiter(c.Input.Delimiter); err != nil {
		add("input.delimiter", "%v", err)
	}

	if c.Output.Path == "" {
		add("output.path", "not configured")
	}
	if err := validDelimiter(c.Output.Delimiter); err != nil {
		add("output.delimiter", "%v", err)
	}

	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		add("log.format", "invalid log format %q (valid: text, json)", c.Log.Format)
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		add("log.level", "invalid log level %q", c.Log.Level)
	}

	return errors.Join(errs...)
}

func validDelimiter(s string) error {
	if utf8.RuneCountInString(s) != 1 {
		return fmt.Errorf("delimiter must be a single character, got %q", s)
	}
	r, _ := utf8.DecodeRuneInString(s)
	if r == '"' || r == '\r' || r == '\n' || r == utf8.RuneError {
		return fmt.Errorf("invalid delimiter %q", s)
	}
	return nil
}
