package ldap

import (
	"crypto/tls"
	"log/slog"
	"net"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// Option represents a functional option for configuring an LDAP client.
// This follows the functional options pattern for flexible and extensible configuration.
type Option func(*LDAP)

// WithLogger sets a custom structured logger for LDAP operations.
// If not provided, slog.Default() is used.
//
// Example:
//
//	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
//	client, err := New(&config, username, password, WithLogger(logger))
func WithLogger(logger *slog.Logger) Option {
	return func(l *LDAP) {
		if logger != nil {
			l.logger = logger
			l.config.Logger = logger
		}
	}
}

// WithTLS configures TLS settings for ldaps:// URLs and StartTLS.
//
// Example:
//
//	tlsConfig := &tls.Config{
//	    ServerName: "dc01.example.com",
//	}
//	client, err := New(&config, username, password, WithTLS(tlsConfig))
func WithTLS(tlsConfig *tls.Config) Option {
	return func(l *LDAP) {
		if tlsConfig != nil {
			l.config.TLSConfig = tlsConfig
			l.config.DialOptions = append(l.config.DialOptions, ldap.DialWithTLSConfig(tlsConfig))
		}
	}
}

// WithStartTLS upgrades plain ldap:// connections with StartTLS before binding.
func WithStartTLS() Option {
	return func(l *LDAP) {
		l.config.StartTLS = true
	}
}

// WithNTLM selects NTLM challenge-response authentication.
// An empty domain is taken from a "DOMAIN\user" username.
func WithNTLM(domain string) Option {
	return func(l *LDAP) {
		l.config.BindMode = BindNTLM
		l.config.Domain = domain
	}
}

// WithDialOptions adds custom dial options for LDAP connections.
//
// Example:
//
//	dialOpts := []ldap.DialOpt{
//	    ldap.DialWithDialer(&net.Dialer{Timeout: 10 * time.Second}),
//	}
//	client, err := New(&config, username, password, WithDialOptions(dialOpts...))
func WithDialOptions(dialOpts ...ldap.DialOpt) Option {
	return func(l *LDAP) {
		if len(dialOpts) > 0 {
			l.config.DialOptions = append(l.config.DialOptions, dialOpts...)
		}
	}
}

// WithTimeout sets connection and operation timeouts.
//
// The connectionTimeout bounds establishing the TCP/TLS connection.
// The operationTimeout is sent to the server as the search time limit
// and applied to the connection's request timeout.
//
// Example:
//
//	client, err := New(&config, username, password,
//	    WithTimeout(10*time.Second, 30*time.Second))
func WithTimeout(connectionTimeout, operationTimeout time.Duration) Option {
	return func(l *LDAP) {
		if connectionTimeout > 0 {
			l.config.DialTimeout = connectionTimeout
			l.config.DialOptions = append(l.config.DialOptions,
				ldap.DialWithDialer(&net.Dialer{
					Timeout: connectionTimeout,
				}))
		}
		if operationTimeout > 0 {
			l.config.OperationTimeout = operationTimeout
		}
	}
}

// WithDialer replaces the transport used to reach the server.
// Tests use it to plug in an in-memory directory.
func WithDialer(dial DialFunc) Option {
	return func(l *LDAP) {
		if dial != nil {
			l.dial = dial
		}
	}
}
