package ldap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// BindMode selects how a session authenticates.
type BindMode string

const (
	// BindSimple performs an LDAP simple bind with a DN or UPN.
	BindSimple BindMode = "simple"
	// BindNTLM performs an NTLM challenge-response bind.
	BindNTLM BindMode = "ntlm"
)

// LDAP is a directory client. It holds validated configuration and
// credentials and opens read-only sessions on demand.
type LDAP struct {
	config   *Config
	user     string
	password string
	logger   *slog.Logger
	dial     DialFunc
}

// Config contains the configuration for LDAP connections
type Config struct {
	// Server is an ldap:// or ldaps:// URL
	Server string
	// BaseDN is the subtree searched for computer accounts
	BaseDN string
	// BindMode defaults to BindSimple
	BindMode BindMode
	// Domain is the NTLM domain; derived from "DOMAIN\user" when empty
	Domain           string
	TLSConfig        *tls.Config
	StartTLS         bool
	DialTimeout      time.Duration
	OperationTimeout time.Duration

	Logger      *slog.Logger
	DialOptions []ldap.DialOpt
}

// New creates a new LDAP client with the given configuration and optional functional options.
// It validates the configuration but does not contact the server; use Open or WithSession.
func New(config *Config, username, password string, opts ...Option) (*LDAP, error) {
	if config == nil {
		return nil, NewConfigError("config", "config cannot be nil")
	}

	cfg := *config
	cfg.DialOptions = append([]ldap.DialOpt(nil), config.DialOptions...)

	logger := slog.Default()
	if cfg.Logger != nil {
		logger = cfg.Logger
	}

	client := &LDAP{
		config:   &cfg,
		user:     username,
		password: password,
		logger:   logger,
		dial:     dialURL,
	}

	for _, opt := range opts {
		opt(client)
	}

	if client.config.BindMode == "" {
		client.config.BindMode = BindSimple
	}

	if err := client.validate(); err != nil {
		client.logger.Error("ldap_client_initialization_failed",
			slog.String("server", client.config.Server),
			slog.String("error", err.Error()))
		return nil, err
	}

	client.logger.Debug("ldap_client_initialized",
		slog.String("server", client.config.Server),
		slog.String("base_dn", client.config.BaseDN),
		slog.String("bind_mode", string(client.config.BindMode)),
		slog.String("user", maskSensitiveData(username)))

	return client, nil
}

func (l *LDAP) validate() error {
	if err := ValidateServerURL(l.config.Server); err != nil {
		return NewConfigError("server", err.Error())
	}
	if _, err := ValidateDN(l.config.BaseDN); err != nil {
		return NewConfigError("base_dn", err.Error())
	}
	if l.user == "" {
		return NewConfigError("username", "username cannot be empty")
	}
	if l.password == "" {
		return NewConfigError("password", "password cannot be empty")
	}
	switch l.config.BindMode {
	case BindSimple, BindNTLM:
	default:
		return NewConfigError("bind_mode", fmt.Sprintf("unsupported bind mode %q", l.config.BindMode))
	}
	if l.config.StartTLS && strings.HasPrefix(strings.ToLower(l.config.Server), "ldaps://") {
		return NewConfigError("start_tls", "StartTLS cannot be combined with an ldaps:// URL")
	}
	return nil
}

// Server returns the configured server URL.
func (l *LDAP) Server() string {
	return l.config.Server
}

// BaseDN returns the configured search base.
func (l *LDAP) BaseDN() string {
	return l.config.BaseDN
}

// Open dials the server and binds with the client's credentials.
// The caller owns the returned session and must Close it; prefer WithSession.
func (l *LDAP) Open(ctx context.Context) (*Session, error) {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return nil, &ConnectionError{Server: l.config.Server, Err: WrapLDAPError("Dial", l.config.Server, err)}
	}

	l.logger.Debug("ldap_connection_establishing",
		slog.String("server", l.config.Server),
		slog.String("base_dn", l.config.BaseDN),
		slog.Duration("dial_timeout", l.config.DialTimeout))

	conn, err := l.dial(ctx, l.config.Server, l.config.DialOptions...)
	if err != nil {
		l.logger.Error("ldap_connection_dial_failed",
			slog.String("server", l.config.Server),
			slog.String("error", err.Error()),
			slog.Duration("duration", time.Since(start)))
		return nil, &ConnectionError{Server: l.config.Server, Err: fmt.Errorf("%w: %w", ErrConnectionFailed, WrapLDAPError("Dial", l.config.Server, err))}
	}

	if timeoutConn, ok := conn.(interface{ SetTimeout(time.Duration) }); ok && l.config.OperationTimeout > 0 {
		timeoutConn.SetTimeout(l.config.OperationTimeout)
	}

	if l.config.StartTLS {
		if err := conn.StartTLS(l.startTLSConfig()); err != nil {
			_ = conn.Close()
			l.logger.Error("ldap_start_tls_failed",
				slog.String("server", l.config.Server),
				slog.String("error", err.Error()),
				slog.Duration("duration", time.Since(start)))
			return nil, &ConnectionError{Server: l.config.Server, Err: WrapLDAPError("StartTLS", l.config.Server, err)}
		}
	}

	// Check for context cancellation before binding
	if err := ctx.Err(); err != nil {
		_ = conn.Close()
		return nil, &ConnectionError{Server: l.config.Server, Err: WrapLDAPError("Bind", l.config.Server, err)}
	}

	if err := l.bind(conn); err != nil {
		_ = conn.Close()
		l.logger.Error("ldap_bind_failed",
			slog.String("server", l.config.Server),
			slog.String("user", maskSensitiveData(l.user)),
			slog.String("bind_mode", string(l.config.BindMode)),
			slog.String("error", err.Error()),
			slog.Duration("duration", time.Since(start)))
		return nil, &ConnectionError{Server: l.config.Server, Err: WrapLDAPError("Bind", l.config.Server, err)}
	}

	l.logger.Info("ldap_session_opened",
		slog.String("server", l.config.Server),
		slog.String("user", maskSensitiveData(l.user)),
		slog.Duration("duration", time.Since(start)))

	return newSession(conn, l.config.Server, l.config.BaseDN, l.config.OperationTimeout, l.logger), nil
}

// WithSession opens a session, passes it to fn and releases it exactly once
// on every exit path, including a panic inside fn. The error of fn is
// returned unchanged; an unbind failure is logged and does not replace it.
func (l *LDAP) WithSession(ctx context.Context, fn func(*Session) error) error {
	session, err := l.Open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			l.logger.Warn("ldap_session_close_failed",
				slog.String("server", l.config.Server),
				slog.String("error", closeErr.Error()))
		}
	}()

	return fn(session)
}

func (l *LDAP) bind(conn Conn) error {
	switch l.config.BindMode {
	case BindNTLM:
		domain, user := splitDomainUser(l.user)
		if l.config.Domain != "" {
			domain = l.config.Domain
		}
		return conn.NTLMBind(domain, user, l.password)
	default:
		return conn.Bind(l.user, l.password)
	}
}

func (l *LDAP) startTLSConfig() *tls.Config {
	if l.config.TLSConfig != nil {
		return l.config.TLSConfig
	}
	host := ""
	if u, err := url.Parse(l.config.Server); err == nil {
		host = u.Hostname()
	}
	return &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}
}

// splitDomainUser splits a down-level logon name "DOMAIN\user".
// Names without a backslash are returned with an empty domain.
func splitDomainUser(username string) (domain, user string) {
	if i := strings.Index(username, `\`); i >= 0 {
		return username[:i], username[i+1:]
	}
	return "", username
}

// ErrSessionClosed is returned when a search is attempted on a released session.
var ErrSessionClosed = errors.New("ldap: session closed")
