package ldap

import (
	"context"
	"crypto/tls"

	"github.com/go-ldap/ldap/v3"
)

// Conn is the subset of *ldap.Conn used by a Session.
// It exists so tests can substitute an in-memory directory.
type Conn interface {
	// Bind performs a simple bind
	Bind(username, password string) error
	// NTLMBind performs an NTLM challenge-response bind
	NTLMBind(domain, username, password string) error
	// StartTLS upgrades a plain connection
	StartTLS(config *tls.Config) error
	// Search runs a blocking search
	Search(searchRequest *ldap.SearchRequest) (*ldap.SearchResult, error)
	// Unbind sends an unbind request and closes the connection
	Unbind() error
	// Close closes the connection without unbinding
	Close() error
}

// DialFunc establishes a transport connection to server.
type DialFunc func(ctx context.Context, server string, opts ...ldap.DialOpt) (Conn, error)

// Searcher runs a single search on an authenticated session.
// *Session implements it. A nil result with a nil error is treated as an
// empty result.
type Searcher interface {
	SearchContext(ctx context.Context, searchRequest *ldap.SearchRequest) (*ldap.SearchResult, error)
}

// ComputerReader defines read access to computer accounts.
type ComputerReader interface {
	// FindComputerBySAMAccountNameContext retrieves a computer by its short name
	FindComputerBySAMAccountNameContext(ctx context.Context, name string) (*Computer, error)
	// CountComputersContext returns how many computer accounts match a short name
	CountComputersContext(ctx context.Context, name string) (int, error)
}

var (
	_ Searcher       = (*Session)(nil)
	_ ComputerReader = (*Session)(nil)
	_ Conn           = (*ldap.Conn)(nil)
)

type dialResult struct {
	conn *ldap.Conn
	err  error
}

// dialURL is the default DialFunc backed by ldap.DialURL.
// ldap.DialURL takes no context, so the dial runs in its own goroutine and
// dialURL returns as soon as ctx is done. An abandoned dial still ends at
// the dialer timeout; a connection it produces late is closed.
func dialURL(ctx context.Context, server string, opts ...ldap.DialOpt) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	done := make(chan dialResult, 1)
	go func() {
		conn, err := ldap.DialURL(server, opts...)
		done <- dialResult{conn: conn, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, res.err
		}
		return res.conn, nil
	case <-ctx.Done():
		go func() {
			if res := <-done; res.conn != nil {
				_ = res.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}
