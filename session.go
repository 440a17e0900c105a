package ldap

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// Session is an authenticated, read-only directory session.
// It is not safe for concurrent searches; the verifier drives it sequentially.
type Session struct {
	conn      Conn
	server    string
	baseDN    string
	timeLimit time.Duration
	logger    *slog.Logger
	opened    time.Time

	searches  atomic.Int64
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func newSession(conn Conn, server, baseDN string, timeLimit time.Duration, logger *slog.Logger) *Session {
	return &Session{
		conn:      conn,
		server:    server,
		baseDN:    baseDN,
		timeLimit: timeLimit,
		logger:    logger,
		opened:    time.Now(),
	}
}

// BaseDN returns the search base the session was opened for.
func (s *Session) BaseDN() string {
	return s.baseDN
}

// Server returns the server URL of the session.
func (s *Session) Server() string {
	return s.server
}

// TimeLimit returns the per-search time limit, zero when unlimited.
func (s *Session) TimeLimit() time.Duration {
	return s.timeLimit
}

// Searches returns the number of searches issued so far.
func (s *Session) Searches() int64 {
	return s.searches.Load()
}

// SearchContext runs a single blocking search. A done context is checked
// before the request is sent; an in-flight search is not interrupted.
func (s *Session) SearchContext(ctx context.Context, searchRequest *ldap.SearchRequest) (*ldap.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, WrapLDAPError("Search", s.server, err)
	}
	if s.closed.Load() {
		return nil, NewLDAPError("Search", s.server, ErrSessionClosed).WithDN(searchRequest.BaseDN)
	}

	start := time.Now()
	s.searches.Add(1)

	result, err := s.conn.Search(searchRequest)
	if err != nil {
		s.logger.Debug("ldap_search_failed",
			slog.String("base_dn", searchRequest.BaseDN),
			slog.String("filter", searchRequest.Filter),
			slog.String("error", err.Error()),
			slog.Duration("duration", time.Since(start)))
		return nil, WrapLDAPError("Search", s.server, err)
	}
	if result == nil {
		result = &ldap.SearchResult{}
	}

	s.logger.Debug("ldap_search_completed",
		slog.String("base_dn", searchRequest.BaseDN),
		slog.String("filter", searchRequest.Filter),
		slog.Int("entries", len(result.Entries)),
		slog.Duration("duration", time.Since(start)))

	return result, nil
}

// Close unbinds the session. It is idempotent: only the first call talks to
// the server and later calls return the first result.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)

		if err := s.conn.Unbind(); err != nil {
			// The connection may already be gone; release the socket regardless.
			_ = s.conn.Close()
			s.closeErr = WrapLDAPError("Unbind", s.server, err)
		}

		s.logger.Info("ldap_session_closed",
			slog.String("server", s.server),
			slog.Int64("searches", s.searches.Load()),
			slog.Duration("duration", time.Since(s.opened)))
	})
	return s.closeErr
}
