package testutil

import (
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-ldap/ldap/v3"
)

// MockLDAPConn is an in-memory directory holding computer accounts.
// It implements the connection interface used by the directory client.
type MockLDAPConn struct {
	mu sync.Mutex

	// Configuration
	BindFunc     func(username, password string) error
	NTLMBindFunc func(domain, username, password string) error
	StartTLSFunc func(config *tls.Config) error
	SearchFunc   func(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	UnbindFunc   func() error

	// SearchErrors forces a search for the given sAMAccountName to fail
	SearchErrors map[string]error

	// State tracking
	BindCalls     []BindCall
	NTLMBindCalls []NTLMBindCall
	StartTLSCalls int
	SearchCalls   []SearchCall
	UnbindCalls   int
	CloseCalls    int
	Closed        bool

	// Default data
	Computers []*MockComputer
}

// BindCall records a simple bind operation
type BindCall struct {
	Username string
	Password string
	Error    error
}

// NTLMBindCall records an NTLM bind operation
type NTLMBindCall struct {
	Domain   string
	Username string
	Password string
	Error    error
}

// SearchCall records a search operation
type SearchCall struct {
	Request *ldap.SearchRequest
	Result  *ldap.SearchResult
	Error   error
}

// MockComputer represents a mock computer account
type MockComputer struct {
	DN             string
	SAMAccountName string
}

// NewMockLDAPConn creates a new mock LDAP connection with default behavior
func NewMockLDAPConn() *MockLDAPConn {
	mock := &MockLDAPConn{
		SearchErrors: make(map[string]error),
	}
	mock.setupDefaultFunctions()
	return mock
}

// setupDefaultFunctions sets up default function implementations
func (m *MockLDAPConn) setupDefaultFunctions() {
	m.BindFunc = func(username, password string) error {
		if username == "" || password == "" {
			return ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("empty credentials"))
		}
		return nil
	}

	m.NTLMBindFunc = func(domain, username, password string) error {
		if username == "" || password == "" {
			return ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("empty credentials"))
		}
		return nil
	}

	m.SearchFunc = m.searchComputers
}

// AddComputer registers a computer account. sam must include the trailing "$".
func (m *MockLDAPConn) AddComputer(dn, sam string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Computers = append(m.Computers, &MockComputer{DN: dn, SAMAccountName: sam})
}

// FailSearch makes every search for sam fail with err.
func (m *MockLDAPConn) FailSearch(sam string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SearchErrors[strings.ToLower(sam)] = err
}

// Bind implements the client connection interface
func (m *MockLDAPConn) Bind(username, password string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var err error
	if m.BindFunc != nil {
		err = m.BindFunc(username, password)
	}

	m.BindCalls = append(m.BindCalls, BindCall{
		Username: username,
		Password: password,
		Error:    err,
	})

	return err
}

// NTLMBind implements the client connection interface
func (m *MockLDAPConn) NTLMBind(domain, username, password string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var err error
	if m.NTLMBindFunc != nil {
		err = m.NTLMBindFunc(domain, username, password)
	}

	m.NTLMBindCalls = append(m.NTLMBindCalls, NTLMBindCall{
		Domain:   domain,
		Username: username,
		Password: password,
		Error:    err,
	})

	return err
}

// StartTLS implements the client connection interface
func (m *MockLDAPConn) StartTLS(config *tls.Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.StartTLSCalls++
	if m.StartTLSFunc != nil {
		return m.StartTLSFunc(config)
	}
	return nil
}

// Search implements the client connection interface
func (m *MockLDAPConn) Search(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Closed {
		err := ldap.NewError(ldap.ErrorNetwork, errors.New("ldap: connection closed"))
		m.SearchCalls = append(m.SearchCalls, SearchCall{Request: req, Error: err})
		return nil, err
	}

	var result *ldap.SearchResult
	var err error

	if m.SearchFunc != nil {
		result, err = m.SearchFunc(req)
	}

	m.SearchCalls = append(m.SearchCalls, SearchCall{
		Request: req,
		Result:  result,
		Error:   err,
	})

	return result, err
}

// Unbind implements the client connection interface
func (m *MockLDAPConn) Unbind() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.UnbindCalls++
	if m.UnbindFunc != nil {
		if err := m.UnbindFunc(); err != nil {
			return err
		}
	}
	m.Closed = true
	return nil
}

// Close implements the client connection interface
func (m *MockLDAPConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CloseCalls++
	m.Closed = true
	return nil
}

// Released reports whether the connection was unbound or closed.
func (m *MockLDAPConn) Released() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.Closed
}

// SearchedAccounts returns the sAMAccountName of every search, in order.
func (m *MockLDAPConn) SearchedAccounts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.SearchCalls))
	for _, call := range m.SearchCalls {
		sam, _ := ParseComputerFilter(call.Request.Filter)
		names = append(names, sam)
	}
	return names
}

// searchComputers is the default search; it is called with m.mu held.
func (m *MockLDAPConn) searchComputers(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	sam, ok := ParseComputerFilter(req.Filter)
	if !ok {
		return nil, ldap.NewError(ldap.LDAPResultFilterError, fmt.Errorf("unsupported filter %q", req.Filter))
	}

	if err, exists := m.SearchErrors[strings.ToLower(sam)]; exists {
		return nil, err
	}

	result := &ldap.SearchResult{Entries: []*ldap.Entry{}}
	for _, c := range m.Computers {
		// sAMAccountName matching is case-insensitive in Active Directory
		if strings.EqualFold(c.SAMAccountName, sam) && matchesBaseDN(c.DN, req.BaseDN) {
			result.Entries = append(result.Entries, computerToEntry(c, req.Attributes))
		}
	}

	if req.SizeLimit > 0 && len(result.Entries) > req.SizeLimit {
		result.Entries = result.Entries[:req.SizeLimit]
	}

	return result, nil
}

// ParseComputerFilter extracts the unescaped sAMAccountName from a filter of
// the form (&(objectClass=computer)(sAMAccountName=VALUE)).
func ParseComputerFilter(filter string) (string, bool) {
	lower := strings.ToLower(filter)
	if !strings.Contains(lower, "(objectclass=computer)") {
		return "", false
	}

	const attr = "(samaccountname="
	start := strings.Index(lower, attr)
	if start < 0 {
		return "", false
	}
	rest := filter[start+len(attr):]
	end := strings.IndexByte(rest, ')')
	if end < 0 {
		return "", false
	}

	value, err := unescapeFilterValue(rest[:end])
	if err != nil {
		return "", false
	}
	return value, true
}

// unescapeFilterValue reverses RFC 4515 "\xx" escaping.
func unescapeFilterValue(value string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(value); i++ {
		if value[i] != '\\' {
			b.WriteByte(value[i])
			continue
		}
		if i+2 >= len(value) {
			return "", fmt.Errorf("truncated escape in %q", value)
		}
		decoded, err := hex.DecodeString(value[i+1 : i+3])
		if err != nil {
			return "", err
		}
		b.Write(decoded)
		i += 2
	}
	return b.String(), nil
}

// matchesBaseDN checks if a DN is under the base DN
func matchesBaseDN(dn, baseDN string) bool {
	return strings.HasSuffix(strings.ToLower(dn), strings.ToLower(baseDN))
}

// computerToEntry converts a MockComputer to an LDAP entry
func computerToEntry(c *MockComputer, attributes []string) *ldap.Entry {
	attrs := map[string][]string{}
	if len(attributes) == 0 || containsAttribute(attributes, "sAMAccountName") {
		attrs["sAMAccountName"] = []string{c.SAMAccountName}
	}
	if len(attributes) == 0 || containsAttribute(attributes, "objectClass") {
		attrs["objectClass"] = []string{"top", "person", "organizationalPerson", "user", "computer"}
	}
	return ldap.NewEntry(c.DN, attrs)
}

// containsAttribute checks if an attribute is in the list
func containsAttribute(attributes []string, attr string) bool {
	for _, a := range attributes {
		if strings.EqualFold(a, attr) {
			return true
		}
	}
	return false
}
