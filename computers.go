package ldap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// MachineAccountSuffix is appended to a computer's short name to form its
// sAMAccountName in Active Directory.
const MachineAccountSuffix = "$"

var (
	// ErrComputerNotFound is returned when a computer search operation finds no matching entries.
	ErrComputerNotFound = errors.New("computer not found")
	// ErrSAMAccountNameDuplicated is returned when more than one account carries the same sAMAccountName.
	ErrSAMAccountNameDuplicated = errors.New("sAMAccountName is not unique")
)

// computerAttributes is the attribute set requested by computer lookups.
// Only existence matters, so the payload is kept to the account name.
var computerAttributes = []string{"sAMAccountName"}

// Computer represents an LDAP computer object.
type Computer struct {
	// DN is the distinguished name of the account
	DN string
	// SAMAccountName is the account name including the trailing "$"
	SAMAccountName string
}

// ComputerAccountName returns the sAMAccountName of the computer called name.
func ComputerAccountName(name string) string {
	return name + MachineAccountSuffix
}

// ComputerFilter returns the search filter selecting the computer account
// for name. The account name is escaped, so distinct names always produce
// distinct filters.
//
// Example:
//
//	ComputerFilter("PC01") // (&(objectClass=computer)(sAMAccountName=PC01$))
func ComputerFilter(name string) string {
	return fmt.Sprintf("(&(objectClass=computer)(sAMAccountName=%s))", ldap.EscapeFilter(ComputerAccountName(name)))
}

// NewComputerSearchRequest builds a whole-subtree search for the computer
// account of name below baseDN. A positive timeLimit is sent to the server,
// rounded up to whole seconds.
func NewComputerSearchRequest(baseDN, name string, timeLimit time.Duration) *ldap.SearchRequest {
	return ldap.NewSearchRequest(
		baseDN,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		0,
		timeLimitSeconds(timeLimit),
		false,
		ComputerFilter(name),
		append([]string(nil), computerAttributes...),
		nil,
	)
}

func timeLimitSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}

// CountComputersContext returns how many computer accounts below the session
// base match name.
func (s *Session) CountComputersContext(ctx context.Context, name string) (int, error) {
	r, err := s.SearchContext(ctx, NewComputerSearchRequest(s.baseDN, name, s.timeLimit))
	if err != nil {
		return 0, &QueryError{Name: name, Filter: ComputerFilter(name), Err: err}
	}
	return len(r.Entries), nil
}

// FindComputerBySAMAccountNameContext retrieves a computer by its short name
// (without the trailing "$").
//
// Returns:
//   - *Computer: The computer object if exactly one account matches
//   - error: ErrComputerNotFound if none matches, ErrSAMAccountNameDuplicated
//     if several match, or a *QueryError for search failures
func (s *Session) FindComputerBySAMAccountNameContext(ctx context.Context, name string) (*Computer, error) {
	r, err := s.SearchContext(ctx, NewComputerSearchRequest(s.baseDN, name, s.timeLimit))
	if err != nil {
		return nil, &QueryError{Name: name, Filter: ComputerFilter(name), Err: err}
	}

	if len(r.Entries) == 0 {
		return nil, notFoundError("computer", name, ErrComputerNotFound)
	}

	if len(r.Entries) > 1 {
		return nil, fmt.Errorf("computer %s: %w", name, ErrSAMAccountNameDuplicated)
	}

	return &Computer{
		DN:             r.Entries[0].DN,
		SAMAccountName: r.Entries[0].GetAttributeValue("sAMAccountName"),
	}, nil
}
