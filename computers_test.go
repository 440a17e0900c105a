package ldap

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netresearch/ldap-endpoint-verify/testutil"
)

func TestComputerFilter(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{name: "PC01", want: "(&(objectClass=computer)(sAMAccountName=PC01$))"},
		{name: "SRV-DB01", want: "(&(objectClass=computer)(sAMAccountName=SRV-DB01$))"},
		{name: "*", want: `(&(objectClass=computer)(sAMAccountName=\2a$))`},
		{name: "a)(objectClass=*", want: `(&(objectClass=computer)(sAMAccountName=a\29\28objectClass=\2a$))`},
		{name: `back\slash`, want: `(&(objectClass=computer)(sAMAccountName=back\5cslash$))`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputerFilter(tt.name)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, ComputerFilter(tt.name), "filter must be deterministic")

			_, err := ldap.CompileFilter(got)
			assert.NoError(t, err)
		})
	}
}

func TestComputerFilterRoundTrip(t *testing.T) {
	names := []string{"PC01", "pc01", "PC01 ", "a*b", "x(y)z", `c:\temp`, "ÉQUIPE-07"}
	seen := make(map[string]string, len(names))

	for _, name := range names {
		filter := ComputerFilter(name)
		if prev, dup := seen[filter]; dup {
			t.Fatalf("names %q and %q produce the same filter %q", prev, name, filter)
		}
		seen[filter] = name

		sam, ok := testutil.ParseComputerFilter(filter)
		require.True(t, ok, filter)
		assert.Equal(t, ComputerAccountName(name), sam)
	}
}

func TestNewComputerSearchRequest(t *testing.T) {
	tests := []struct {
		name      string
		timeLimit time.Duration
		want      int
	}{
		{name: "unlimited", timeLimit: 0, want: 0},
		{name: "negative", timeLimit: -time.Second, want: 0},
		{name: "sub-second rounds up", timeLimit: 200 * time.Millisecond, want: 1},
		{name: "exact", timeLimit: 30 * time.Second, want: 30},
		{name: "fraction rounds up", timeLimit: 2500 * time.Millisecond, want: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := NewComputerSearchRequest(testutil.TestBaseDN, "PC01", tt.timeLimit)

			assert.Equal(t, testutil.TestBaseDN, req.BaseDN)
			assert.Equal(t, ldap.ScopeWholeSubtree, req.Scope)
			assert.Equal(t, ldap.NeverDerefAliases, req.DerefAliases)
			assert.Equal(t, tt.want, req.TimeLimit)
			assert.Equal(t, []string{"sAMAccountName"}, req.Attributes)
			assert.Equal(t, ComputerFilter("PC01"), req.Filter)
		})
	}

	// The attribute list is copied per request.
	req := NewComputerSearchRequest(testutil.TestBaseDN, "PC01", 0)
	req.Attributes[0] = "cn"
	assert.Equal(t, []string{"sAMAccountName"}, computerAttributes)
}

func openTestSession(t *testing.T, mock *testutil.MockLDAPConn) *Session {
	t.Helper()

	client, err := New(testConfig(), "reader", "secret",
		WithLogger(discardLogger()),
		WithTimeout(0, 5*time.Second),
		WithDialer(mockDialer(mock, nil)))
	require.NoError(t, err)

	session, err := client.Open(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func TestFindComputerBySAMAccountName(t *testing.T) {
	mock := testutil.NewMockLDAPConn()
	testutil.SetupTestComputers(mock)
	mock.AddComputer("CN=DUP01,OU=A,"+testutil.TestBaseDN, "DUP01$")
	mock.AddComputer("CN=DUP01,OU=B,"+testutil.TestBaseDN, "DUP01$")
	session := openTestSession(t, mock)
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		computer, err := session.FindComputerBySAMAccountNameContext(ctx, "PC01")
		require.NoError(t, err)
		assert.Equal(t, "CN=PC01,"+testutil.TestBaseDN, computer.DN)
		assert.Equal(t, "PC01$", computer.SAMAccountName)
	})

	t.Run("case insensitive", func(t *testing.T) {
		computer, err := session.FindComputerBySAMAccountNameContext(ctx, "srv-db01")
		require.NoError(t, err)
		assert.Equal(t, "SRV-DB01$", computer.SAMAccountName)
	})

	t.Run("outside base", func(t *testing.T) {
		_, err := session.FindComputerBySAMAccountNameContext(ctx, "LAB01")
		assert.ErrorIs(t, err, ErrComputerNotFound)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := session.FindComputerBySAMAccountNameContext(ctx, "GHOST")
		assert.ErrorIs(t, err, ErrComputerNotFound)
	})

	t.Run("duplicated", func(t *testing.T) {
		_, err := session.FindComputerBySAMAccountNameContext(ctx, "DUP01")
		assert.ErrorIs(t, err, ErrSAMAccountNameDuplicated)
	})

	t.Run("search failure", func(t *testing.T) {
		mock.FailSearch("BROKEN$", ldap.NewError(ldap.LDAPResultBusy, errors.New("busy")))

		_, err := session.FindComputerBySAMAccountNameContext(ctx, "BROKEN")
		var queryErr *QueryError
		require.ErrorAs(t, err, &queryErr)
		assert.Equal(t, "BROKEN", queryErr.Name)
		assert.Equal(t, ComputerFilter("BROKEN"), queryErr.Filter)
		assert.Equal(t, int(ldap.LDAPResultBusy), GetLDAPResultCode(err))
		assert.NotErrorIs(t, err, ErrComputerNotFound)
	})

	assert.Equal(t, int64(6), session.Searches())
	assert.Equal(t, 5, mock.SearchCalls[0].Request.TimeLimit)
}

func TestCountComputers(t *testing.T) {
	mock := testutil.NewMockLDAPConn()
	testutil.SetupTestComputers(mock)
	mock.AddComputer("CN=PC01,OU=Old,"+testutil.TestBaseDN, "PC01$")
	session := openTestSession(t, mock)

	n, err := session.CountComputersContext(context.Background(), "PC01")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = session.CountComputersContext(context.Background(), "GHOST")
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.Equal(t, []string{"PC01$", "GHOST$"}, mock.SearchedAccounts())
}
