package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/text/encoding"

	ldaplib "github.com/netresearch/ldap-endpoint-verify"
	"github.com/netresearch/ldap-endpoint-verify/internal/config"
	"github.com/netresearch/ldap-endpoint-verify/internal/metrics"
	"github.com/netresearch/ldap-endpoint-verify/internal/report"
	"github.com/netresearch/ldap-endpoint-verify/internal/verify"
	"github.com/netresearch/ldap-endpoint-verify/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fixture struct {
	cfg    *config.Config
	mock   *testutil.MockLDAPConn
	dials  int
	output string
}

func newFixture(t *testing.T, inventory string) *fixture {
	t.Helper()
	dir := t.TempDir()

	input := filepath.Join(dir, "endpoints.csv")
	require.NoError(t, os.WriteFile(input, []byte(inventory), 0o600))

	cfg := config.DefaultConfig()
	cfg.LDAP.Server = "ldaps://dc01.example.com"
	cfg.LDAP.BaseDN = testutil.TestBaseDN
	cfg.LDAP.Username = `EXAMPLE\reader`
	cfg.LDAP.Password = "secret"
	cfg.LDAP.BindMode = "ntlm"
	cfg.Input.Path = input
	cfg.Output.Path = filepath.Join(dir, "report.csv")

	mock := testutil.NewMockLDAPConn()
	testutil.SetupTestComputers(mock)

	return &fixture{cfg: cfg, mock: mock, output: cfg.Output.Path}
}

func (f *fixture) dialer() ldaplib.DialFunc {
	return func(ctx context.Context, server string, opts ...ldap.DialOpt) (ldaplib.Conn, error) {
		f.dials++
		return f.mock, nil
	}
}

func (f *fixture) pipeline(t *testing.T, opts ...Option) *Pipeline {
	t.Helper()
	opts = append([]Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithDialer(f.dialer()),
	}, opts...)

	p, err := New(f.cfg, opts...)
	require.NoError(t, err)
	return p
}

func readReport(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestRunMixedBatch(t *testing.T) {
	f := newFixture(t, "endpoint\nPC01\nPC99\n")
	var progress bytes.Buffer

	summary, err := f.pipeline(t, WithProgress(&progress)).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "Computer,Status\nPC01,Found\nPC99,Not Found\n", readReport(t, f.output))
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.Found)
	assert.Equal(t, 1, summary.NotFound)
	assert.Zero(t, summary.Errors)
	assert.Equal(t, f.output, summary.OutputPath)

	assert.Equal(t, 1, f.dials)
	require.Len(t, f.mock.NTLMBindCalls, 1)
	assert.Equal(t, "EXAMPLE", f.mock.NTLMBindCalls[0].Domain)
	assert.Equal(t, "reader", f.mock.NTLMBindCalls[0].Username)
	assert.True(t, f.mock.Released())

	assert.Contains(t, progress.String(), "Found 2 names to verify.\n")
	assert.Contains(t, progress.String(), "  - PC01: Found\n  - PC99: Not Found\n")
	assert.Contains(t, progress.String(), "Directory session closed.\n")
}

func TestRunMissingColumn(t *testing.T) {
	f := newFixture(t, "hostname\nPC01\n")

	summary, err := f.pipeline(t).Run(context.Background())

	var schemaErr *ldaplib.SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, []string{"hostname"}, schemaErr.Available)
	assert.Zero(t, f.dials, "no connection may be attempted")
	assert.NoFileExists(t, f.output)
	assert.Empty(t, summary.OutputPath)
}

func TestRunInvalidUTF8AbortsBeforeLookup(t *testing.T) {
	f := newFixture(t, "endpoint\nPC01\nEST\xc7\xc3O01\n")

	summary, err := f.pipeline(t).Run(context.Background())

	var schemaErr *ldaplib.SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.ErrorIs(t, err, encoding.ErrInvalidUTF8)
	assert.Equal(t, 3, schemaErr.Line)
	assert.Zero(t, f.dials, "no connection may be attempted")
	assert.Empty(t, f.mock.SearchCalls)
	assert.NoFileExists(t, f.output)
	assert.Zero(t, summary.Total)

	f.cfg.Input.Encoding = "windows-1252"
	f.mock.AddComputer("CN=ESTÇÃO01,"+testutil.TestBaseDN, "ESTÇÃO01$")

	summary, err = f.pipeline(t).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Found)
	assert.Equal(t, "Computer,Status\nPC01,Found\nESTÇÃO01,Found\n", readReport(t, f.output))
}

func TestRunSkipsNullMarkers(t *testing.T) {
	f := newFixture(t, "endpoint\nPC01\nNA\n#N/A\nnull\nPC99\n")

	summary, err := f.pipeline(t).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, "Computer,Status\nPC01,Found\nPC99,Not Found\n", readReport(t, f.output))
	assert.Len(t, f.mock.SearchCalls, 2)
}

func TestRunMissingSource(t *testing.T) {
	f := newFixture(t, "endpoint\nPC01\n")
	f.cfg.Input.Path = filepath.Join(t.TempDir(), "absent.csv")

	_, err := f.pipeline(t).Run(context.Background())

	assert.Equal(t, ldaplib.CategorySourceNotFound, ldaplib.Category(err))
	assert.Zero(t, f.dials)
	assert.NoFileExists(t, f.output)
}

func TestRunQueryErrorIsReported(t *testing.T) {
	f := newFixture(t, "endpoint\nPC01\nPC02\nSRV-DB01\n")
	f.mock.FailSearch("PC02$", ldap.NewError(ldap.LDAPResultBusy, errors.New("busy")))

	var observed []verify.Record
	summary, err := f.pipeline(t, WithObserver(func(r verify.Record) { observed = append(observed, r) })).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "Computer,Status\nPC01,Found\nPC02,Error\nSRV-DB01,Found\n", readReport(t, f.output))
	assert.Equal(t, 1, summary.Errors)
	require.Len(t, summary.QueryErrors, 1)
	assert.Equal(t, "PC02", summary.QueryErrors[0].Name)
	assert.Len(t, observed, 3)
}

func TestRunConnectionFailure(t *testing.T) {
	f := newFixture(t, "endpoint\nPC01\n")
	f.mock.NTLMBindFunc = func(domain, username, password string) error {
		return ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("invalid credentials"))
	}

	var logs bytes.Buffer
	summary, err := f.pipeline(t, WithLogger(slog.New(slog.NewTextHandler(&logs, nil)))).Run(context.Background())

	var connErr *ldaplib.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, ldaplib.CategoryConnection, ldaplib.Category(err))
	assert.ErrorIs(t, err, ldaplib.ErrInvalidCredentials)
	assert.NoFileExists(t, f.output)
	assert.Zero(t, summary.Total)
	assert.Empty(t, f.mock.SearchCalls)

	assert.Contains(t, logs.String(), "msg=ldap_bind_rejected")
	assert.Contains(t, logs.String(), "ldap_result_code=49")
	assert.NotContains(t, logs.String(), "secret")
}

func TestRunServerUnreachable(t *testing.T) {
	f := newFixture(t, "endpoint\nPC01\n")
	refused := func(ctx context.Context, server string, opts ...ldap.DialOpt) (ldaplib.Conn, error) {
		return nil, ldap.NewError(ldap.ErrorNetwork, errors.New("connection refused"))
	}

	var logs bytes.Buffer
	_, err := f.pipeline(t,
		WithLogger(slog.New(slog.NewTextHandler(&logs, nil))),
		WithDialer(refused)).Run(context.Background())

	assert.Equal(t, ldaplib.CategoryConnection, ldaplib.Category(err))
	assert.ErrorIs(t, err, ldaplib.ErrConnectionFailed)
	assert.Contains(t, logs.String(), "msg=ldap_server_unreachable")
	assert.NotContains(t, logs.String(), "msg=ldap_bind_rejected")
	assert.NoFileExists(t, f.output)
}

func TestRunCancelledWritesNoReport(t *testing.T) {
	f := newFixture(t, "endpoint\nPC01\nPC02\nPC03\n")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := f.pipeline(t, WithObserver(func(verify.Record) { cancel() }))
	summary, err := p.Run(ctx)

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, ldaplib.CategoryCancelled, ldaplib.Category(err))
	assert.Equal(t, 1, summary.Total)
	assert.NoFileExists(t, f.output)
	assert.True(t, f.mock.Released(), "session must be released on cancellation")
	assert.Equal(t, 1, f.mock.UnbindCalls)
}

func TestRunOutputFailureAfterRelease(t *testing.T) {
	f := newFixture(t, "endpoint\nPC01\n")
	f.cfg.Output.Path = filepath.Join(t.TempDir(), "missing-dir", "report.csv")

	summary, err := f.pipeline(t).Run(context.Background())

	var outErr *ldaplib.OutputError
	require.ErrorAs(t, err, &outErr)
	assert.Equal(t, 1, summary.Found)
	assert.Empty(t, summary.OutputPath)
	assert.True(t, f.mock.Released())
}

func TestRunReportToStdout(t *testing.T) {
	f := newFixture(t, "endpoint\nLAB01\n")
	f.cfg.Output.Path = "-"
	f.cfg.Output.Labels.NotFound = "Não Encontrado"
	f.cfg.Output.Header.Name = "Computador"

	var stdout bytes.Buffer
	_, err := f.pipeline(t, WithStdout(&stdout)).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "Computador,Status\nLAB01,Não Encontrado\n", stdout.String())
}

func TestRunProgressAndReportShareLabels(t *testing.T) {
	f := newFixture(t, "endpoint\nPC01\nPC99\n")
	f.cfg.Output.Labels = report.Labels{NotFound: "Não Encontrado"}
	var progress bytes.Buffer

	_, err := f.pipeline(t, WithProgress(&progress)).Run(context.Background())
	require.NoError(t, err)

	assert.Contains(t, progress.String(), "  - PC01: Found\n  - PC99: Não Encontrado\n")
	assert.Equal(t, "Computer,Status\nPC01,Found\nPC99,Não Encontrado\n", readReport(t, f.output))
}

func TestRunWritesMetricsTextfile(t *testing.T) {
	f := newFixture(t, "endpoint\nPC01\nPC99\n")
	f.cfg.Metrics.Textfile = filepath.Join(t.TempDir(), "verify.prom")
	m := metrics.New()

	_, err := f.pipeline(t, WithMetrics(m)).Run(context.Background())
	require.NoError(t, err)

	data, err := os.ReadFile(f.cfg.Metrics.Textfile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `ldap_endpoint_verify_records_total{status="found"} 1`)
	assert.Contains(t, string(data), `ldap_endpoint_verify_records_total{status="not_found"} 1`)
	assert.Contains(t, string(data), "ldap_endpoint_verify_last_run_success 1")
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()

	p, err := New(cfg)
	assert.Nil(t, p)
	assert.Equal(t, ldaplib.CategoryConfig, ldaplib.Category(err))

	_, err = New(nil)
	assert.Equal(t, ldaplib.CategoryConfig, ldaplib.Category(err))
}
