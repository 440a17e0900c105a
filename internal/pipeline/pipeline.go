// Package pipeline runs a complete verification: it reads the inventory,
// verifies every name in one directory session and writes the report.
package pipeline

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	ldaplib "github.com/netresearch/ldap-endpoint-verify"
	"github.com/netresearch/ldap-endpoint-verify/internal/config"
	"github.com/netresearch/ldap-endpoint-verify/internal/inventory"
	"github.com/netresearch/ldap-endpoint-verify/internal/metrics"
	"github.com/netresearch/ldap-endpoint-verify/internal/report"
	"github.com/netresearch/ldap-endpoint-verify/internal/verify"
)

// Summary describes a finished or interrupted run.
type Summary struct {
	Total       int
	Found       int
	NotFound    int
	Errors      int
	QueryErrors []*ldaplib.QueryError
	// OutputPath is empty if no report was written
	OutputPath string
	Duration   time.Duration
}

// Pipeline composes the inventory reader, the verifier and the report writer.
type Pipeline struct {
	cfg      *config.Config
	logger   *slog.Logger
	stdout   io.Writer
	progress io.Writer
	observer verify.Observer
	dial     ldaplib.DialFunc
	metrics  *metrics.Metrics
	labels   report.Labels
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger; slog.Default() is used otherwise.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithStdout sets the writer that receives the report when the output path is "-".
func WithStdout(w io.Writer) Option {
	return func(p *Pipeline) {
		p.stdout = w
	}
}

// WithProgress prints a line per verified name to w.
func WithProgress(w io.Writer) Option {
	return func(p *Pipeline) {
		p.progress = w
	}
}

// WithObserver registers a callback that receives each completed record.
func WithObserver(observer verify.Observer) Option {
	return func(p *Pipeline) {
		p.observer = observer
	}
}

// WithDialer replaces the directory transport.
func WithDialer(dial ldaplib.DialFunc) Option {
	return func(p *Pipeline) {
		p.dial = dial
	}
}

// WithMetrics records the run in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// New validates cfg and creates a Pipeline.
func New(cfg *config.Config, opts ...Option) (*Pipeline, error) {
	if cfg == nil {
		return nil, ldaplib.NewConfigError("config", "config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg:    cfg,
		logger: slog.Default(),
		labels: cfg.Output.Labels.WithDefaults(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil && cfg.Metrics.Textfile != "" {
		p.metrics = metrics.New()
	}
	return p, nil
}

// Run executes the verification.
//
// Inventory errors are returned before the directory is contacted. Query
// failures are recorded in the Summary and do not fail the run. The report
// is written only after the session has been released, and not at all when
// ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	summary := &Summary{}

	names, err := inventory.ReadFile(p.cfg.Input.Path, inventory.Options{
		Column:     p.cfg.Input.Column,
		Delimiter:  p.cfg.InputDelimiter(),
		Encoding:   p.cfg.Input.Encoding,
		NullValues: p.cfg.Input.NullValues,
	})
	if err != nil {
		p.logger.Error("inventory_read_failed",
			slog.String("path", p.cfg.Input.Path),
			slog.String("column", p.cfg.Input.Column),
			slog.String("error", err.Error()))
		return p.finish(summary, start, err)
	}

	p.logger.Info("inventory_loaded",
		slog.String("path", p.cfg.Input.Path),
		slog.String("column", p.cfg.Input.Column),
		slog.Int("names", len(names)))
	p.printf("Found %d names to verify.\n", len(names))

	client, err := ldaplib.New(p.clientConfig(), p.cfg.LDAP.Username, p.cfg.LDAP.Password, p.clientOptions()...)
	if err != nil {
		return p.finish(summary, start, err)
	}

	var result verify.Result
	err = client.WithSession(ctx, func(session *ldaplib.Session) error {
		p.printf("Connected to %s.\n", session.Server())

		v := verify.New(session, session.BaseDN(),
			verify.WithLogger(p.logger),
			verify.WithTimeLimit(p.cfg.GetOperationTimeout()),
			verify.WithObserver(p.observe))

		var verr error
		result, verr = v.Verify(ctx, names)
		return verr
	})

	summary.Total = len(result.Records)
	summary.Found, summary.NotFound, summary.Errors = result.Counts()
	summary.QueryErrors = result.Errors

	if err != nil {
		if ldaplib.Category(err) == ldaplib.CategoryConnection {
			event, hint := connectionFailure(err)
			p.logger.Error(event,
				slog.String("server", p.cfg.LDAP.Server),
				slog.Int("ldap_result_code", ldaplib.GetLDAPResultCode(err)),
				slog.String("hint", hint),
				slog.String("error", err.Error()))
		}
		return p.finish(summary, start, err)
	}
	p.printf("Directory session closed.\n")

	if err := report.WriteFile(p.cfg.Output.Path, result.Records, report.Options{
		Delimiter: p.cfg.OutputDelimiter(),
		Header:    p.cfg.Output.Header,
		Labels:    p.labels,
		Stdout:    p.stdout,
	}); err != nil {
		p.logger.Error("report_write_failed",
			slog.String("path", p.cfg.Output.Path),
			slog.String("error", err.Error()))
		return p.finish(summary, start, err)
	}

	summary.OutputPath = p.cfg.Output.Path
	p.logger.Info("report_written",
		slog.String("path", p.cfg.Output.Path),
		slog.Int("rows", len(result.Records)))
	if p.cfg.Output.Path != report.Stdout {
		p.printf("Report written to %s.\n", p.cfg.Output.Path)
	}

	return p.finish(summary, start, nil)
}

func (p *Pipeline) observe(rec verify.Record) {
	p.metrics.ObserveRecord(rec.Status.String(), rec.Duration)
	p.printf("  - %s: %s\n", rec.Name, p.labels.For(rec.Status))
	if p.observer != nil {
		p.observer(rec)
	}
}

// finish records the run outcome and writes the metrics textfile.
// A metrics failure is logged and never replaces err.
func (p *Pipeline) finish(summary *Summary, start time.Time, err error) (*Summary, error) {
	summary.Duration = time.Since(start)
	success := err == nil && summary.Errors == 0

	if p.metrics != nil {
		p.metrics.ObserveRun(summary.Duration, success, time.Now())
		if path := p.cfg.Metrics.Textfile; path != "" {
			if werr := p.metrics.WriteTextfile(path); werr != nil {
				p.logger.Warn("metrics_textfile_write_failed",
					slog.String("path", path),
					slog.String("error", werr.Error()))
			}
		}
	}

	attrs := []any{
		slog.Int("total", summary.Total),
		slog.Int("found", summary.Found),
		slog.Int("not_found", summary.NotFound),
		slog.Int("errors", summary.Errors),
		slog.Duration("duration", summary.Duration),
	}
	if err != nil {
		p.logger.Error("verification_run_failed",
			append(attrs,
				slog.String("category", ldaplib.Category(err).String()),
				slog.String("error", err.Error()))...)
		return summary, err
	}
	p.logger.Info("verification_run_completed", attrs...)
	return summary, nil
}

// connectionFailure names the log event and operator hint for a session
// that could not be established.
func connectionFailure(err error) (event, hint string) {
	switch {
	case ldaplib.IsAuthenticationError(err):
		return "ldap_bind_rejected", "check the bind credentials and ldap.bind_mode"
	case ldaplib.IsConnectionError(err):
		return "ldap_server_unreachable", "check ldap.server and the network path to it"
	default:
		return "ldap_session_failed", "see error"
	}
}

func (p *Pipeline) clientConfig() *ldaplib.Config {
	return &ldaplib.Config{
		Server: p.cfg.LDAP.Server,
		BaseDN: p.cfg.LDAP.BaseDN,
		Logger: p.logger,
	}
}

func (p *Pipeline) clientOptions() []ldaplib.Option {
	opts := []ldaplib.Option{
		ldaplib.WithLogger(p.logger),
		ldaplib.WithTimeout(p.cfg.GetDialTimeout(), p.cfg.GetOperationTimeout()),
	}
	if ldaplib.BindMode(strings.ToLower(p.cfg.LDAP.BindMode)) == ldaplib.BindNTLM {
		opts = append(opts, ldaplib.WithNTLM(p.cfg.LDAP.Domain))
	}
	if p.cfg.LDAP.StartTLS {
		opts = append(opts, ldaplib.WithStartTLS())
	}
	if p.cfg.LDAP.InsecureSkipVerify {
		opts = append(opts, ldaplib.WithTLS(&tls.Config{InsecureSkipVerify: true, MinVersion: tls.VersionTLS12}))
	}
	if p.dial != nil {
		opts = append(opts, ldaplib.WithDialer(p.dial))
	}
	return opts
}

func (p *Pipeline) printf(format string, args ...any) {
	if p.progress != nil {
		fmt.Fprintf(p.progress, format, args...)
	}
}
