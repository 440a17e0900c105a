// Package verify checks, one by one, whether names are registered as
// computer accounts in a directory.
package verify

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-ldap/ldap/v3"

	ldaplib "github.com/netresearch/ldap-endpoint-verify"
)

// Status is the outcome of verifying one name.
type Status int

const (
	// StatusFound means at least one computer account matched
	StatusFound Status = iota
	// StatusNotFound means the lookup succeeded and nothing matched
	StatusNotFound
	// StatusError means the lookup itself failed; see Record.Err
	StatusError
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusFound:
		return "found"
	case StatusNotFound:
		return "not_found"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Record is the verification outcome of a single name.
type Record struct {
	Name   string
	Status Status
	// Matches is the number of entries returned; more than one means the
	// name is ambiguous in the directory
	Matches int
	// Duration is the time spent on the lookup
	Duration time.Duration
	// Err is set if and only if Status is StatusError
	Err *ldaplib.QueryError
}

// Observer is called once per record, in input order, as soon as the
// record is complete.
type Observer func(Record)

// Result holds the records of a run, one per name in input order.
type Result struct {
	Records []Record
	// Errors lists the failed lookups in the order they occurred
	Errors []*ldaplib.QueryError
}

// Counts returns the number of records per status.
func (r Result) Counts() (found, notFound, failed int) {
	for _, rec := range r.Records {
		switch rec.Status {
		case StatusFound:
			found++
		case StatusNotFound:
			notFound++
		case StatusError:
			failed++
		}
	}
	return found, notFound, failed
}

// Verifier runs computer lookups against a single session.
type Verifier struct {
	searcher  ldaplib.Searcher
	baseDN    string
	timeLimit time.Duration
	logger    *slog.Logger
	observer  Observer
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithLogger sets the logger; slog.Default() is used otherwise.
func WithLogger(logger *slog.Logger) Option {
	return func(v *Verifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithObserver registers a callback that receives each completed record.
func WithObserver(observer Observer) Option {
	return func(v *Verifier) {
		v.observer = observer
	}
}

// WithTimeLimit sets the server-side time limit of each search.
func WithTimeLimit(d time.Duration) Option {
	return func(v *Verifier) {
		v.timeLimit = d
	}
}

// New creates a Verifier searching below baseDN through searcher.
func New(searcher ldaplib.Searcher, baseDN string, opts ...Option) *Verifier {
	v := &Verifier{
		searcher: searcher,
		baseDN:   baseDN,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify looks up every name exactly once, sequentially and in order.
//
// A failed lookup is recorded as StatusError and the batch continues.
// The context is checked before each lookup; once it is done Verify stops
// and returns the records completed so far together with ctx.Err().
func (v *Verifier) Verify(ctx context.Context, names []string) (Result, error) {
	start := time.Now()
	result := Result{Records: make([]Record, 0, len(names))}

	v.logger.Info("verification_started",
		slog.String("base_dn", v.baseDN),
		slog.Int("names", len(names)))

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			v.logger.Warn("verification_cancelled",
				slog.Int("completed", len(result.Records)),
				slog.Int("remaining", len(names)-len(result.Records)),
				slog.Duration("duration", time.Since(start)))
			return result, err
		}

		rec := v.lookup(ctx, name)
		result.Records = append(result.Records, rec)
		if rec.Err != nil {
			result.Errors = append(result.Errors, rec.Err)
		}
		if v.observer != nil {
			v.observer(rec)
		}
	}

	found, notFound, failed := result.Counts()
	v.logger.Info("verification_completed",
		slog.Int("found", found),
		slog.Int("not_found", notFound),
		slog.Int("errors", failed),
		slog.Duration("duration", time.Since(start)))

	return result, nil
}

func (v *Verifier) lookup(ctx context.Context, name string) Record {
	start := time.Now()
	req := ldaplib.NewComputerSearchRequest(v.baseDN, name, v.timeLimit)

	res, err := v.searcher.SearchContext(ctx, req)
	if err != nil {
		queryErr := &ldaplib.QueryError{Name: name, Filter: req.Filter, Err: err}
		v.logger.Error("computer_lookup_failed",
			slog.String("name", name),
			slog.String("filter", req.Filter),
			slog.String("error", err.Error()),
			slog.Duration("duration", time.Since(start)))
		return Record{Name: name, Status: StatusError, Duration: time.Since(start), Err: queryErr}
	}
	if res == nil {
		res = &ldap.SearchResult{}
	}

	rec := Record{Name: name, Status: StatusNotFound, Matches: len(res.Entries), Duration: time.Since(start)}
	if rec.Matches > 0 {
		rec.Status = StatusFound
	}

	if rec.Matches > 1 {
		dns := make([]string, 0, len(res.Entries))
		for _, entry := range res.Entries {
			dns = append(dns, entry.DN)
		}
		v.logger.Warn("computer_account_ambiguous",
			slog.String("name", name),
			slog.Int("matches", rec.Matches),
			slog.Any("dns", dns))
	}

	v.logger.Debug("computer_lookup_completed",
		slog.String("name", name),
		slog.String("status", rec.Status.String()),
		slog.Duration("duration", rec.Duration))

	return rec
}
