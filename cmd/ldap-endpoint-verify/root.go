package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	ldaplib "github.com/netresearch/ldap-endpoint-verify"
	"github.com/netresearch/ldap-endpoint-verify/internal/config"
	"github.com/netresearch/ldap-endpoint-verify/internal/pipeline"
	"github.com/netresearch/ldap-endpoint-verify/internal/report"
)

// rootOptions holds the flag values of the root command.
type rootOptions struct {
	configPath  string
	server      string
	baseDN      string
	username    string
	bindMode    string
	input       string
	column      string
	output      string
	metricsFile string
	logLevel    string
	logFormat   string
	quiet       bool

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd(stdout, stderr io.Writer, dial ldaplib.DialFunc) *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "ldap-endpoint-verify",
		Short: "Verify that inventory endpoints exist as computer accounts in Active Directory",
		Long: `ldap-endpoint-verify reads endpoint names from a column of a CSV file and
looks up each name as a computer account (sAMAccountName NAME$) below a base DN.

The result is written as a two-column report in input order. Lookups that fail
are reported as errors and never counted as missing.

Credentials are read from the configuration file or the environment:
  LDAP_VERIFY_SERVER, LDAP_VERIFY_BASE_DN, LDAP_VERIFY_USERNAME, LDAP_VERIFY_PASSWORD

Exit codes:
  0 success, 1 configuration, 2 input file, 3 directory connection,
  4 report output, 5 some lookups failed, 130 interrupted`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup(cmd, stderr)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd.Context(), stdout, dial)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "YAML configuration file")
	flags.StringVar(&opts.server, "server", "", "LDAP server URL (ldap:// or ldaps://)")
	flags.StringVar(&opts.baseDN, "base-dn", "", "search base for computer accounts")
	flags.StringVarP(&opts.username, "username", "u", "", `bind user (DN, UPN or DOMAIN\user)`)
	flags.StringVar(&opts.bindMode, "bind-mode", "", "bind mode: simple or ntlm")
	flags.StringVarP(&opts.input, "input", "i", "", "inventory CSV file")
	flags.StringVar(&opts.column, "column", "", "inventory column holding endpoint names")
	flags.StringVarP(&opts.output, "output", "o", "", `report file, "-" for stdout`)
	flags.StringVar(&opts.metricsFile, "metrics-file", "", "write Prometheus metrics to this textfile")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&opts.logFormat, "log-format", "", "log format: text or json")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "do not print progress")

	cmd.AddCommand(newFilterCmd(stdout))
	cmd.AddCommand(newVersionCmd(stdout))

	return cmd
}

// setup loads the configuration, applies flag overrides and builds the logger.
func (o *rootOptions) setup(cmd *cobra.Command, stderr io.Writer) error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return ldaplib.NewConfigError("config", err.Error())
	}

	overrides := map[string]*string{
		"server":       &cfg.LDAP.Server,
		"base-dn":      &cfg.LDAP.BaseDN,
		"username":     &cfg.LDAP.Username,
		"bind-mode":    &cfg.LDAP.BindMode,
		"input":        &cfg.Input.Path,
		"column":       &cfg.Input.Column,
		"output":       &cfg.Output.Path,
		"metrics-file": &cfg.Metrics.Textfile,
		"log-level":    &cfg.Log.Level,
		"log-format":   &cfg.Log.Format,
	}
	for name, target := range overrides {
		if cmd.Flags().Changed(name) {
			value, _ := cmd.Flags().GetString(name)
			*target = value
		}
	}

	o.cfg = cfg
	o.logger = newLogger(stderr, cfg).With(slog.String("run_id", uuid.NewString()))
	return nil
}

func (o *rootOptions) run(ctx context.Context, stdout io.Writer, dial ldaplib.DialFunc) error {
	opts := []pipeline.Option{
		pipeline.WithLogger(o.logger),
		pipeline.WithStdout(stdout),
		pipeline.WithDialer(dial),
	}
	showProgress := !o.quiet && o.cfg.Output.Path != report.Stdout
	if showProgress {
		opts = append(opts, pipeline.WithProgress(stdout))
	}

	p, err := pipeline.New(o.cfg, opts...)
	if err != nil {
		return err
	}

	summary, err := p.Run(ctx)
	if err != nil {
		return err
	}

	if showProgress {
		fmt.Fprintf(stdout, "Verified %d names: %d found, %d not found, %d errors.\n",
			summary.Total, summary.Found, summary.NotFound, summary.Errors)
	}
	if summary.Errors > 0 {
		return &queryFailuresError{failed: summary.Errors, total: summary.Total}
	}
	return nil
}

func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{Level: cfg.LogLevel()}
	if strings.EqualFold(cfg.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

func newFilterCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "filter NAME...",
		Short: "Print the LDAP search filter used for each name",
		Long: `Prints the filter that the verifier sends for each endpoint name,
without contacting a server. Useful to reproduce a lookup with ldapsearch.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range args {
				fmt.Fprintln(stdout, ldaplib.ComputerFilter(name))
			}
			return nil
		},
	}
}

func newVersionCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(stdout, "ldap-endpoint-verify %s\n", version)
		},
	}
}
