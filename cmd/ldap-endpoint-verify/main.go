// Command ldap-endpoint-verify checks which endpoints of an inventory file
// are registered as computer accounts in Active Directory.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	ldaplib "github.com/netresearch/ldap-endpoint-verify"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// Exit codes.
const (
	exitOK          = 0
	exitConfig      = 1
	exitInput       = 2
	exitConnection  = 3
	exitOutput      = 4
	exitQueryErrors = 5
	exitInterrupted = 130
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := newRootCmd(os.Stdout, os.Stderr, nil).ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	stop()
	os.Exit(exitCode(err))
}

// exitCode maps a run error to the process exit status.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}

	var failures *queryFailuresError
	if errors.As(err, &failures) {
		return exitQueryErrors
	}

	switch ldaplib.Category(err) {
	case ldaplib.CategorySourceNotFound, ldaplib.CategorySchema:
		return exitInput
	case ldaplib.CategoryConnection:
		return exitConnection
	case ldaplib.CategoryOutput:
		return exitOutput
	case ldaplib.CategoryQuery:
		return exitQueryErrors
	case ldaplib.CategoryCancelled:
		return exitInterrupted
	default:
		return exitConfig
	}
}

// queryFailuresError reports a completed run in which some lookups failed.
type queryFailuresError struct {
	failed int
	total  int
}

func (e *queryFailuresError) Error() string {
	return fmt.Sprintf("%d of %d lookups failed; see the report and log for details", e.failed, e.total)
}
