// Package ldap provides a small wrapper around go-ldap/ldap for checking
// whether endpoints are registered as computer accounts in a directory
// such as Microsoft Active Directory.
//
// The package covers the directory side of an inventory reconciliation:
//   - Validated client configuration with functional options
//   - Scoped, read-only sessions (simple or NTLM bind, optional StartTLS)
//   - Computer account search filters following the "NAME$" convention
//   - A categorized error taxonomy shared with the reconciliation pipeline
//
// # Basic Usage
//
//	config := &ldap.Config{
//		Server:   "ldaps://dc01.example.com:636",
//		BaseDN:   "OU=Computers,DC=example,DC=com",
//		BindMode: ldap.BindNTLM,
//	}
//
//	client, err := ldap.New(config, `EXAMPLE\reader`, "password")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	err = client.WithSession(ctx, func(s *ldap.Session) error {
//		computer, err := s.FindComputerBySAMAccountNameContext(ctx, "PC01")
//		if errors.Is(err, ldap.ErrComputerNotFound) {
//			fmt.Println("PC01 is not registered")
//			return nil
//		}
//		if err != nil {
//			return err
//		}
//		fmt.Println("found", computer.DN)
//		return nil
//	})
//
// The session passed to the callback is unbound exactly once when the
// callback returns, including when it fails or panics.
//
// # Error Handling
//
// Failures are reported with typed errors that can be inspected with
// errors.As:
//   - SourceNotFoundError: the inventory file cannot be opened
//   - SchemaError: the inventory file lacks the configured column
//   - ConnectionError: the directory session cannot be established
//   - QueryError: a single computer lookup failed
//   - OutputError: the report cannot be written
//
// Category maps any of them to an ErrorCategory for exit code handling.
package ldap
