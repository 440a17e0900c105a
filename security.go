package ldap

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"unicode"
)

// Security validation constants
const (
	// MaxDNLength defines the maximum length for Distinguished Names
	MaxDNLength = 8000
)

// ValidateDN validates and normalizes a Distinguished Name (DN)
func ValidateDN(dn string) (string, error) {
	normalized := strings.TrimSpace(dn)
	if normalized == "" {
		return "", fmt.Errorf("DN cannot be empty: %w", ErrInvalidDN)
	}

	if len(normalized) > MaxDNLength {
		return "", fmt.Errorf("DN too long: %d characters (max %d): %w", len(normalized), MaxDNLength, ErrInvalidDN)
	}

	for _, r := range normalized {
		if unicode.IsControl(r) {
			return "", fmt.Errorf("DN contains control characters: %w", ErrInvalidDN)
		}
	}

	// Basic DN format validation - must contain at least one component with =
	if !strings.Contains(normalized, "=") {
		return "", fmt.Errorf("DN format invalid: must contain at least one component with '=': %w", ErrInvalidDN)
	}

	if strings.Contains(normalized, ",,") || strings.HasPrefix(normalized, ",") {
		return "", fmt.Errorf("DN format invalid: contains empty component: %w", ErrInvalidDN)
	}

	if strings.HasSuffix(normalized, ",") {
		return "", fmt.Errorf("DN format invalid: trailing comma: %w", ErrInvalidDN)
	}

	return normalized, nil
}

// ValidateServerURL validates LDAP server URL format
func ValidateServerURL(serverURL string) error {
	if serverURL == "" {
		return fmt.Errorf("server URL cannot be empty")
	}

	u, err := url.Parse(serverURL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	if u.Scheme != "ldap" && u.Scheme != "ldaps" {
		return fmt.Errorf("invalid scheme %q: must be 'ldap' or 'ldaps'", u.Scheme)
	}

	if u.Hostname() == "" {
		return fmt.Errorf("URL must contain a hostname")
	}

	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("invalid port %q", p)
		}
	}

	return nil
}

// maskSensitiveData masks sensitive information for logging
func maskSensitiveData(data string) string {
	if len(data) <= 4 {
		return "***"
	}

	// Show first 2 and last 2 characters, mask the middle
	visible := 2
	if len(data) < 6 {
		visible = 1
	}

	prefix := data[:visible]
	suffix := data[len(data)-visible:]
	masked := strings.Repeat("*", len(data)-2*visible)

	return prefix + masked + suffix
}
