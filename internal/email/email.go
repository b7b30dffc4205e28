// Package email provides common email address utility functions.
package email

import (
	"fmt"
	"net/mail"
	"strings"
)

// Normalize parses an address (bare or with display name) and returns the
// bare addr-spec suitable for an SMTP envelope. Returns an error for empty
// or malformed addresses.
func Normalize(address string) (string, error) {
	trimmed := strings.TrimSpace(address)
	if trimmed == "" {
		return "", fmt.Errorf("empty address")
	}

	addr, err := mail.ParseAddress(trimmed)
	if err != nil {
		return "", fmt.Errorf("invalid address %q: %w", trimmed, err)
	}
	return addr.Address, nil
}

// NormalizeList normalizes every address in the list, rejecting the whole
// list on the first malformed entry.
func NormalizeList(addresses []string) ([]string, error) {
	if len(addresses) == 0 {
		return nil, nil
	}

	out := make([]string, 0, len(addresses))
	for _, a := range addresses {
		norm, err := Normalize(a)
		if err != nil {
			return nil, err
		}
		out = append(out, norm)
	}
	return out, nil
}

// SplitList splits a comma or semicolon separated address list, dropping
// empty entries. Used for CC/BCC values supplied as a single string.
func SplitList(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ';'
	})

	var out []string
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// ExtractDomain extracts the domain part from an email address.
// Returns empty string if the email is invalid.
func ExtractDomain(email string) string {
	addr, err := mail.ParseAddress(email)
	if err != nil {
		// Try simple extraction for malformed addresses
		at := strings.LastIndex(email, "@")
		if at <= 0 || at == len(email)-1 {
			return ""
		}
		return strings.ToLower(email[at+1:])
	}
	at := strings.LastIndex(addr.Address, "@")
	if at <= 0 || at == len(addr.Address)-1 {
		return ""
	}
	return strings.ToLower(addr.Address[at+1:])
}

// ExtractDomainOrDefault extracts the domain part from an email address.
// Returns the provided default value if the email is invalid or domain is empty.
func ExtractDomainOrDefault(email, defaultDomain string) string {
	domain := ExtractDomain(email)
	if domain == "" {
		return defaultDomain
	}
	return domain
}
