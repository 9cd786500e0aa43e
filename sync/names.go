// ABOUTME: Display-name fallbacks for companies and owners
// ABOUTME: Derives title-cased names from domains and email addresses when the CRM has none
package sync

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// titleCase title-cases s. Casers hold state, so each call builds its own.
func titleCase(s string) string {
	return cases.Title(language.English).String(s)
}

// CompanyDisplayName returns name, or when it is blank the domain without its
// top-level label, title-cased: "acme-corp.com" becomes "Acme-Corp".
func CompanyDisplayName(name, domain string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return ""
	}
	labels := strings.Split(domain, ".")
	if len(labels) > 1 {
		labels = labels[:len(labels)-1]
	}
	return titleCase(strings.Join(labels, " "))
}

// OwnerDisplayName joins first and last name, or when both are blank
// title-cases the dot-split local part of email: "jane.doe@x.com" becomes
// "Jane Doe".
func OwnerDisplayName(first, last, email string) string {
	if full := strings.TrimSpace(strings.TrimSpace(first) + " " + strings.TrimSpace(last)); full != "" {
		return full
	}
	local, _, _ := strings.Cut(strings.TrimSpace(email), "@")
	if local == "" {
		return ""
	}
	return titleCase(strings.Join(strings.FieldsFunc(local, func(r rune) bool { return r == '.' }), " "))
}
