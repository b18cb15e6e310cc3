package domain

import "strings"

// Slug normalizes a tenant name or host label for fuzzy matching: lowercase
// ASCII letters and digits only, so "Acme Corp", "acme-corp" and "ACME_CORP"
// all become "acmecorp".
func Slug(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
