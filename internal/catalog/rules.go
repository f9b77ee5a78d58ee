package catalog

import (
	"strings"
	"unicode"
)

// Rule validates venue-native identifiers during Flatten.
type Rule struct {
	Name string
	// IDKeys are the payload fields tried, in order, for the identifier.
	IDKeys []string
	Valid  func(id string) bool
}

func (r Rule) idKeys() []string {
	if len(r.IDKeys) == 0 {
		return []string{"id"}
	}
	return r.IDKeys
}

// SlugRule accepts slug-addressed identifiers: at least 5 characters after
// trimming, not purely numeric, no whitespace, and only [a-z0-9-] once
// lowercased.
var SlugRule = Rule{
	Name:   "slug",
	IDKeys: []string{"slug", "marketSlug", "id"},
	Valid:  ValidSlug,
}

// AnyIDRule accepts any non-empty identifier.
var AnyIDRule = Rule{
	Name:  "any",
	Valid: func(id string) bool { return strings.TrimSpace(id) != "" },
}

// ValidSlug implements SlugRule.
func ValidSlug(s string) bool {
	t := strings.TrimSpace(s)
	if len(t) < 5 {
		return false
	}
	allDigits := true
	for _, r := range t {
		if unicode.IsSpace(r) {
			return false
		}
		if r < '0' || r > '9' {
			allDigits = false
		}
	}
	if allDigits {
		return false
	}
	for _, r := range strings.ToLower(t) {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-') {
			return false
		}
	}
	return true
}
