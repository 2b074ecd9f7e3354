// Package scraper collects job postings from job boards and filters them
// before they reach ingestion.
package scraper

import "strings"

// ContainsRedFlag returns true if any red flag term appears (case-insensitive)
// anywhere in the combined title + company + description text.
func ContainsRedFlag(title, company, description string, redFlags []string) bool {
	_, ok := MatchRedFlag(title, company, description, redFlags)
	return ok
}

// MatchRedFlag returns the first red flag found in the posting. Empty flags
// are ignored.
func MatchRedFlag(title, company, description string, redFlags []string) (string, bool) {
	if len(redFlags) == 0 {
		return "", false
	}
	combined := strings.ToLower(title + "\n" + company + "\n" + description)
	for _, flag := range redFlags {
		term := strings.ToLower(strings.TrimSpace(flag))
		if term == "" {
			continue
		}
		if strings.Contains(combined, term) {
			return flag, true
		}
	}
	return "", false
}
