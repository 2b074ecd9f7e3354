package model

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

var (
	reLinkedInJobPath = regexp.MustCompile(`/jobs/view/(?:[^/]*-)?(\d+)/?$`)
	reDigits          = regexp.MustCompile(`^\d+$`)
	reNonWord         = regexp.MustCompile(`[^\p{L}\p{N}]+`)
)

// trackingParams are query keys that never identify a posting.
var trackingParams = map[string]bool{
	"trk": true, "trkinfo": true, "trackingid": true, "refid": true,
	"lipi": true, "midtoken": true, "midsig": true, "eba": true,
	"position": true, "pagenum": true, "originalsubdomain": true,
	"from": true, "tk": true, "vjs": true, "advn": true, "adid": true,
	"sjdu": true, "fccid": true, "gclid": true, "fbclid": true,
	"ref": true, "src": true, "source": true,
}

// CanonicalURL strips tracking noise from a posting URL so the same posting
// always yields the same string. LinkedIn postings collapse to
// https://www.linkedin.com/jobs/view/{id}; Indeed postings keep only their
// jk job key; other hosts drop tracking parameters and fragments.
func CanonicalURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("empty url")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", errors.New("url has no host")
	}

	switch {
	case isHost(host, "linkedin.com"):
		if m := reLinkedInJobPath.FindStringSubmatch(u.Path); m != nil {
			return "https://www.linkedin.com/jobs/view/" + m[1], nil
		}
		if id := u.Query().Get("currentJobId"); reDigits.MatchString(id) {
			return "https://www.linkedin.com/jobs/view/" + id, nil
		}
	case isHost(host, "indeed.com") || strings.Contains(host, ".indeed."):
		if jk := u.Query().Get("jk"); jk != "" {
			return "https://" + host + "/viewjob?jk=" + jk, nil
		}
	}

	q := u.Query()
	keys := make([]string, 0, len(q))
	for k := range q {
		lk := strings.ToLower(k)
		if trackingParams[lk] || strings.HasPrefix(lk, "utm_") {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("https://")
	b.WriteString(host)
	path := strings.TrimRight(u.EscapedPath(), "/")
	b.WriteString(path)
	for i, k := range keys {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(q.Get(k)))
	}
	return b.String(), nil
}

// SourceFromURL infers the job board from a canonical URL.
func SourceFromURL(canonical string) Source {
	u, err := url.Parse(canonical)
	if err != nil {
		return SourceOther
	}
	host := strings.ToLower(u.Hostname())
	switch {
	case isHost(host, "linkedin.com"):
		return SourceLinkedIn
	case isHost(host, "indeed.com") || strings.Contains(host, ".indeed."):
		return SourceIndeed
	}
	return SourceOther
}

func isHost(host, domain string) bool {
	return host == domain || strings.HasSuffix(host, "."+domain)
}

// ContentHash identifies a posting by its normalized title, company and
// location, catching re-posts under a different URL.
func ContentHash(title, company, location string) string {
	key := strings.ToLower(strings.TrimSpace(title)) + "|" +
		strings.ToLower(strings.TrimSpace(company)) + "|" +
		strings.ToLower(strings.TrimSpace(location))
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// NormalizeKey lowercases s, turns punctuation runs into single spaces and
// trims, so whitespace and punctuation variants compare equal.
func NormalizeKey(s string) string {
	s = strings.ToLower(s)
	s = reNonWord.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
