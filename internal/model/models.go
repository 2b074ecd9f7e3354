// Package model defines the job records shared by every pipeline stage.
package model

import (
	"strings"
	"time"
	"unicode/utf8"
)

// SearchConfig describes one scrape run: every (title × location) pair is
// searched and offers matching a red flag are dropped before ingestion.
type SearchConfig struct {
	ID        string
	JobTitles []string
	Locations []string
	RedFlags  []string // any match discards the offer
}

// Source identifies the job board a posting was scraped from.
type Source string

const (
	SourceLinkedIn Source = "linkedin"
	SourceIndeed   Source = "indeed"
	SourceOther    Source = "other"
)

// ParseSource maps a free-form board name onto a Source. Unknown boards
// become SourceOther.
func ParseSource(s string) Source {
	switch Source(strings.ToLower(strings.TrimSpace(s))) {
	case SourceLinkedIn:
		return SourceLinkedIn
	case SourceIndeed:
		return SourceIndeed
	}
	return SourceOther
}

// ScrapedJob is a posting as it comes off a job board, before validation
// and deduplication.
type ScrapedJob struct {
	ExternalID  string `json:"externalId,omitempty"`
	Title       string `json:"title"`
	Company     string `json:"company"`
	Location    string `json:"location"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url"`
	Source      Source `json:"source"`
	PublishedAt string `json:"publishedAt,omitempty"`
}

// JobRecord is the canonical, stored representation of one posting and
// its place in the application lifecycle.
type JobRecord struct {
	ID          int64  `json:"id"`
	SourceURL   string `json:"sourceUrl"`
	ContentHash string `json:"contentHash"`

	Title       string `json:"title"`
	Company     string `json:"company"`
	Location    string `json:"location"`
	Description string `json:"description"`
	Source      Source `json:"source"`

	Score             *int           `json:"score"`
	ScoreBreakdown    map[string]int `json:"scoreBreakdown,omitempty"`
	MatchedSkills     []string       `json:"matchedSkills,omitempty"`
	Strengths         []string       `json:"strengths,omitempty"`
	Concerns          []string       `json:"concerns,omitempty"`
	FitAssessment     string         `json:"fitAssessment,omitempty"`
	Recommendation    string         `json:"recommendation,omitempty"`
	EnrichmentQuality *int           `json:"enrichmentQuality"`
	EnrichAttempts    int            `json:"enrichAttempts"`

	Status         Status     `json:"status"`
	ScrapedAt      time.Time  `json:"scrapedAt"`
	EnrichedAt     *time.Time `json:"enrichedAt"`
	AnalyzedAt     *time.Time `json:"analyzedAt"`
	AppliedAt      *time.Time `json:"appliedAt"`
	ResolvedAt     *time.Time `json:"resolvedAt"`
	LastFollowupAt *time.Time `json:"lastFollowupAt"`
	FollowupCount  int        `json:"followupCount"`
	UpdatedAt      time.Time  `json:"updatedAt"`

	Notes       string  `json:"notes"`
	CoverLetter *string `json:"coverLetter"`
	LastError   string  `json:"lastError,omitempty"`
}

// MinDescriptionLength is the shortest description that counts as real
// content. Shorter descriptions are neither scored nor considered enriched.
const MinDescriptionLength = 100

// MaxEnrichAttempts bounds how many enrichment rounds a job gets before it
// stops being selected for re-fetching.
const MaxEnrichAttempts = 3

// HasUsableDescription reports whether the description is long enough to
// score.
func (j *JobRecord) HasUsableDescription() bool {
	return UsableDescription(j.Description)
}

// UsableDescription reports whether text has at least MinDescriptionLength
// characters once trimmed.
func UsableDescription(text string) bool {
	return utf8.RuneCountInString(strings.TrimSpace(text)) >= MinDescriptionLength
}

// NewJobRecord validates a scraped posting and derives its identity.
// Missing title, company or URL is an ingestion error: such records would
// hash identically to every other incomplete record.
func NewJobRecord(s ScrapedJob, now time.Time) (*JobRecord, error) {
	title := strings.TrimSpace(s.Title)
	company := strings.TrimSpace(s.Company)
	switch {
	case title == "":
		return nil, &IngestionError{Field: "title", Reason: "missing"}
	case company == "":
		return nil, &IngestionError{Field: "company", Reason: "missing"}
	case strings.TrimSpace(s.URL) == "":
		return nil, &IngestionError{Field: "url", Reason: "missing"}
	}

	canonical, err := CanonicalURL(s.URL)
	if err != nil {
		return nil, &IngestionError{Field: "url", Reason: err.Error()}
	}

	source := s.Source
	if source == "" {
		source = SourceFromURL(canonical)
	}

	location := strings.TrimSpace(s.Location)
	return &JobRecord{
		SourceURL:   canonical,
		ContentHash: ContentHash(title, company, location),
		Title:       title,
		Company:     company,
		Location:    location,
		Description: strings.TrimSpace(s.Description),
		Source:      source,
		Status:      StatusScraped,
		ScrapedAt:   now.UTC(),
		UpdatedAt:   now.UTC(),
	}, nil
}

// HistoryEvent is one immutable entry of a job's audit log. Sequence is
// strictly increasing per job and defines the order of events.
type HistoryEvent struct {
	JobID     int64     `json:"jobId"`
	Sequence  int64     `json:"sequence"`
	Action    string    `json:"action"`
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Interview is one scheduled interview round for a job.
type Interview struct {
	ID          string        `json:"id"`
	JobID       int64         `json:"jobId"`
	Type        string        `json:"type"`
	ScheduledAt time.Time     `json:"scheduledAt"`
	Interviewer string        `json:"interviewer,omitempty"`
	Duration    time.Duration `json:"duration"`
	Completed   bool          `json:"completed"`
	Notes       string        `json:"notes,omitempty"`
}
