// Package dedup decides whether a freshly scraped job is new or a repost of
// something already stored. Every check runs against the repository, so
// decisions hold across process restarts.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"jobmate/pipeline-service/internal/model"
	"jobmate/pipeline-service/internal/repository"
)

// Outcome is the result of a dedup check.
type Outcome int

const (
	OutcomeNew Outcome = iota
	OutcomeDuplicate
)

func (o Outcome) String() string {
	if o == OutcomeDuplicate {
		return "duplicate"
	}
	return "new"
}

// Strategy names the check that matched.
type Strategy string

const (
	ByURL          Strategy = "url"
	ByContentHash  Strategy = "content_hash"
	ByTitleCompany Strategy = "title_company"
	ByRecentWindow Strategy = "recent_window"

	// ByStorage marks a candidate that passed Check but was rejected by the
	// store's unique constraints on insert.
	ByStorage Strategy = "storage"
)

// Decision is the tagged result of Check. ExistingID and Strategy are set
// only for duplicates.
type Decision struct {
	Outcome    Outcome
	ExistingID int64
	Strategy   Strategy
}

// IsDuplicate reports whether the candidate matched a stored job.
func (d Decision) IsDuplicate() bool { return d.Outcome == OutcomeDuplicate }

// DefaultWindow is how far back the recency check looks.
const DefaultWindow = 24 * time.Hour

// Deduplicator checks candidates against the repository.
type Deduplicator struct {
	repo   repository.Repository
	window time.Duration
	now    func() time.Time
}

// New returns a Deduplicator. A non-positive window uses DefaultWindow.
func New(repo repository.Repository, window time.Duration) *Deduplicator {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Deduplicator{repo: repo, window: window, now: time.Now}
}

// Check runs the strategies in order and returns on the first match:
// canonical URL, content hash, case-insensitive title+company, then
// normalized title+company among jobs scraped inside the window.
// candidate must come from model.NewJobRecord.
func (d *Deduplicator) Check(ctx context.Context, candidate *model.JobRecord) (Decision, error) {
	lookups := []struct {
		strategy Strategy
		find     func() (*model.JobRecord, error)
	}{
		{ByURL, func() (*model.JobRecord, error) { return d.repo.FindByURL(ctx, candidate.SourceURL) }},
		{ByContentHash, func() (*model.JobRecord, error) { return d.repo.FindByHash(ctx, candidate.ContentHash) }},
		{ByTitleCompany, func() (*model.JobRecord, error) {
			return d.repo.FindByTitleCompany(ctx, candidate.Title, candidate.Company)
		}},
	}
	for _, l := range lookups {
		existing, err := l.find()
		if errors.Is(err, model.ErrNotFound) {
			continue
		}
		if err != nil {
			return Decision{}, fmt.Errorf("dedup %s: %w", l.strategy, err)
		}
		return Decision{Outcome: OutcomeDuplicate, ExistingID: existing.ID, Strategy: l.strategy}, nil
	}

	recent, err := d.repo.FindRecent(ctx, d.now().Add(-d.window))
	if err != nil {
		return Decision{}, fmt.Errorf("dedup %s: %w", ByRecentWindow, err)
	}
	title := model.NormalizeKey(candidate.Title)
	company := model.NormalizeKey(candidate.Company)
	for _, r := range recent {
		if model.NormalizeKey(r.Title) == title && model.NormalizeKey(r.Company) == company {
			return Decision{Outcome: OutcomeDuplicate, ExistingID: r.ID, Strategy: ByRecentWindow}, nil
		}
	}
	return Decision{Outcome: OutcomeNew}, nil
}
