// Package repository is the persistence boundary of the pipeline. It is the
// single source of truth for job state: callers re-read what they need for
// every operation and never cache records across calls.
//
// Two engines implement Repository: SQLite (the default, one file on disk)
// and Postgres. Both enforce unique source_url and content_hash at the
// storage layer so duplicates are rejected even when application-level
// deduplication is bypassed.
package repository

import (
	"context"
	"fmt"
	"time"

	"jobmate/pipeline-service/internal/model"
)

// Repository is the store every pipeline component depends on. Lookups
// return model.ErrNotFound when nothing matches.
type Repository interface {
	FindByURL(ctx context.Context, url string) (*model.JobRecord, error)
	FindByHash(ctx context.Context, hash string) (*model.JobRecord, error)
	FindByTitleCompany(ctx context.Context, title, company string) (*model.JobRecord, error)
	FindRecent(ctx context.Context, since time.Time) ([]model.JobRecord, error)
	Get(ctx context.Context, id int64) (*model.JobRecord, error)

	// Insert stores a new job and returns its ID. A uniqueness conflict
	// returns model.ErrDuplicate.
	Insert(ctx context.Context, job *model.JobRecord) (int64, error)
	Update(ctx context.Context, id int64, u Update) error

	// AppendHistory stores one event and returns it with its sequence and
	// timestamp filled in. The timestamp never sorts before the job's
	// previous event.
	AppendHistory(ctx context.Context, ev model.HistoryEvent) (model.HistoryEvent, error)
	History(ctx context.Context, id int64) ([]model.HistoryEvent, error)

	All(ctx context.Context) ([]model.JobRecord, error)
	QueryByStatus(ctx context.Context, status model.Status) ([]model.JobRecord, error)
	// QueryByScore returns analyzed jobs scoring at least minScore, best first.
	QueryByScore(ctx context.Context, minScore int) ([]model.JobRecord, error)
	// Search returns jobs whose title, company or description contains q,
	// ignoring case, newest first.
	Search(ctx context.Context, q string) ([]model.JobRecord, error)
	NeedingEnrichment(ctx context.Context, limit, qualityFloor int) ([]model.JobRecord, error)
	NeedingAnalysis(ctx context.Context, limit int) ([]model.JobRecord, error)

	InsertInterview(ctx context.Context, iv model.Interview) error
	CompleteInterview(ctx context.Context, jobID int64, interviewID string) error
	Interviews(ctx context.Context, jobID int64) ([]model.Interview, error)

	Stats(ctx context.Context) (Stats, error)

	// InTx runs fn against a transaction-scoped Repository. Either every
	// write made through tx commits or none does.
	InTx(ctx context.Context, fn func(tx Repository) error) error
	Close() error
}

// Opener opens an independent Repository handle. Workers that run
// alongside request handlers own their handle instead of sharing one.
type Opener func(ctx context.Context) (Repository, error)

// Update lists the job fields to change. Nil fields are left untouched.
type Update struct {
	Status            *model.Status
	Description       *string
	EnrichmentQuality *int
	EnrichAttempts    *int
	EnrichedAt        *time.Time

	Score          *int
	ScoreBreakdown map[string]int
	MatchedSkills  []string
	Strengths      []string
	Concerns       []string
	FitAssessment  *string
	Recommendation *string
	AnalyzedAt     *time.Time

	AppliedAt      *time.Time
	ResolvedAt     *time.Time
	LastFollowupAt *time.Time
	FollowupCount  *int

	Notes       *string
	CoverLetter *string
	LastError   *string

	// UpdatedAt defaults to the current time.
	UpdatedAt time.Time
}

// Stats summarises the store for the dashboard.
type Stats struct {
	Total          int                  `json:"total"`
	NeedEnrichment int                  `json:"needEnrichment"`
	Enriched       int                  `json:"enriched"`
	Analyzed       int                  `json:"analyzed"`
	NeedAnalysis   int                  `json:"needAnalysis"`
	HighMatches    int                  `json:"highMatches"`
	MediumMatches  int                  `json:"mediumMatches"`
	LowMatches     int                  `json:"lowMatches"`
	ByStatus       map[model.Status]int `json:"byStatus"`

	// TotalApplications counts jobs applied to and not rejected.
	TotalApplications int     `json:"totalApplications"`
	TotalInterviews   int     `json:"totalInterviews"`
	AverageScore      float64 `json:"averageScore"`
	// ResponseRate is the percentage of applications that reached an
	// interview or offer.
	ResponseRate float64 `json:"responseRate"`
}

// Options selects and configures a storage engine.
type Options struct {
	Driver      string // "sqlite" or "postgres"
	SQLitePath  string
	DatabaseURL string
}

// Open opens a Repository for opts.
func Open(ctx context.Context, opts Options) (Repository, error) {
	switch opts.Driver {
	case "", "sqlite":
		return OpenSQLite(ctx, opts.SQLitePath)
	case "postgres":
		return OpenPostgres(ctx, opts.DatabaseURL)
	}
	return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
}

// NewOpener returns an Opener bound to opts.
func NewOpener(opts Options) Opener {
	return func(ctx context.Context) (Repository, error) {
		return Open(ctx, opts)
	}
}
