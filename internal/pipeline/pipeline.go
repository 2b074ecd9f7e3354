// Package pipeline drives jobs from a scrape batch through ingestion,
// enrichment and analysis. Per-job failures are logged and isolated; only
// storage errors end a stage early.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"jobmate/pipeline-service/internal/analysis"
	"jobmate/pipeline-service/internal/dedup"
	"jobmate/pipeline-service/internal/enrich"
	"jobmate/pipeline-service/internal/kanban"
	"jobmate/pipeline-service/internal/model"
	"jobmate/pipeline-service/internal/repository"
	"jobmate/pipeline-service/internal/scoring"
	"jobmate/pipeline-service/internal/scraper"
)

const (
	DefaultEnrichBatch  = 20
	DefaultAnalyzeBatch = 50
)

// ErrRunInProgress is returned by Run while another run holds the pipeline.
var ErrRunInProgress = errors.New("pipeline run already in progress")

// Config wires a Pipeline. Repo, Fetcher and Analyzer are required.
type Config struct {
	Repo      repository.Repository
	Fetcher   enrich.Fetcher
	Analyzer  analysis.Analyzer
	Profile   scoring.Profile
	Publisher kanban.Publisher

	// Scraper and Search are optional; without them Run skips scraping.
	Scraper *scraper.Worker
	Search  model.SearchConfig

	DedupWindow  time.Duration
	QualityFloor int
	EnrichBatch  int
	AnalyzeBatch int
	Logger       *slog.Logger
}

// Pipeline runs the stages against one repository handle.
type Pipeline struct {
	cfg       Config
	repo      repository.Repository
	dedup     *dedup.Deduplicator
	tracker   enrich.Tracker
	lifecycle *kanban.Service
	pub       kanban.Publisher
	logger    *slog.Logger
	now       func() time.Time

	running sync.Mutex
}

// New returns a Pipeline for cfg.
func New(cfg Config) *Pipeline {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Publisher == nil {
		cfg.Publisher = kanban.NopPublisher{}
	}
	if cfg.EnrichBatch <= 0 {
		cfg.EnrichBatch = DefaultEnrichBatch
	}
	if cfg.AnalyzeBatch <= 0 {
		cfg.AnalyzeBatch = DefaultAnalyzeBatch
	}
	return &Pipeline{
		cfg:       cfg,
		repo:      cfg.Repo,
		dedup:     dedup.New(cfg.Repo, cfg.DedupWindow),
		tracker:   enrich.NewTracker(cfg.QualityFloor),
		lifecycle: kanban.NewService(cfg.Repo, cfg.Publisher, cfg.Logger),
		pub:       cfg.Publisher,
		logger:    cfg.Logger,
		now:       time.Now,
	}
}

// WithRepository returns a Pipeline with the same collaborators over repo.
// Workers use it to run on a handle they own.
func (p *Pipeline) WithRepository(repo repository.Repository) *Pipeline {
	cfg := p.cfg
	cfg.Repo = repo
	np := New(cfg)
	np.now = p.now
	return np
}

// ─── Ingest ──────────────────────────────────────────────────────────────────

// IngestReport counts the outcome of one Ingest call.
type IngestReport struct {
	Inserted   int
	Duplicates int
	Rejected   int
	// ByStrategy counts duplicates per matching strategy.
	ByStrategy map[dedup.Strategy]int
	IDs        []int64
}

func (r *IngestReport) add(o IngestReport) {
	r.Inserted += o.Inserted
	r.Duplicates += o.Duplicates
	r.Rejected += o.Rejected
	r.IDs = append(r.IDs, o.IDs...)
	for k, v := range o.ByStrategy {
		if r.ByStrategy == nil {
			r.ByStrategy = map[dedup.Strategy]int{}
		}
		r.ByStrategy[k] += v
	}
}

// Ingest validates, deduplicates and stores a scrape batch. Malformed
// records are rejected and logged; a storage error stops the batch and is
// returned with the partial report.
func (p *Pipeline) Ingest(ctx context.Context, batch []model.ScrapedJob) (IngestReport, error) {
	rep := IngestReport{ByStrategy: map[dedup.Strategy]int{}}
	for _, s := range batch {
		job, err := model.NewJobRecord(s, p.now())
		if err != nil {
			rep.Rejected++
			p.logger.Warn("ingestion rejected", "url", s.URL, "title", s.Title, "err", err)
			continue
		}

		decision, err := p.dedup.Check(ctx, job)
		if err != nil {
			return rep, err
		}
		if decision.IsDuplicate() {
			rep.Duplicates++
			rep.ByStrategy[decision.Strategy]++
			p.logger.Debug("duplicate", "url", job.SourceURL, "existing_id", decision.ExistingID, "strategy", decision.Strategy)
			continue
		}

		id, err := p.repo.Insert(ctx, job)
		if errors.Is(err, model.ErrDuplicate) {
			rep.Duplicates++
			rep.ByStrategy[dedup.ByStorage]++
			continue
		}
		if err != nil {
			return rep, fmt.Errorf("insert %s: %w", job.SourceURL, err)
		}
		rep.Inserted++
		rep.IDs = append(rep.IDs, id)
	}
	return rep, nil
}

// ─── Enrich ──────────────────────────────────────────────────────────────────

// EnrichReport counts the outcome of one Enrich call.
type EnrichReport struct {
	Attempted int
	Complete  int
	Partial   int
	Failed    int
}

// Enrich fetches descriptions for up to limit jobs that need one. A failed
// or low-quality fetch is recorded on the job and leaves it eligible for a
// later round.
func (p *Pipeline) Enrich(ctx context.Context, limit int) (EnrichReport, error) {
	var rep EnrichReport
	if limit <= 0 {
		limit = p.cfg.EnrichBatch
	}
	jobs, err := p.repo.NeedingEnrichment(ctx, limit, p.tracker.Floor)
	if err != nil {
		return rep, err
	}

	for i := range jobs {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		job := &jobs[i]
		rep.Attempted++

		text, fetchErr := p.cfg.Fetcher.Fetch(ctx, job.SourceURL)
		if fetchErr != nil && ctx.Err() != nil {
			return rep, ctx.Err()
		}

		u, out := p.tracker.Record(job, text, fetchErr, p.now().UTC())
		if err := p.repo.Update(ctx, job.ID, u); err != nil {
			return rep, fmt.Errorf("record enrichment %d: %w", job.ID, err)
		}

		switch {
		case fetchErr != nil:
			rep.Failed++
			p.logger.Warn("enrichment failed", "job_id", job.ID, "err", fetchErr)
		case out.Complete:
			rep.Complete++
		default:
			rep.Partial++
			p.logger.Info("enrichment partial", "job_id", job.ID, "quality", out.Quality)
		}
	}
	return rep, nil
}

// ─── Analyze ─────────────────────────────────────────────────────────────────

// AnalyzeReport counts the outcome of one Analyze call.
type AnalyzeReport struct {
	Total     int
	Scored    int
	Failed    int
	Cancelled bool
}

// Progress is called before each job is analyzed.
type Progress func(done, total int, job *model.JobRecord)

// Analyze scores up to limit jobs awaiting analysis and moves each scored
// job to ai_analyzed. Cancellation is checked between jobs; scores already
// written are kept.
func (p *Pipeline) Analyze(ctx context.Context, limit int) (AnalyzeReport, error) {
	return p.analyze(ctx, limit, "", nil, nil)
}

func (p *Pipeline) analyze(ctx context.Context, limit int, runID string, progress Progress, onErr func(error)) (AnalyzeReport, error) {
	var rep AnalyzeReport
	if limit <= 0 {
		limit = p.cfg.AnalyzeBatch
	}
	jobs, err := p.repo.NeedingAnalysis(ctx, limit)
	if err != nil {
		return rep, err
	}
	rep.Total = len(jobs)

	for i := range jobs {
		if ctx.Err() != nil {
			rep.Cancelled = true
			return rep, nil
		}
		job := &jobs[i]
		if progress != nil {
			progress(i, len(jobs), job)
		}

		res, err := p.cfg.Analyzer.Score(ctx, job, p.cfg.Profile)
		if err != nil {
			if ctx.Err() != nil {
				rep.Cancelled = true
				return rep, nil
			}
			rep.Failed++
			p.logger.Warn("analysis failed", "job_id", job.ID, "err", err)
			if onErr != nil {
				onErr(fmt.Errorf("job %d: %w", job.ID, err))
			}
			msg := "analysis: " + err.Error()
			if uerr := p.repo.Update(ctx, job.ID, repository.Update{LastError: &msg}); uerr != nil {
				return rep, uerr
			}
			continue
		}

		// A result that arrived is stored even if the run was cancelled meanwhile.
		if err := p.storeAnalysis(context.WithoutCancel(ctx), job, res, runID); err != nil {
			return rep, err
		}
		rep.Scored++
	}
	return rep, nil
}

// storeAnalysis writes the score and moves the job to ai_analyzed in one
// transaction.
func (p *Pipeline) storeAnalysis(ctx context.Context, job *model.JobRecord, res analysis.Result, runID string) error {
	now := p.now().UTC()
	noErr := ""
	u := repository.Update{
		Score:          &res.Score,
		ScoreBreakdown: res.Breakdown,
		MatchedSkills:  res.MatchedSkills,
		Strengths:      res.Strengths,
		Concerns:       res.Concerns,
		FitAssessment:  &res.FitAssessment,
		Recommendation: &res.Recommendation,
		AnalyzedAt:     &now,
		LastError:      &noErr,
	}
	details := fmt.Sprintf("score %d (%s)", res.Score, res.Method)

	err := p.repo.InTx(ctx, func(tx repository.Repository) error {
		_, err := p.lifecycle.MarkAnalyzed(ctx, tx, job.ID, details, u)
		return err
	})
	switch {
	case errors.Is(err, model.ErrInvalidTransition):
		// Moved by the user since it was selected; keep the score only,
		// unless the job has been closed.
		closed := false
		err = p.repo.InTx(ctx, func(tx repository.Repository) error {
			cur, err := tx.Get(ctx, job.ID)
			if err != nil {
				return err
			}
			if closed = cur.Status.IsTerminal(); closed {
				return nil
			}
			u.UpdatedAt = now
			return tx.Update(ctx, job.ID, u)
		})
		if err != nil {
			return fmt.Errorf("store analysis %d: %w", job.ID, err)
		}
		if closed {
			p.logger.Info("analysis discarded, job closed", "job_id", job.ID, "score", res.Score)
			return nil
		}
	case err != nil:
		return fmt.Errorf("store analysis %d: %w", job.ID, err)
	default:
		p.lifecycle.PublishMoved(ctx, job.ID, job.Status, model.StatusAIAnalyzed)
	}

	p.pub.Publish(ctx, kanban.EventJobAnalyzed, kanban.JobAnalyzedEvent{
		Type:   kanban.EventJobAnalyzed,
		JobID:  job.ID,
		Score:  res.Score,
		Method: res.Method,
		RunID:  runID,
	})
	p.logger.Info("job analyzed", "job_id", job.ID, "score", res.Score, "method", res.Method)
	return nil
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// RunReport is the outcome of one full Run.
type RunReport struct {
	RunID   string
	Scrape  scraper.Report
	Ingest  IngestReport
	Enrich  EnrichReport
	Analyze AnalyzeReport
}

// Run scrapes, ingests, enriches and analyzes once. Concurrent calls
// return ErrRunInProgress.
func (p *Pipeline) Run(ctx context.Context) (RunReport, error) {
	if !p.running.TryLock() {
		return RunReport{}, ErrRunInProgress
	}
	defer p.running.Unlock()

	rep := RunReport{RunID: uuid.NewString()}
	log := p.logger.With("run_id", rep.RunID)
	log.Info("pipeline run started")

	if p.cfg.Scraper != nil {
		scrape, err := p.cfg.Scraper.Run(ctx, p.cfg.Search, func(ctx context.Context, batch []model.ScrapedJob) error {
			ing, err := p.Ingest(ctx, batch)
			rep.Ingest.add(ing)
			return err
		})
		rep.Scrape = scrape
		if err != nil {
			return rep, fmt.Errorf("scrape: %w", err)
		}
	}

	enr, err := p.Enrich(ctx, p.cfg.EnrichBatch)
	rep.Enrich = enr
	if err != nil {
		return rep, fmt.Errorf("enrich: %w", err)
	}

	an, err := p.analyze(ctx, p.cfg.AnalyzeBatch, rep.RunID, nil, nil)
	rep.Analyze = an
	if err != nil {
		return rep, fmt.Errorf("analyze: %w", err)
	}

	log.Info("pipeline run done",
		"inserted", rep.Ingest.Inserted, "duplicates", rep.Ingest.Duplicates, "rejected", rep.Ingest.Rejected,
		"enriched", rep.Enrich.Complete, "enrich_failed", rep.Enrich.Failed,
		"scored", rep.Analyze.Scored, "analyze_failed", rep.Analyze.Failed)
	return rep, nil
}
