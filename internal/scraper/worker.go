package scraper

import (
	"context"
	"fmt"
	"log/slog"

	"jobmate/pipeline-service/internal/model"
)

// Sink receives each filtered batch. An error from the sink means storage
// is unavailable and stops the run.
type Sink func(ctx context.Context, batch []model.ScrapedJob) error

// Report counts what one Run saw.
type Report struct {
	Fetched     int
	Filtered    int
	FailedPairs int
}

// Worker runs the full scrape cycle for a SearchConfig.
type Worker struct {
	source Source
	logger *slog.Logger
}

// NewWorker constructs a Worker.
func NewWorker(source Source, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{source: source, logger: logger}
}

// Run searches every (title × location) pair, drops red-flagged offers and
// hands each pair's batch to sink. A failing pair is logged and skipped;
// only a sink error ends the run early.
func (w *Worker) Run(ctx context.Context, cfg model.SearchConfig, sink Sink) (Report, error) {
	w.logger.Info("scrape started", "config", cfg.ID, "titles", cfg.JobTitles, "locations", cfg.Locations)

	var rep Report
	for _, title := range cfg.JobTitles {
		for _, location := range cfg.Locations {
			if err := ctx.Err(); err != nil {
				return rep, err
			}

			jobs, err := w.source.Search(ctx, title, location)
			if err != nil {
				rep.FailedPairs++
				w.logger.Warn("search failed, continuing", "title", title, "location", location, "err", err)
				if len(jobs) == 0 {
					continue
				}
			}
			rep.Fetched += len(jobs)

			batch := make([]model.ScrapedJob, 0, len(jobs))
			for _, j := range jobs {
				if flag, ok := MatchRedFlag(j.Title, j.Company, j.Description, cfg.RedFlags); ok {
					rep.Filtered++
					w.logger.Debug("red flag", "title", j.Title, "company", j.Company, "flag", flag)
					continue
				}
				batch = append(batch, j)
			}
			if len(batch) == 0 {
				continue
			}
			if err := sink(ctx, batch); err != nil {
				return rep, fmt.Errorf("ingest (%q, %q): %w", title, location, err)
			}
		}
	}

	w.logger.Info("scrape done", "config", cfg.ID,
		"fetched", rep.Fetched, "filtered", rep.Filtered, "failed_pairs", rep.FailedPairs)
	return rep, nil
}
