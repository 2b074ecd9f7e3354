package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"jobmate/pipeline-service/internal/kanban"
	"jobmate/pipeline-service/internal/model"
	"jobmate/pipeline-service/internal/repository"
)

// ErrAnalysisRunning is returned by Start while a run is active.
var ErrAnalysisRunning = errors.New("background analysis already running")

const maxStatusErrors = 20

// Status is a snapshot of the background analysis.
type Status struct {
	Running    bool       `json:"running"`
	RunID      string     `json:"runId,omitempty"`
	Current    int        `json:"current"`
	Total      int        `json:"total"`
	CurrentJob string     `json:"currentJob,omitempty"`
	Scored     int        `json:"scored"`
	Failed     int        `json:"failed"`
	Cancelled  bool       `json:"cancelled"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Errors     []string   `json:"errors"`
}

// BackgroundAnalyzer runs bulk analysis alongside request handling. Each
// run opens its own repository handle and closes it when done.
type BackgroundAnalyzer struct {
	root   context.Context
	open   repository.Opener
	base   *Pipeline
	limit  int
	logger *slog.Logger

	mu     sync.Mutex
	status Status
	cancel context.CancelFunc
	done   chan struct{}
}

// NewBackgroundAnalyzer returns an idle analyzer. Runs stop when root is
// cancelled.
func NewBackgroundAnalyzer(root context.Context, open repository.Opener, base *Pipeline, limit int, logger *slog.Logger) *BackgroundAnalyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &BackgroundAnalyzer{
		root:   root,
		open:   open,
		base:   base,
		limit:  limit,
		logger: logger,
		status: Status{Errors: []string{}},
	}
}

// Start launches a run. Only one run may be active at a time.
func (b *BackgroundAnalyzer) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status.Running {
		return ErrAnalysisRunning
	}

	ctx, cancel := context.WithCancel(b.root)
	now := time.Now().UTC()
	b.status = Status{
		Running:   true,
		RunID:     uuid.NewString(),
		StartedAt: &now,
		Errors:    []string{},
	}
	b.cancel = cancel
	b.done = make(chan struct{})

	go b.run(ctx, b.status.RunID, b.done)
	return nil
}

// Cancel asks the active run to stop after its current job. It reports
// whether a run was active.
func (b *BackgroundAnalyzer) Cancel() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.status.Running || b.cancel == nil {
		return false
	}
	b.cancel()
	return true
}

// Status returns a copy of the current status.
func (b *BackgroundAnalyzer) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.status
	st.Errors = append([]string{}, b.status.Errors...)
	return st
}

// Wait blocks until the active run, if any, has finished.
func (b *BackgroundAnalyzer) Wait() {
	b.mu.Lock()
	done := b.done
	b.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (b *BackgroundAnalyzer) run(ctx context.Context, runID string, done chan struct{}) {
	defer close(done)
	log := b.logger.With("run_id", runID)
	log.Info("background analysis started")

	var (
		rep AnalyzeReport
		err error
	)
	repo, err := b.open(ctx)
	if err == nil {
		p := b.base.WithRepository(repo)
		rep, err = p.analyze(ctx, b.limit, runID, b.progress, b.recordError)
		if cerr := repo.Close(); cerr != nil {
			log.Warn("close repository failed", "err", cerr)
		}
	}
	if err != nil {
		log.Error("background analysis failed", "err", err)
		b.recordError(err)
	}

	b.mu.Lock()
	now := time.Now().UTC()
	b.status.Running = false
	b.status.CurrentJob = ""
	b.status.FinishedAt = &now
	b.status.Cancelled = rep.Cancelled
	b.status.Scored = rep.Scored
	b.status.Failed = rep.Failed
	if rep.Total > 0 {
		b.status.Current = rep.Scored + rep.Failed
		b.status.Total = rep.Total
	}
	b.cancel()
	b.mu.Unlock()

	log.Info("background analysis finished", "scored", rep.Scored, "failed", rep.Failed, "cancelled", rep.Cancelled)
}

func (b *BackgroundAnalyzer) progress(done, total int, job *model.JobRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status.Current = done
	b.status.Total = total
	b.status.CurrentJob = job.Title + " @ " + job.Company
}

func (b *BackgroundAnalyzer) recordError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.status.Errors) < maxStatusErrors {
		b.status.Errors = append(b.status.Errors, err.Error())
	}
}

// ─── HTTP ────────────────────────────────────────────────────────────────────

// RegisterRoutes mounts the analysis control routes on r.
//
//	POST /analysis/start   → start a background run
//	POST /analysis/cancel  → cancel the active run
//	GET  /analysis/status  → progress snapshot
func (b *BackgroundAnalyzer) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/analysis/start", func(w http.ResponseWriter, _ *http.Request) {
		if err := b.Start(); err != nil {
			kanban.WriteError(w, err.Error(), http.StatusConflict)
			return
		}
		kanban.WriteJSON(w, http.StatusAccepted, b.Status())
	}).Methods(http.MethodPost)

	r.HandleFunc("/analysis/cancel", func(w http.ResponseWriter, _ *http.Request) {
		kanban.WriteJSON(w, http.StatusOK, map[string]bool{"cancelled": b.Cancel()})
	}).Methods(http.MethodPost)

	r.HandleFunc("/analysis/status", func(w http.ResponseWriter, _ *http.Request) {
		kanban.WriteJSON(w, http.StatusOK, b.Status())
	}).Methods(http.MethodGet)
}
