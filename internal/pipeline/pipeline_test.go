package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobmate/pipeline-service/internal/analysis"
	"jobmate/pipeline-service/internal/dedup"
	"jobmate/pipeline-service/internal/kanban"
	"jobmate/pipeline-service/internal/model"
	"jobmate/pipeline-service/internal/pipeline"
	"jobmate/pipeline-service/internal/repository"
	"jobmate/pipeline-service/internal/scoring"
	"jobmate/pipeline-service/internal/scraper"
)

var (
	longDesc = strings.Repeat("Python and Docker work on data pipelines. ", 4)
	fullAd   = "About the role\n\nResponsibilities:\n- build things\n- ship things\n\nRequirements:\n- Python\n- Docker\n" +
		strings.Repeat("Ship data pipelines. ", 120)
)

// ─── Fakes ───────────────────────────────────────────────────────────────────

type fetchResult struct {
	text string
	err  error
}

type stubFetcher map[string]fetchResult

func (f stubFetcher) Fetch(_ context.Context, url string) (string, error) {
	r, ok := f[url]
	if !ok {
		return "", nil
	}
	return r.text, r.err
}

type scriptedAnalyzer struct {
	mu      sync.Mutex
	fail    map[string]bool
	onScore func(job *model.JobRecord)
	calls   int
}

func (a *scriptedAnalyzer) Score(_ context.Context, job *model.JobRecord, _ scoring.Profile) (analysis.Result, error) {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()
	if a.onScore != nil {
		a.onScore(job)
	}
	if a.fail[job.Title] {
		return analysis.Result{}, errors.New("llm unavailable")
	}
	return analysis.Result{
		Score:          70,
		Breakdown:      map[string]int{scoring.SubSkills: 70},
		MatchedSkills:  []string{"python"},
		Recommendation: "Apply this week",
		Method:         analysis.MethodEngine,
	}, nil
}

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) Publish(_ context.Context, channel string, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, channel)
}

func (r *recorder) count(channel string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == channel {
			n++
		}
	}
	return n
}

func storePath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "jobs.db")
}

func openStore(t *testing.T, path string) repository.Repository {
	t.Helper()
	s, err := repository.OpenSQLite(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newPipeline(t *testing.T, repo repository.Repository, f stubFetcher, a analysis.Analyzer, pub kanban.Publisher) *pipeline.Pipeline {
	t.Helper()
	if a == nil {
		a = &scriptedAnalyzer{}
	}
	return pipeline.New(pipeline.Config{
		Repo:      repo,
		Fetcher:   f,
		Analyzer:  a,
		Profile:   scoring.DefaultProfile(),
		Publisher: pub,
	})
}

func scraped(title, company, url, desc string) model.ScrapedJob {
	return model.ScrapedJob{Title: title, Company: company, Location: "Amsterdam", URL: url, Description: desc}
}

// ─── Ingest ──────────────────────────────────────────────────────────────────

func TestIngest_Idempotent(t *testing.T) {
	ctx := context.Background()
	repo := openStore(t, storePath(t))
	p := newPipeline(t, repo, nil, nil, nil)
	rec := scraped("Go Developer", "Acme", "https://example.com/jobs/1", "")

	first, err := p.Ingest(ctx, []model.ScrapedJob{rec})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Inserted)

	second, err := p.Ingest(ctx, []model.ScrapedJob{rec})
	require.NoError(t, err)
	assert.Equal(t, 0, second.Inserted)
	assert.Equal(t, 1, second.Duplicates)
	assert.Equal(t, 1, second.ByStrategy[dedup.ByURL])

	all, err := repo.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestIngest_DedupScenario(t *testing.T) {
	ctx := context.Background()
	repo := openStore(t, storePath(t))
	p := newPipeline(t, repo, nil, nil, nil)

	rep, err := p.Ingest(ctx, []model.ScrapedJob{
		scraped("Python Developer", "Acme", "https://linkedin.com/jobs/view/123?trk=abc", ""),
		scraped("Python Developer", "Acme", "https://linkedin.com/jobs/view/123?trk=xyz", ""),
		scraped("Data Engineer", "Initech", "https://a.example/1", ""),
		scraped("Data Engineer", "Initech", "https://b.example/other", ""),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Inserted)
	assert.Equal(t, 2, rep.Duplicates)
	assert.Equal(t, 1, rep.ByStrategy[dedup.ByURL])
	assert.Equal(t, 1, rep.ByStrategy[dedup.ByContentHash])
}

func TestIngest_RejectsMalformed(t *testing.T) {
	ctx := context.Background()
	repo := openStore(t, storePath(t))
	p := newPipeline(t, repo, nil, nil, nil)

	rep, err := p.Ingest(ctx, []model.ScrapedJob{
		scraped("", "Acme", "https://example.com/1", ""),
		scraped("Dev", "", "https://example.com/2", ""),
		scraped("Dev", "Acme", "", ""),
		scraped("Dev", "Acme", "https://example.com/3", ""),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Rejected)
	assert.Equal(t, 1, rep.Inserted)
}

// ─── Enrich ──────────────────────────────────────────────────────────────────

func TestEnrich(t *testing.T) {
	ctx := context.Background()
	repo := openStore(t, storePath(t))
	f := stubFetcher{
		"https://example.com/jobs/1": {text: fullAd},
		"https://example.com/jobs/2": {err: errors.New("timeout")},
		"https://example.com/jobs/3": {text: "Sign in to continue"},
	}
	p := newPipeline(t, repo, f, nil, nil)
	_, err := p.Ingest(ctx, []model.ScrapedJob{
		scraped("A", "X", "https://example.com/jobs/1", ""),
		scraped("B", "X", "https://example.com/jobs/2", ""),
		scraped("C", "X", "https://example.com/jobs/3", ""),
	})
	require.NoError(t, err)

	rep, err := p.Enrich(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, pipeline.EnrichReport{Attempted: 3, Complete: 1, Partial: 1, Failed: 1}, rep)

	a, err := repo.FindByURL(ctx, "https://example.com/jobs/1")
	require.NoError(t, err)
	assert.True(t, a.HasUsableDescription())
	require.NotNil(t, a.EnrichedAt)
	assert.Empty(t, a.LastError)

	b, err := repo.FindByURL(ctx, "https://example.com/jobs/2")
	require.NoError(t, err)
	require.NotNil(t, b.EnrichedAt, "a failed fetch still stamps enriched_at")
	assert.Contains(t, b.LastError, "timeout")
	assert.Equal(t, 1, b.EnrichAttempts)

	again, err := p.Enrich(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, again.Attempted, "incomplete jobs stay queued")
}

func TestEnrich_KeepsScoredDescription(t *testing.T) {
	ctx := context.Background()
	repo := openStore(t, storePath(t))
	url := "https://example.com/jobs/1"
	f := stubFetcher{url: {text: longDesc}}
	p := newPipeline(t, repo, f, nil, nil)
	_, err := p.Ingest(ctx, []model.ScrapedJob{scraped("A", "X", url, "short")})
	require.NoError(t, err)

	rep, err := p.Enrich(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Partial, "usable but graded below the floor")
	_, err = p.Analyze(ctx, 10)
	require.NoError(t, err)

	f[url] = fetchResult{text: "Sign in to LinkedIn"}
	rep, err = p.Enrich(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Attempted)

	job, err := repo.FindByURL(ctx, url)
	require.NoError(t, err)
	assert.Equal(t, strings.TrimSpace(longDesc), job.Description)
	assert.True(t, job.HasUsableDescription())
	require.NotNil(t, job.Score)
	assert.Equal(t, 70, *job.Score)
	assert.Equal(t, 2, job.EnrichAttempts)
	assert.Contains(t, job.LastError, "too short")
}

// ─── Analyze ─────────────────────────────────────────────────────────────────

func TestAnalyze_IsolatesFailures(t *testing.T) {
	ctx := context.Background()
	repo := openStore(t, storePath(t))
	pub := &recorder{}
	an := &scriptedAnalyzer{fail: map[string]bool{"Broken": true}}
	p := newPipeline(t, repo, nil, an, pub)

	_, err := p.Ingest(ctx, []model.ScrapedJob{
		scraped("Good", "X", "https://example.com/jobs/1", longDesc),
		scraped("Broken", "X", "https://example.com/jobs/2", longDesc),
		scraped("Short", "X", "https://example.com/jobs/3", "too short"),
		scraped("Also good", "Y", "https://example.com/jobs/4", longDesc),
	})
	require.NoError(t, err)

	rep, err := p.Analyze(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, pipeline.AnalyzeReport{Total: 3, Scored: 2, Failed: 1}, rep)
	assert.Equal(t, 3, an.calls, "short descriptions are never offered for scoring")

	good, err := repo.FindByURL(ctx, "https://example.com/jobs/1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusAIAnalyzed, good.Status)
	require.NotNil(t, good.Score)
	assert.Equal(t, 70, *good.Score)
	assert.NotNil(t, good.AnalyzedAt)
	hist, err := repo.History(ctx, good.ID)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, model.StatusAIAnalyzed, hist[0].To)

	broken, err := repo.FindByURL(ctx, "https://example.com/jobs/2")
	require.NoError(t, err)
	assert.Equal(t, model.StatusScraped, broken.Status)
	assert.Nil(t, broken.Score)
	assert.Contains(t, broken.LastError, "llm unavailable")

	short, err := repo.FindByURL(ctx, "https://example.com/jobs/3")
	require.NoError(t, err)
	assert.Nil(t, short.Score)

	assert.Equal(t, 2, pub.count(kanban.EventJobAnalyzed))
	assert.Equal(t, 2, pub.count(kanban.EventJobMoved))
}

func TestAnalyze_ReviewedJobsStayOnFailure(t *testing.T) {
	ctx := context.Background()
	repo := openStore(t, storePath(t))
	p := newPipeline(t, repo, nil, &scriptedAnalyzer{fail: map[string]bool{"Broken": true}}, nil)
	ing, err := p.Ingest(ctx, []model.ScrapedJob{scraped("Broken", "X", "https://example.com/jobs/9", longDesc)})
	require.NoError(t, err)
	id := ing.IDs[0]
	_, err = kanban.NewService(repo, nil, nil).Transition(ctx, id, model.StatusReviewed, "")
	require.NoError(t, err)

	_, err = p.Analyze(ctx, 10)
	require.NoError(t, err)
	job, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusReviewed, job.Status)
	assert.Nil(t, job.Score)
}

func TestAnalyze_SkippedDuringScoringKeepsNoScore(t *testing.T) {
	ctx := context.Background()
	repo := openStore(t, storePath(t))
	pub := &recorder{}
	svc := kanban.NewService(repo, nil, nil)
	an := &scriptedAnalyzer{}
	an.onScore = func(job *model.JobRecord) {
		_, err := svc.Transition(ctx, job.ID, model.StatusSkipped, "not relevant")
		require.NoError(t, err)
	}
	p := newPipeline(t, repo, nil, an, pub)
	ing, err := p.Ingest(ctx, []model.ScrapedJob{scraped("Closed", "X", "https://example.com/jobs/11", longDesc)})
	require.NoError(t, err)

	rep, err := p.Analyze(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Scored)

	job, err := repo.Get(ctx, ing.IDs[0])
	require.NoError(t, err)
	assert.Equal(t, model.StatusSkipped, job.Status)
	assert.Nil(t, job.Score)
	assert.Nil(t, job.AnalyzedAt)
	assert.Zero(t, pub.count(kanban.EventJobAnalyzed))
	hist, err := repo.History(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, model.StatusSkipped, hist[0].To)
}

func TestAnalyze_CooperativeCancellation(t *testing.T) {
	repo := openStore(t, storePath(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	an := &scriptedAnalyzer{}
	an.onScore = func(*model.JobRecord) { cancel() }
	p := newPipeline(t, repo, nil, an, nil)

	var batch []model.ScrapedJob
	for i := range 4 {
		batch = append(batch, scraped(fmt.Sprintf("Job %d", i), "X", fmt.Sprintf("https://example.com/jobs/%d", i), longDesc))
	}
	_, err := p.Ingest(context.Background(), batch)
	require.NoError(t, err)

	rep, err := p.Analyze(ctx, 10)
	require.NoError(t, err)
	assert.True(t, rep.Cancelled)
	assert.Equal(t, 1, rep.Scored, "the job in flight when cancelled is kept")
	assert.Equal(t, 1, an.calls)

	scored, err := repo.QueryByScore(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, scored, 1)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

type boardSource []model.ScrapedJob

func (b boardSource) Search(context.Context, string, string) ([]model.ScrapedJob, error) {
	return b, nil
}

func TestRun(t *testing.T) {
	ctx := context.Background()
	repo := openStore(t, storePath(t))
	p := pipeline.New(pipeline.Config{
		Repo:     repo,
		Fetcher:  stubFetcher{"https://example.com/jobs/1": {text: fullAd}},
		Analyzer: &scriptedAnalyzer{},
		Profile:  scoring.DefaultProfile(),
		Scraper: scraper.NewWorker(boardSource{
			scraped("Python Developer", "Acme", "https://example.com/jobs/1?utm_source=x", ""),
			scraped("Unpaid internship", "Acme", "https://example.com/jobs/2", ""),
		}, nil),
		Search: model.SearchConfig{
			ID: "default", JobTitles: []string{"python"}, Locations: []string{"amsterdam"}, RedFlags: []string{"unpaid"},
		},
	})

	rep, err := p.Run(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, rep.RunID)
	assert.Equal(t, 1, rep.Scrape.Filtered)
	assert.Equal(t, 1, rep.Ingest.Inserted)
	assert.Equal(t, 1, rep.Enrich.Complete)
	assert.Equal(t, 1, rep.Analyze.Scored)

	again, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, again.Ingest.Duplicates)
	assert.Zero(t, again.Analyze.Total)
}

type blockingFetcher struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingFetcher) Fetch(ctx context.Context, _ string) (string, error) {
	close(b.started)
	<-b.release
	return "", nil
}

func TestRun_SingleFlight(t *testing.T) {
	ctx := context.Background()
	repo := openStore(t, storePath(t))
	f := &blockingFetcher{started: make(chan struct{}), release: make(chan struct{})}
	p := pipeline.New(pipeline.Config{Repo: repo, Fetcher: f, Analyzer: &scriptedAnalyzer{}, Profile: scoring.DefaultProfile()})
	_, err := p.Ingest(ctx, []model.ScrapedJob{scraped("A", "X", "https://example.com/jobs/1", "")})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := p.Run(ctx)
		done <- err
	}()
	<-f.started

	_, err = p.Run(ctx)
	assert.ErrorIs(t, err, pipeline.ErrRunInProgress)

	close(f.release)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("first run did not finish")
	}
}
