package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"jobmate/pipeline-service/internal/db"
	"jobmate/pipeline-service/internal/model"
)

// pgQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres is the Repository for shared deployments.
type Postgres struct {
	pool *pgxpool.Pool
	q    pgQuerier
	tx   bool
}

// OpenPostgres migrates the schema and opens a pool on databaseURL.
func OpenPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	if err := db.RunMigrations(databaseURL); err != nil {
		return nil, err
	}
	pool, err := db.NewPostgresPool(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	return NewPostgres(pool), nil
}

// NewPostgres wraps an existing pool. The caller keeps ownership of pool
// unless it calls Close.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool, q: pool}
}

func (p *Postgres) Close() error {
	if !p.tx {
		p.pool.Close()
	}
	return nil
}

func (p *Postgres) InTx(ctx context.Context, fn func(tx Repository) error) error {
	if p.tx {
		return fn(p)
	}
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(&Postgres{pool: p.pool, q: tx, tx: true}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ─── Jobs ────────────────────────────────────────────────────────────────────

func (p *Postgres) Insert(ctx context.Context, j *model.JobRecord) (int64, error) {
	var id int64
	err := p.q.QueryRow(ctx, rebind(qInsertJob),
		j.SourceURL, j.ContentHash, j.Title, j.Company,
		lowerKey(j.Title), lowerKey(j.Company),
		j.Location, j.Description, string(j.Source), string(j.Status),
		j.ScrapedAt.UTC(), j.UpdatedAt.UTC(), j.Notes,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, model.ErrDuplicate
	}
	if err != nil {
		return 0, fmt.Errorf("insert job: %w", err)
	}
	return id, nil
}

func (p *Postgres) Update(ctx context.Context, id int64, u Update) error {
	query, args, err := updateQuery(id, u, postgresBind)
	if err != nil {
		return err
	}
	tag, err := p.q.Exec(ctx, rebind(query), args...)
	if err != nil {
		return fmt.Errorf("update job %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (p *Postgres) FindByURL(ctx context.Context, url string) (*model.JobRecord, error) {
	return p.one(ctx, qFindByURL, url)
}

func (p *Postgres) FindByHash(ctx context.Context, hash string) (*model.JobRecord, error) {
	return p.one(ctx, qFindByHash, hash)
}

func (p *Postgres) FindByTitleCompany(ctx context.Context, title, company string) (*model.JobRecord, error) {
	return p.one(ctx, qFindByTitleCompany, lowerKey(title), lowerKey(company))
}

func (p *Postgres) Get(ctx context.Context, id int64) (*model.JobRecord, error) {
	return p.one(ctx, qGet, id)
}

func (p *Postgres) FindRecent(ctx context.Context, since time.Time) ([]model.JobRecord, error) {
	return p.many(ctx, qFindRecent, since.UTC())
}

func (p *Postgres) All(ctx context.Context) ([]model.JobRecord, error) {
	return p.many(ctx, qAll)
}

func (p *Postgres) QueryByStatus(ctx context.Context, status model.Status) ([]model.JobRecord, error) {
	return p.many(ctx, qByStatus, string(status))
}

func (p *Postgres) QueryByScore(ctx context.Context, minScore int) ([]model.JobRecord, error) {
	return p.many(ctx, qByScore, minScore)
}

func (p *Postgres) Search(ctx context.Context, q string) ([]model.JobRecord, error) {
	return p.many(ctx, qSearch, searchArgs(q)...)
}

func (p *Postgres) NeedingEnrichment(ctx context.Context, limit, qualityFloor int) ([]model.JobRecord, error) {
	return p.many(ctx, qNeedingEnrichment, model.MinDescriptionLength, qualityFloor, model.MaxEnrichAttempts, limit)
}

func (p *Postgres) NeedingAnalysis(ctx context.Context, limit int) ([]model.JobRecord, error) {
	return p.many(ctx, qNeedingAnalysis, model.MinDescriptionLength, limit)
}

func (p *Postgres) one(ctx context.Context, query string, args ...any) (*model.JobRecord, error) {
	j, err := scanPostgresJob(p.q.QueryRow(ctx, rebind(query), args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return j, nil
}

func (p *Postgres) many(ctx context.Context, query string, args ...any) ([]model.JobRecord, error) {
	rows, err := p.q.Query(ctx, rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var out []model.JobRecord
	for rows.Next() {
		j, err := scanPostgresJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

// ─── History ─────────────────────────────────────────────────────────────────

func (p *Postgres) AppendHistory(ctx context.Context, ev model.HistoryEvent) (model.HistoryEvent, error) {
	if !p.tx {
		var stored model.HistoryEvent
		err := p.InTx(ctx, func(tx Repository) error {
			var err error
			stored, err = tx.AppendHistory(ctx, ev)
			return err
		})
		return stored, err
	}

	// Row lock serialises concurrent appends for the same job.
	var locked int64
	if err := p.q.QueryRow(ctx, `SELECT id FROM jobs WHERE id = $1 FOR UPDATE`, ev.JobID).Scan(&locked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ev, model.ErrNotFound
		}
		return ev, fmt.Errorf("history job lookup: %w", err)
	}

	var (
		lastSeq int64
		lastAt  time.Time
	)
	err := p.q.QueryRow(ctx, rebind(qLastHistory), ev.JobID).Scan(&lastSeq, &lastAt)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return ev, fmt.Errorf("history sequence: %w", err)
	}

	ev.Sequence = lastSeq + 1
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	ev.Timestamp = ev.Timestamp.UTC()
	if !lastAt.IsZero() && ev.Timestamp.Before(lastAt) {
		ev.Timestamp = lastAt.UTC()
	}

	_, err = p.q.Exec(ctx, rebind(qAddHistory), ev.JobID, ev.Sequence, ev.Action,
		string(ev.From), string(ev.To), ev.Details, ev.Timestamp)
	if err != nil {
		return ev, fmt.Errorf("append history: %w", err)
	}
	return ev, nil
}

func (p *Postgres) History(ctx context.Context, id int64) ([]model.HistoryEvent, error) {
	rows, err := p.q.Query(ctx, rebind(qHistory), id)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []model.HistoryEvent
	for rows.Next() {
		var (
			ev       model.HistoryEvent
			from, to string
		)
		if err := rows.Scan(&ev.JobID, &ev.Sequence, &ev.Action, &from, &to, &ev.Details, &ev.Timestamp); err != nil {
			return nil, err
		}
		ev.From, ev.To = model.Status(from), model.Status(to)
		ev.Timestamp = ev.Timestamp.UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}

// ─── Interviews ──────────────────────────────────────────────────────────────

func (p *Postgres) InsertInterview(ctx context.Context, iv model.Interview) error {
	id, err := uuid.Parse(iv.ID)
	if err != nil {
		return fmt.Errorf("interview id %q: %w", iv.ID, err)
	}
	_, err = p.q.Exec(ctx, rebind(qInsertInterview), iv.JobID, id, iv.Type,
		iv.ScheduledAt.UTC(), iv.Interviewer, int(iv.Duration/time.Minute), iv.Completed, iv.Notes)
	if err != nil {
		return fmt.Errorf("insert interview: %w", err)
	}
	return nil
}

func (p *Postgres) CompleteInterview(ctx context.Context, jobID int64, interviewID string) error {
	id, err := uuid.Parse(interviewID)
	if err != nil {
		return model.ErrNotFound
	}
	tag, err := p.q.Exec(ctx, rebind(qCompleteInterview), true, jobID, id)
	if err != nil {
		return fmt.Errorf("complete interview: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (p *Postgres) Interviews(ctx context.Context, jobID int64) ([]model.Interview, error) {
	rows, err := p.q.Query(ctx,
		`SELECT interview_id::text, job_id, interview_type, scheduled_at, interviewer, duration_minutes, completed, notes
		 FROM interviews WHERE job_id = $1 ORDER BY scheduled_at, interview_id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query interviews: %w", err)
	}
	defer rows.Close()

	var out []model.Interview
	for rows.Next() {
		var (
			iv      model.Interview
			minutes int
		)
		if err := rows.Scan(&iv.ID, &iv.JobID, &iv.Type, &iv.ScheduledAt, &iv.Interviewer, &minutes, &iv.Completed, &iv.Notes); err != nil {
			return nil, err
		}
		iv.ScheduledAt = iv.ScheduledAt.UTC()
		iv.Duration = time.Duration(minutes) * time.Minute
		out = append(out, iv)
	}
	return out, rows.Err()
}

// ─── Stats ───────────────────────────────────────────────────────────────────

func (p *Postgres) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := p.q.QueryRow(ctx, rebind(qStats), statsArgs()...).Scan(
		&st.Total, &st.NeedEnrichment, &st.Enriched, &st.Analyzed, &st.NeedAnalysis,
		&st.HighMatches, &st.MediumMatches, &st.LowMatches)
	if err != nil {
		return st, fmt.Errorf("stats: %w", err)
	}

	var (
		responses int
		avgScore  float64
	)
	if err := p.q.QueryRow(ctx, qApplicationStats).Scan(&st.TotalApplications, &responses, &st.TotalInterviews, &avgScore); err != nil {
		return st, fmt.Errorf("application stats: %w", err)
	}
	st.deriveRates(responses, avgScore)

	rows, err := p.q.Query(ctx, qStatusCounts)
	if err != nil {
		return st, fmt.Errorf("status counts: %w", err)
	}
	defer rows.Close()
	st.ByStatus = make(map[model.Status]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return st, err
		}
		st.ByStatus[model.Status(status)] = n
	}
	return st, rows.Err()
}

// ─── Scanning ────────────────────────────────────────────────────────────────

func scanPostgresJob(row rowScanner) (*model.JobRecord, error) {
	var (
		j                                      model.JobRecord
		source, status                         string
		breakdown, skills, strengths, concerns []byte
	)
	err := row.Scan(
		&j.ID, &j.SourceURL, &j.ContentHash, &j.Title, &j.Company, &j.Location, &j.Description, &source,
		&j.Score, &breakdown, &skills, &strengths, &concerns, &j.FitAssessment, &j.Recommendation,
		&j.EnrichmentQuality, &j.EnrichAttempts, &status, &j.ScrapedAt, &j.EnrichedAt, &j.AnalyzedAt, &j.AppliedAt,
		&j.ResolvedAt, &j.LastFollowupAt, &j.FollowupCount, &j.UpdatedAt, &j.Notes, &j.CoverLetter, &j.LastError,
	)
	if err != nil {
		return nil, err
	}
	j.Source = model.Source(source)
	j.Status = model.Status(status)
	if err := decodeJSONFields(&j, breakdown, skills, strengths, concerns); err != nil {
		return nil, fmt.Errorf("decode job %d: %w", j.ID, err)
	}
	j.ScrapedAt = j.ScrapedAt.UTC()
	j.UpdatedAt = j.UpdatedAt.UTC()
	return &j, nil
}

func postgresBind(v any) (any, error) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC(), nil
	case jsonValue:
		return marshalJSON(x.v)
	}
	return v, nil
}
