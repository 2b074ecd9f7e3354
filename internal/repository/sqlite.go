package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"jobmate/pipeline-service/internal/db"
	"jobmate/pipeline-service/internal/model"
)

// sqliteTime is fixed width so TEXT comparison orders like time.
const sqliteTime = "2006-01-02T15:04:05.000000000Z"

type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLite is the default Repository, backed by one database file.
type SQLite struct {
	conn *sql.DB
	q    sqlQuerier
	tx   bool
}

// OpenSQLite opens (and if needed creates) the store at path.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	conn, err := db.OpenSQLite(ctx, path)
	if err != nil {
		return nil, err
	}
	return &SQLite{conn: conn, q: conn}, nil
}

func (s *SQLite) Close() error {
	if s.tx {
		return nil
	}
	return s.conn.Close()
}

func (s *SQLite) InTx(ctx context.Context, fn func(tx Repository) error) error {
	if s.tx {
		return fn(s)
	}
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(&SQLite{conn: s.conn, q: tx, tx: true}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ─── Jobs ────────────────────────────────────────────────────────────────────

func (s *SQLite) Insert(ctx context.Context, j *model.JobRecord) (int64, error) {
	var id int64
	err := s.q.QueryRowContext(ctx, qInsertJob,
		j.SourceURL, j.ContentHash, j.Title, j.Company,
		lowerKey(j.Title), lowerKey(j.Company),
		j.Location, j.Description, string(j.Source), string(j.Status),
		fmtTime(j.ScrapedAt), fmtTime(j.UpdatedAt), j.Notes,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, model.ErrDuplicate
	}
	if err != nil {
		return 0, fmt.Errorf("insert job: %w", err)
	}
	return id, nil
}

func (s *SQLite) Update(ctx context.Context, id int64, u Update) error {
	query, args, err := updateQuery(id, u, sqliteBind)
	if err != nil {
		return err
	}
	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (s *SQLite) FindByURL(ctx context.Context, url string) (*model.JobRecord, error) {
	return s.one(ctx, qFindByURL, url)
}

func (s *SQLite) FindByHash(ctx context.Context, hash string) (*model.JobRecord, error) {
	return s.one(ctx, qFindByHash, hash)
}

func (s *SQLite) FindByTitleCompany(ctx context.Context, title, company string) (*model.JobRecord, error) {
	return s.one(ctx, qFindByTitleCompany, lowerKey(title), lowerKey(company))
}

func (s *SQLite) Get(ctx context.Context, id int64) (*model.JobRecord, error) {
	return s.one(ctx, qGet, id)
}

func (s *SQLite) FindRecent(ctx context.Context, since time.Time) ([]model.JobRecord, error) {
	return s.many(ctx, qFindRecent, fmtTime(since))
}

func (s *SQLite) All(ctx context.Context) ([]model.JobRecord, error) {
	return s.many(ctx, qAll)
}

func (s *SQLite) QueryByStatus(ctx context.Context, status model.Status) ([]model.JobRecord, error) {
	return s.many(ctx, qByStatus, string(status))
}

func (s *SQLite) QueryByScore(ctx context.Context, minScore int) ([]model.JobRecord, error) {
	return s.many(ctx, qByScore, minScore)
}

func (s *SQLite) Search(ctx context.Context, q string) ([]model.JobRecord, error) {
	return s.many(ctx, qSearch, searchArgs(q)...)
}

func (s *SQLite) NeedingEnrichment(ctx context.Context, limit, qualityFloor int) ([]model.JobRecord, error) {
	return s.many(ctx, qNeedingEnrichment, model.MinDescriptionLength, qualityFloor, model.MaxEnrichAttempts, limit)
}

func (s *SQLite) NeedingAnalysis(ctx context.Context, limit int) ([]model.JobRecord, error) {
	return s.many(ctx, qNeedingAnalysis, model.MinDescriptionLength, limit)
}

func (s *SQLite) one(ctx context.Context, query string, args ...any) (*model.JobRecord, error) {
	j, err := scanSQLiteJob(s.q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return j, nil
}

func (s *SQLite) many(ctx context.Context, query string, args ...any) ([]model.JobRecord, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var out []model.JobRecord
	for rows.Next() {
		j, err := scanSQLiteJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

// ─── History ─────────────────────────────────────────────────────────────────

func (s *SQLite) AppendHistory(ctx context.Context, ev model.HistoryEvent) (model.HistoryEvent, error) {
	if !s.tx {
		var stored model.HistoryEvent
		err := s.InTx(ctx, func(tx Repository) error {
			var err error
			stored, err = tx.AppendHistory(ctx, ev)
			return err
		})
		return stored, err
	}

	var one int
	if err := s.q.QueryRowContext(ctx, qJobExists, ev.JobID).Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ev, model.ErrNotFound
		}
		return ev, fmt.Errorf("history job lookup: %w", err)
	}

	var (
		lastSeq int64
		lastAt  string
	)
	err := s.q.QueryRowContext(ctx, qLastHistory, ev.JobID).Scan(&lastSeq, &lastAt)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return ev, fmt.Errorf("history sequence: %w", err)
	}

	ev.Sequence = lastSeq + 1
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	ev.Timestamp = ev.Timestamp.UTC()
	if lastAt != "" {
		if prev, err := parseTime(lastAt); err == nil && ev.Timestamp.Before(prev) {
			ev.Timestamp = prev
		}
	}

	_, err = s.q.ExecContext(ctx, qAddHistory, ev.JobID, ev.Sequence, ev.Action,
		string(ev.From), string(ev.To), ev.Details, fmtTime(ev.Timestamp))
	if err != nil {
		return ev, fmt.Errorf("append history: %w", err)
	}
	return ev, nil
}

func (s *SQLite) History(ctx context.Context, id int64) ([]model.HistoryEvent, error) {
	rows, err := s.q.QueryContext(ctx, qHistory, id)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []model.HistoryEvent
	for rows.Next() {
		var (
			ev       model.HistoryEvent
			from, to string
			at       string
		)
		if err := rows.Scan(&ev.JobID, &ev.Sequence, &ev.Action, &from, &to, &ev.Details, &at); err != nil {
			return nil, err
		}
		ev.From, ev.To = model.Status(from), model.Status(to)
		if ev.Timestamp, err = parseTime(at); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// ─── Interviews ──────────────────────────────────────────────────────────────

func (s *SQLite) InsertInterview(ctx context.Context, iv model.Interview) error {
	_, err := s.q.ExecContext(ctx, qInsertInterview, iv.JobID, iv.ID, iv.Type,
		fmtTime(iv.ScheduledAt), iv.Interviewer, int(iv.Duration/time.Minute), iv.Completed, iv.Notes)
	if err != nil {
		return fmt.Errorf("insert interview: %w", err)
	}
	return nil
}

func (s *SQLite) CompleteInterview(ctx context.Context, jobID int64, interviewID string) error {
	res, err := s.q.ExecContext(ctx, qCompleteInterview, true, jobID, interviewID)
	if err != nil {
		return fmt.Errorf("complete interview: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (s *SQLite) Interviews(ctx context.Context, jobID int64) ([]model.Interview, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT interview_id, job_id, interview_type, scheduled_at, interviewer, duration_minutes, completed, notes
		 FROM interviews WHERE job_id = ? ORDER BY scheduled_at, interview_id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query interviews: %w", err)
	}
	defer rows.Close()

	var out []model.Interview
	for rows.Next() {
		var (
			iv      model.Interview
			at      string
			minutes int
		)
		if err := rows.Scan(&iv.ID, &iv.JobID, &iv.Type, &at, &iv.Interviewer, &minutes, &iv.Completed, &iv.Notes); err != nil {
			return nil, err
		}
		if iv.ScheduledAt, err = parseTime(at); err != nil {
			return nil, err
		}
		iv.Duration = time.Duration(minutes) * time.Minute
		out = append(out, iv)
	}
	return out, rows.Err()
}

// ─── Stats ───────────────────────────────────────────────────────────────────

func (s *SQLite) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.q.QueryRowContext(ctx, qStats, statsArgs()...).Scan(
		&st.Total, &st.NeedEnrichment, &st.Enriched, &st.Analyzed, &st.NeedAnalysis,
		&st.HighMatches, &st.MediumMatches, &st.LowMatches)
	if err != nil {
		return st, fmt.Errorf("stats: %w", err)
	}

	var (
		responses int
		avgScore  float64
	)
	if err := s.q.QueryRowContext(ctx, qApplicationStats).Scan(&st.TotalApplications, &responses, &st.TotalInterviews, &avgScore); err != nil {
		return st, fmt.Errorf("application stats: %w", err)
	}
	st.deriveRates(responses, avgScore)

	rows, err := s.q.QueryContext(ctx, qStatusCounts)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteJob(row rowScanner) (*model.JobRecord, error) {
	var (
		j                                      model.JobRecord
		source, status                         string
		score, quality                         sql.NullInt64
		breakdown, skills, strengths, concerns string
		scrapedAt, updatedAt                   string
		enrichedAt, analyzedAt, appliedAt      sql.NullString
		resolvedAt, followupAt, coverLetter    sql.NullString
	)
	err := row.Scan(
		&j.ID, &j.SourceURL, &j.ContentHash, &j.Title, &j.Company, &j.Location, &j.Description, &source,
		&score, &breakdown, &skills, &strengths, &concerns, &j.FitAssessment, &j.Recommendation,
		&quality, &j.EnrichAttempts, &status, &scrapedAt, &enrichedAt, &analyzedAt, &appliedAt,
		&resolvedAt, &followupAt, &j.FollowupCount, &updatedAt, &j.Notes, &coverLetter, &j.LastError,
	)
	if err != nil {
		return nil, err
	}

	j.Source = model.Source(source)
	j.Status = model.Status(status)
	if score.Valid {
		v := int(score.Int64)
		j.Score = &v
	}
	if quality.Valid {
		v := int(quality.Int64)
		j.EnrichmentQuality = &v
	}
	if coverLetter.Valid {
		v := coverLetter.String
		j.CoverLetter = &v
	}
	if err := decodeJSONFields(&j, []byte(breakdown), []byte(skills), []byte(strengths), []byte(concerns)); err != nil {
		return nil, fmt.Errorf("decode job %d: %w", j.ID, err)
	}

	if j.ScrapedAt, err = parseTime(scrapedAt); err != nil {
		return nil, err
	}
	if j.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	for _, f := range []struct {
		raw sql.NullString
		dst **time.Time
	}{
		{enrichedAt, &j.EnrichedAt},
		{analyzedAt, &j.AnalyzedAt},
		{appliedAt, &j.AppliedAt},
		{resolvedAt, &j.ResolvedAt},
		{followupAt, &j.LastFollowupAt},
	} {
		if !f.raw.Valid {
			continue
		}
		t, err := parseTime(f.raw.String)
		if err != nil {
			return nil, err
		}
		*f.dst = &t
	}
	return &j, nil
}

func sqliteBind(v any) (any, error) {
	switch x := v.(type) {
	case time.Time:
		return fmtTime(x), nil
	case jsonValue:
		b, err := marshalJSON(x.v)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}
	return v, nil
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(sqliteTime)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t.UTC(), nil
}
