package repository

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"jobmate/pipeline-service/internal/model"
)

// Queries are written with ? placeholders; the Postgres engine rebinds
// them to $n.

const jobColumns = `id, source_url, content_hash, title, company, location, description, source,
	score, score_breakdown, matched_skills, strengths, concerns, fit_assessment, recommendation,
	enrichment_quality, enrich_attempts, status, scraped_at, enriched_at, analyzed_at, applied_at,
	resolved_at, last_followup_at, followup_count, updated_at, notes, cover_letter, last_error`

const (
	qInsertJob = `INSERT INTO jobs (source_url, content_hash, title, company, title_key, company_key,
		location, description, source, status, scraped_at, updated_at, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
		RETURNING id`

	qFindByURL          = `SELECT ` + jobColumns + ` FROM jobs WHERE source_url = ?`
	qFindByHash         = `SELECT ` + jobColumns + ` FROM jobs WHERE content_hash = ?`
	qFindByTitleCompany = `SELECT ` + jobColumns + ` FROM jobs WHERE title_key = ? AND company_key = ? ORDER BY id LIMIT 1`
	qFindRecent         = `SELECT ` + jobColumns + ` FROM jobs WHERE scraped_at >= ? ORDER BY id`
	qGet                = `SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`
	qAll                = `SELECT ` + jobColumns + ` FROM jobs ORDER BY id`
	qByStatus           = `SELECT ` + jobColumns + ` FROM jobs WHERE status = ? ORDER BY updated_at DESC, id DESC`
	qByScore            = `SELECT ` + jobColumns + ` FROM jobs WHERE score IS NOT NULL AND score >= ? ORDER BY score DESC, id`
	qSearch             = `SELECT ` + jobColumns + ` FROM jobs
		WHERE LOWER(title) LIKE ? ESCAPE '\' OR LOWER(company) LIKE ? ESCAPE '\' OR LOWER(description) LIKE ? ESCAPE '\'
		ORDER BY scraped_at DESC, id DESC`

	qNeedingEnrichment = `SELECT ` + jobColumns + ` FROM jobs
		WHERE (LENGTH(description) < ? OR (enrichment_quality IS NOT NULL AND enrichment_quality < ?))
		  AND status NOT IN ('offer', 'rejected', 'skipped')
		  AND enrich_attempts < ?
		ORDER BY enrich_attempts, id
		LIMIT ?`

	qNeedingAnalysis = `SELECT ` + jobColumns + ` FROM jobs
		WHERE score IS NULL
		  AND LENGTH(description) >= ?
		  AND status IN ('scraped', 'reviewed')
		ORDER BY id
		LIMIT ?`

	qJobExists   = `SELECT 1 FROM jobs WHERE id = ?`
	qLastHistory = `SELECT sequence, created_at FROM job_history WHERE job_id = ? ORDER BY sequence DESC LIMIT 1`
	qAddHistory  = `INSERT INTO job_history (job_id, sequence, action, from_status, to_status, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	qHistory = `SELECT job_id, sequence, action, from_status, to_status, details, created_at
		FROM job_history WHERE job_id = ? ORDER BY sequence`

	qInsertInterview = `INSERT INTO interviews (job_id, interview_id, interview_type, scheduled_at,
		interviewer, duration_minutes, completed, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	qCompleteInterview = `UPDATE interviews SET completed = ? WHERE job_id = ? AND interview_id = ?`

	qStats = `SELECT COUNT(*),
		COALESCE(SUM(CASE WHEN LENGTH(description) < ? THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN LENGTH(description) >= ? THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN score IS NOT NULL THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN score IS NULL AND LENGTH(description) >= ? THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN score >= 80 THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN score >= 60 AND score < 80 THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN score < 60 THEN 1 ELSE 0 END), 0)
		FROM jobs`
	qStatusCounts     = `SELECT status, COUNT(*) FROM jobs GROUP BY status`
	qApplicationStats = `SELECT
		COALESCE(SUM(CASE WHEN status IN ('applied', 'interview_scheduled', 'interviewed', 'offer') THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN status IN ('interview_scheduled', 'interviewed', 'offer') THEN 1 ELSE 0 END), 0),
		(SELECT COUNT(*) FROM interviews),
		CAST(COALESCE(AVG(score), 0) AS DOUBLE PRECISION)
		FROM jobs`
)

// rebind rewrites ? placeholders to $1, $2, ...
func rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// lowerKey is the case-insensitive key used for title/company matching.
func lowerKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// jsonValue marks an assignment whose value is stored as JSON.
type jsonValue struct{ v any }

type assignment struct {
	column string
	value  any
}

// assignments flattens an Update into column/value pairs. Values are
// string, int, time.Time or jsonValue; each engine binds them.
func (u Update) assignments() []assignment {
	var out []assignment
	add := func(col string, v any) { out = append(out, assignment{col, v}) }

	if u.Status != nil {
		add("status", string(*u.Status))
	}
	if u.Description != nil {
		add("description", *u.Description)
	}
	if u.EnrichmentQuality != nil {
		add("enrichment_quality", *u.EnrichmentQuality)
	}
	if u.EnrichAttempts != nil {
		add("enrich_attempts", *u.EnrichAttempts)
	}
	if u.EnrichedAt != nil {
		add("enriched_at", *u.EnrichedAt)
	}
	if u.Score != nil {
		add("score", *u.Score)
	}
	if u.ScoreBreakdown != nil {
		add("score_breakdown", jsonValue{u.ScoreBreakdown})
	}
	if u.MatchedSkills != nil {
		add("matched_skills", jsonValue{u.MatchedSkills})
	}
	if u.Strengths != nil {
		add("strengths", jsonValue{u.Strengths})
	}
	if u.Concerns != nil {
		add("concerns", jsonValue{u.Concerns})
	}
	if u.FitAssessment != nil {
		add("fit_assessment", *u.FitAssessment)
	}
	if u.Recommendation != nil {
		add("recommendation", *u.Recommendation)
	}
	if u.AnalyzedAt != nil {
		add("analyzed_at", *u.AnalyzedAt)
	}
	if u.AppliedAt != nil {
		add("applied_at", *u.AppliedAt)
	}
	if u.ResolvedAt != nil {
		add("resolved_at", *u.ResolvedAt)
	}
	if u.LastFollowupAt != nil {
		add("last_followup_at", *u.LastFollowupAt)
	}
	if u.FollowupCount != nil {
		add("followup_count", *u.FollowupCount)
	}
	if u.Notes != nil {
		add("notes", *u.Notes)
	}
	if u.CoverLetter != nil {
		add("cover_letter", *u.CoverLetter)
	}
	if u.LastError != nil {
		add("last_error", *u.LastError)
	}

	updated := u.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	add("updated_at", updated.UTC())
	return out
}

// updateQuery builds "UPDATE jobs SET a = ?, b = ? WHERE id = ?" and its
// arguments, binding each value through bind.
func updateQuery(id int64, u Update, bind func(any) (any, error)) (string, []any, error) {
	assigns := u.assignments()
	sets := make([]string, 0, len(assigns))
	args := make([]any, 0, len(assigns)+1)
	for _, a := range assigns {
		v, err := bind(a.value)
		if err != nil {
			return "", nil, err
		}
		sets = append(sets, a.column+" = ?")
		args = append(args, v)
	}
	args = append(args, id)
	return "UPDATE jobs SET " + strings.Join(sets, ", ") + " WHERE id = ?", args, nil
}

func marshalJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}

// decodeJSONFields fills the JSON-backed fields of a scanned record.
func decodeJSONFields(j *model.JobRecord, breakdown, skills, strengths, concerns []byte) error {
	if len(breakdown) > 0 {
		if err := json.Unmarshal(breakdown, &j.ScoreBreakdown); err != nil {
			return err
		}
	}
	for _, f := range []struct {
		raw []byte
		dst *[]string
	}{{skills, &j.MatchedSkills}, {strengths, &j.Strengths}, {concerns, &j.Concerns}} {
		if len(f.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(f.raw, f.dst); err != nil {
			return err
		}
	}
	return nil
}

// searchArgs are the bind arguments of qSearch: a case-insensitive
// substring pattern with LIKE wildcards in q escaped.
func searchArgs(q string) []any {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	pattern := "%" + r.Replace(strings.ToLower(strings.TrimSpace(q))) + "%"
	return []any{pattern, pattern, pattern}
}

// deriveRates derives the rates from the raw application counts.
func (st *Stats) deriveRates(responses int, avgScore float64) {
	st.AverageScore = math.Round(avgScore*10) / 10
	if st.TotalApplications > 0 {
		st.ResponseRate = math.Round(float64(responses)/float64(st.TotalApplications)*1000) / 10
	}
}

// statsArgs are the bind arguments of qStats.
func statsArgs() []any {
	n := model.MinDescriptionLength
	return []any{n, n, n}
}
