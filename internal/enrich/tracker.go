// Package enrich fetches full job descriptions and grades what came back.
package enrich

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"jobmate/pipeline-service/internal/model"
	"jobmate/pipeline-service/internal/repository"
)

// DefaultQualityFloor is the quality below which a job stays eligible for
// another fetch.
const DefaultQualityFloor = 50

var (
	sectionKeywords = []string{"requirements", "responsibilities", "qualifications", "about"}
	reNumberedList  = regexp.MustCompile(`\d+\..*\n.*\d+\.`)
)

// QualityScore grades fetched text from 0 to 100 so a real job ad can be
// told apart from a login wall or stub page.
func QualityScore(text string) int {
	score := 0

	switch n := utf8.RuneCountInString(text); {
	case n > 2000:
		score += 30
	case n > 1000:
		score += 20
	case n > 500:
		score += 10
	}

	lower := strings.ToLower(text)
	for _, kw := range sectionKeywords {
		if strings.Contains(lower, kw) {
			score += 10
		}
	}

	if strings.Count(text, "\n") > 5 {
		score += 10
	}
	if strings.Count(text, "•") > 2 || strings.Count(text, "-") > 5 {
		score += 10
	}
	if reNumberedList.MatchString(text) {
		score += 10
	}

	return min(score, 100)
}

// Tracker decides which jobs need a description fetched and turns fetch
// outcomes into repository updates.
type Tracker struct {
	Floor int
}

// NewTracker returns a Tracker. A non-positive floor uses
// DefaultQualityFloor.
func NewTracker(floor int) Tracker {
	if floor <= 0 {
		floor = DefaultQualityFloor
	}
	return Tracker{Floor: floor}
}

// NeedsEnrichment reports whether j lacks a usable description or holds one
// graded below the floor, and still has fetch rounds left.
func (t Tracker) NeedsEnrichment(j *model.JobRecord) bool {
	if j.Status.IsTerminal() || j.EnrichAttempts >= model.MaxEnrichAttempts {
		return false
	}
	if !j.HasUsableDescription() {
		return true
	}
	return j.EnrichmentQuality != nil && *j.EnrichmentQuality < t.Floor
}

// Outcome summarises one recorded enrichment attempt.
type Outcome struct {
	Quality int
	// Complete is false when the job stays eligible for a later fetch.
	Complete bool
}

// Record builds the update for one fetch of j. Fetched text replaces the
// description only when it is long enough to score and grades at least as
// high as the stored text, so a login wall never overwrites a real ad. In
// every other case the existing description is kept and the attempt,
// grade and reason are recorded. enriched_at is always stamped so the job
// does not hold up the pipeline.
func (t Tracker) Record(j *model.JobRecord, text string, fetchErr error, now time.Time) (repository.Update, Outcome) {
	attempts := j.EnrichAttempts + 1
	u := repository.Update{
		EnrichAttempts: &attempts,
		EnrichedAt:     &now,
		UpdatedAt:      now,
	}

	text = strings.TrimSpace(text)
	description := j.Description
	stored := QualityScore(description)
	if j.EnrichmentQuality != nil {
		stored = *j.EnrichmentQuality
	}

	lastErr := ""
	switch fetched := QualityScore(text); {
	case fetchErr != nil:
		lastErr = "enrichment: " + fetchErr.Error()
	case text == "":
		lastErr = "enrichment: empty description"
	case !model.UsableDescription(text):
		lastErr = fmt.Sprintf("enrichment: fetched text too short (%d chars)", utf8.RuneCountInString(text))
	case model.UsableDescription(description) && fetched < stored:
		lastErr = fmt.Sprintf("enrichment: fetched text graded %d, below stored %d", fetched, stored)
	default:
		description = text
		u.Description = &description
	}
	u.LastError = &lastErr

	quality := QualityScore(description)
	u.EnrichmentQuality = &quality

	return u, Outcome{
		Quality:  quality,
		Complete: model.UsableDescription(description) && quality >= t.Floor,
	}
}
