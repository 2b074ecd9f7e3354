// Package analysis scores jobs against the candidate profile, either with
// an LLM or with the deterministic scoring engine.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"jobmate/pipeline-service/internal/model"
	"jobmate/pipeline-service/internal/scoring"
)

var (
	// ErrInsufficientDescription is returned for jobs whose description is
	// too short to score. No score is produced.
	ErrInsufficientDescription = errors.New("description too short to analyze")

	// ErrNoRequirements is returned by the engine when the description
	// yields no requirement signal at all.
	ErrNoRequirements = errors.New("no requirements could be extracted")
)

// Method names the analyzer that produced a Result.
const (
	MethodEngine = "engine"
	MethodLLM    = "llm"
)

// Result is a scored analysis of one job.
type Result struct {
	Score          int
	Breakdown      map[string]int
	MatchedSkills  []string
	Strengths      []string
	Concerns       []string
	FitAssessment  string
	Recommendation string
	Method         string
}

// Analyzer scores a job for a profile. Every implementation refuses jobs
// without a usable description.
type Analyzer interface {
	Score(ctx context.Context, job *model.JobRecord, profile scoring.Profile) (Result, error)
}

func checkDescription(job *model.JobRecord) error {
	if !job.HasUsableDescription() {
		return ErrInsufficientDescription
	}
	return nil
}

// ─── Deterministic engine ────────────────────────────────────────────────────

// EngineAnalyzer scores with the keyword extractor and scoring engine.
type EngineAnalyzer struct{}

func (EngineAnalyzer) Score(_ context.Context, job *model.JobRecord, profile scoring.Profile) (Result, error) {
	if err := checkDescription(job); err != nil {
		return Result{}, err
	}

	req := scoring.Extract(job)
	if len(req.Skills) == 0 && req.ExperienceYears == nil && len(req.Languages) == 0 && req.Education == scoring.DegreeNone {
		return Result{}, ErrNoRequirements
	}

	res := scoring.Score(req, profile, profile.Weights)
	return Result{
		Score:          res.Total,
		Breakdown:      res.Breakdown,
		MatchedSkills:  res.MatchedSkills,
		Strengths:      engineStrengths(res),
		Concerns:       engineConcerns(req, profile, res),
		FitAssessment:  engineFit(res),
		Recommendation: scoring.Recommendation(res.Total),
		Method:         MethodEngine,
	}, nil
}

func engineStrengths(res scoring.Result) []string {
	var out []string
	if len(res.MatchedSkills) > 0 {
		out = append(out, "Matches required skills: "+strings.Join(res.MatchedSkills, ", "))
	}
	if res.Breakdown[scoring.SubExperience] >= 65 {
		out = append(out, "Experience requirement fits an early-career profile")
	}
	if res.Breakdown[scoring.SubLocation] == 100 {
		out = append(out, "Located in a preferred area")
	}
	return out
}

func engineConcerns(req scoring.Requirements, profile scoring.Profile, res scoring.Result) []string {
	var out []string
	if missing := len(req.Skills) - len(res.MatchedSkills); missing > 0 {
		out = append(out, fmt.Sprintf("%d of %d required skills not in profile", missing, len(req.Skills)))
	}
	if req.ExperienceYears != nil && res.Breakdown[scoring.SubExperience] < 50 {
		out = append(out, fmt.Sprintf("Asks for %d+ years of experience", *req.ExperienceYears))
	}
	for _, l := range req.Languages {
		if profile.Languages[l.Language] < l.Level {
			out = append(out, "Requires "+l.Language)
		}
	}
	if res.Breakdown[scoring.SubEducation] < 100 {
		out = append(out, "Asks for a "+req.Education.String()+" degree")
	}
	if req.Visa == scoring.VisaExcluded && res.Breakdown[scoring.SubVisa] == 0 {
		out = append(out, "States no visa sponsorship")
	}
	return out
}

func engineFit(res scoring.Result) string {
	return fmt.Sprintf("Keyword match %d/100 (skills %d, experience %d, education %d, language %d).",
		res.Total,
		res.Breakdown[scoring.SubSkills],
		res.Breakdown[scoring.SubExperience],
		res.Breakdown[scoring.SubEducation],
		res.Breakdown[scoring.SubLanguage])
}

// ─── Fallback ────────────────────────────────────────────────────────────────

// FallbackAnalyzer tries Primary and degrades to Secondary when it fails.
// The description gate is never retried.
type FallbackAnalyzer struct {
	Primary   Analyzer
	Secondary Analyzer
	Logger    *slog.Logger
}

// WithEngineFallback wraps primary so it degrades to the deterministic
// engine.
func WithEngineFallback(primary Analyzer, logger *slog.Logger) *FallbackAnalyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackAnalyzer{Primary: primary, Secondary: EngineAnalyzer{}, Logger: logger}
}

func (f *FallbackAnalyzer) Score(ctx context.Context, job *model.JobRecord, profile scoring.Profile) (Result, error) {
	res, err := f.Primary.Score(ctx, job, profile)
	if err == nil || errors.Is(err, ErrInsufficientDescription) || ctx.Err() != nil {
		return res, err
	}
	f.Logger.Warn("primary analyzer failed, using fallback", "job_id", job.ID, "err", err)

	res, fbErr := f.Secondary.Score(ctx, job, profile)
	if fbErr != nil {
		return Result{}, fmt.Errorf("%w (fallback: %v)", err, fbErr)
	}
	return res, nil
}
