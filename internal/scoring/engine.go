// Package scoring computes a deterministic, explainable match score for a
// job from its extracted requirements and the candidate profile. It does
// no I/O.
package scoring

import (
	"math"
	"slices"
	"strings"
)

// Sub-score names used in breakdowns.
const (
	SubSkills     = "skills"
	SubExperience = "experience"
	SubEducation  = "education"
	SubLanguage   = "language"
	SubLocation   = "location"
	SubVisa       = "visa"
)

const (
	neutralSkills   = 60
	educationStep   = 40
	neutralLocation = 40
	remoteLocation  = 80
	neutralVisa     = 50
)

// Result is the explained outcome of Score.
type Result struct {
	Total         int
	Breakdown     map[string]int
	MatchedSkills []string
}

// Score combines the weighted sub-scores into a total in [0, 100]. It is a
// pure function of its arguments.
func Score(req Requirements, p Profile, w Weights) Result {
	skills, matched := skillScore(req.Skills, p.Skills)
	subs := map[string]float64{
		SubSkills:     skills,
		SubExperience: float64(p.Experience.Score(req.ExperienceYears)),
		SubEducation:  educationScore(req.Education, p.Education),
		SubLanguage:   languageScore(req.Languages, p.Languages),
		SubLocation:   locationScore(req, p),
		SubVisa:       visaScore(req.Visa, p.NeedsSponsorship),
	}

	total := subs[SubSkills]*w.Skills +
		subs[SubExperience]*w.Experience +
		subs[SubEducation]*w.Education +
		subs[SubLanguage]*w.Language +
		subs[SubLocation]*w.Location +
		subs[SubVisa]*w.Visa

	breakdown := make(map[string]int, len(subs))
	for name, v := range subs {
		breakdown[name] = clamp(int(math.Round(v)))
	}
	return Result{
		Total:         clamp(int(math.Round(total))),
		Breakdown:     breakdown,
		MatchedSkills: matched,
	}
}

// Engine scores against a fixed profile.
type Engine struct {
	Profile Profile
}

// NewEngine returns an Engine for p.
func NewEngine(p Profile) *Engine {
	return &Engine{Profile: p}
}

// Score applies the profile's weights.
func (e *Engine) Score(req Requirements) Result {
	return Score(req, e.Profile, e.Profile.Weights)
}

// skillScore is the share of required skills the profile has. Both sides
// are compared by canonical name.
func skillScore(required, have []string) (float64, []string) {
	required = canonicalSkills(required)
	if len(required) == 0 {
		return neutralSkills, nil
	}
	have = canonicalSkills(have)
	var matched []string
	for _, s := range required {
		if slices.Contains(have, s) {
			matched = append(matched, s)
		}
	}
	return float64(len(matched)) / float64(len(required)) * 100, matched
}

func educationScore(required, have Degree) float64 {
	gap := int(required) - int(have)
	if gap <= 0 {
		return 100
	}
	return float64(max(100-educationStep*gap, 0))
}

// languageScore takes the weakest of the required languages, scaled by how
// close the candidate's proficiency is to the required level.
func languageScore(required []LanguageRequirement, have map[string]Proficiency) float64 {
	score := 100.0
	for _, r := range required {
		if r.Level <= 0 {
			continue
		}
		s := 100 * float64(have[r.Language]) / float64(r.Level)
		score = math.Min(score, math.Min(s, 100))
	}
	return score
}

func locationScore(req Requirements, p Profile) float64 {
	if len(p.PreferredLocations) == 0 {
		return 100
	}
	for _, loc := range p.PreferredLocations {
		if loc != "" && strings.Contains(req.Location, strings.ToLower(loc)) {
			return 100
		}
	}
	if req.Remote && p.AcceptRemote {
		return remoteLocation
	}
	return neutralLocation
}

func visaScore(signal VisaSignal, needsSponsorship bool) float64 {
	if !needsSponsorship {
		return 100
	}
	switch signal {
	case VisaOffered:
		return 100
	case VisaExcluded:
		return 0
	}
	return neutralVisa
}

func clamp(v int) int {
	return min(max(v, 0), 100)
}

// Recommendation buckets a total score into an action.
func Recommendation(score int) string {
	switch {
	case score >= 75:
		return "APPLY TODAY"
	case score >= 60:
		return "Apply this week"
	case score >= 45:
		return "Consider"
	}
	return "Skip"
}
