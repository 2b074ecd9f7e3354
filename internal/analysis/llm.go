package analysis

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"gopkg.in/yaml.v3"

	"jobmate/pipeline-service/internal/model"
	"jobmate/pipeline-service/internal/scoring"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-3-5-sonnet-20241022"

const (
	promptDescriptionLimit = 2000
	promptProfileLimit     = 3000
	maxResponseTokens      = 2000
)

// ErrUnparseable is returned when the model's reply has no score.
var ErrUnparseable = errors.New("llm response has no SCORE line")

// NewAnthropicModel builds the Anthropic chat model.
func NewAnthropicModel(apiKey, modelName string) (llms.Model, error) {
	if modelName == "" {
		modelName = DefaultModel
	}
	m, err := anthropic.New(anthropic.WithToken(apiKey), anthropic.WithModel(modelName))
	if err != nil {
		return nil, fmt.Errorf("anthropic.New: %w", err)
	}
	return m, nil
}

// LLMAnalyzer asks a language model to assess the job.
type LLMAnalyzer struct {
	Model llms.Model
}

func (a *LLMAnalyzer) Score(ctx context.Context, job *model.JobRecord, profile scoring.Profile) (Result, error) {
	if err := checkDescription(job); err != nil {
		return Result{}, err
	}

	reply, err := llms.GenerateFromSinglePrompt(ctx, a.Model, analysisPrompt(job, profile),
		llms.WithMaxTokens(maxResponseTokens),
		llms.WithTemperature(0.2),
	)
	if err != nil {
		return Result{}, fmt.Errorf("llm call: %w", err)
	}
	return ParseReply(reply)
}

const promptTemplate = `You are an expert career advisor analyzing a job opportunity for the candidate below.

JOB DETAILS:
Title: %s
Company: %s
Location: %s
Description:
%s

CANDIDATE PROFILE:
%s

TASK:
1. MATCH SCORE (0-100): how well the role fits the profile. Consider skills match, experience level, location and visa status.
2. KEY STRENGTHS (3-5 points): what makes the candidate a strong fit.
3. POTENTIAL CONCERNS (2-3 points): what might be challenging or mismatched.
4. FIT ASSESSMENT: 1-2 sentences on the overall fit.
5. APPLICATION STRATEGY: whether to apply and what to emphasize.

FORMAT YOUR RESPONSE EXACTLY AS:
SCORE: [number 0-100]
STRENGTHS:
- [strength]
CONCERNS:
- [concern]
FIT: [assessment]
RECOMMENDATION: [advice]
`

func analysisPrompt(job *model.JobRecord, profile scoring.Profile) string {
	prof, err := yaml.Marshal(profileView(profile))
	if err != nil {
		prof = []byte(strings.Join(profile.Skills, ", "))
	}
	return fmt.Sprintf(promptTemplate,
		orNA(job.Title), orNA(job.Company), orNA(job.Location),
		truncate(job.Description, promptDescriptionLimit),
		truncate(string(prof), promptProfileLimit),
	)
}

// profileView is the part of the profile the model needs to see.
func profileView(p scoring.Profile) map[string]any {
	langs := make(map[string]int, len(p.Languages))
	for name, level := range p.Languages {
		langs[name] = int(level)
	}
	return map[string]any{
		"name":                p.Name,
		"skills":              p.Skills,
		"education":           p.Education.String(),
		"languages_0_to_100":  langs,
		"preferred_locations": p.PreferredLocations,
		"accepts_remote":      p.AcceptRemote,
		"needs_sponsorship":   p.NeedsSponsorship,
	}
}

var (
	reScore    = regexp.MustCompile(`(?i)SCORE:\s*(\d+)`)
	reSections = regexp.MustCompile(`(?m)^\s*(STRENGTHS|CONCERNS|FIT|RECOMMENDATION):`)
)

// ParseReply reads the SCORE/STRENGTHS/CONCERNS/FIT/RECOMMENDATION layout.
func ParseReply(reply string) (Result, error) {
	m := reScore.FindStringSubmatch(reply)
	if m == nil {
		return Result{}, ErrUnparseable
	}
	score, err := strconv.Atoi(m[1])
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}

	res := Result{Score: min(max(score, 0), 100), Method: MethodLLM}

	sections := map[string]string{}
	idx := reSections.FindAllStringSubmatchIndex(reply, -1)
	for i, loc := range idx {
		name := reply[loc[2]:loc[3]]
		end := len(reply)
		if i+1 < len(idx) {
			end = idx[i+1][0]
		}
		sections[name] = strings.TrimSpace(reply[loc[1]:end])
	}

	res.Strengths = bullets(sections["STRENGTHS"])
	res.Concerns = bullets(sections["CONCERNS"])
	res.FitAssessment = sections["FIT"]
	res.Recommendation = sections["RECOMMENDATION"]
	if res.Recommendation == "" {
		res.Recommendation = scoring.Recommendation(res.Score)
	}
	return res, nil
}

func bullets(section string) []string {
	var out []string
	for _, line := range strings.Split(section, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "•") {
			continue
		}
		item := strings.TrimSpace(strings.TrimLeft(line, "-• "))
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}
