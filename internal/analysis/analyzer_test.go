package analysis_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"jobmate/pipeline-service/internal/analysis"
	"jobmate/pipeline-service/internal/model"
	"jobmate/pipeline-service/internal/scoring"
)

// fakeModel answers every prompt with a canned reply and records the last
// prompt it saw.
type fakeModel struct {
	reply  string
	err    error
	prompt string
	calls  int
}

func (f *fakeModel) GenerateContent(_ context.Context, msgs []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	f.calls++
	for _, m := range msgs {
		for _, p := range m.Parts {
			if t, ok := p.(llms.TextContent); ok {
				f.prompt += t.Text
			}
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.reply}}}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, opts ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, opts...)
}

const sampleReply = `SCORE: 82
STRENGTHS:
- Strong Python background
- Docker experience matches
CONCERNS:
- Dutch is preferred
FIT: Good technical fit for a junior backend role.
RECOMMENDATION: Apply this week and highlight the thesis project.`

func scorableJob() *model.JobRecord {
	return &model.JobRecord{
		ID:       7,
		Title:    "Backend Engineer",
		Company:  "Acme",
		Location: "Amsterdam",
		Description: "We are looking for a Python engineer with Docker skills and 1 year of experience " +
			"to build data pipelines for our logistics platform in Amsterdam.",
	}
}

func TestParseReply(t *testing.T) {
	res, err := analysis.ParseReply(sampleReply)
	require.NoError(t, err)

	assert.Equal(t, 82, res.Score)
	assert.Equal(t, []string{"Strong Python background", "Docker experience matches"}, res.Strengths)
	assert.Equal(t, []string{"Dutch is preferred"}, res.Concerns)
	assert.Equal(t, "Good technical fit for a junior backend role.", res.FitAssessment)
	assert.Equal(t, "Apply this week and highlight the thesis project.", res.Recommendation)
	assert.Equal(t, analysis.MethodLLM, res.Method)
}

func TestParseReply_ClampsAndDefaults(t *testing.T) {
	res, err := analysis.ParseReply("score: 140\nFIT: fine")
	require.NoError(t, err)
	assert.Equal(t, 100, res.Score)
	assert.Empty(t, res.Strengths)
	assert.Equal(t, "APPLY TODAY", res.Recommendation)

	_, err = analysis.ParseReply("I cannot rate this job.")
	assert.ErrorIs(t, err, analysis.ErrUnparseable)
}

func TestLLMAnalyzer(t *testing.T) {
	m := &fakeModel{reply: sampleReply}
	a := &analysis.LLMAnalyzer{Model: m}

	res, err := a.Score(context.Background(), scorableJob(), scoring.DefaultProfile())
	require.NoError(t, err)
	assert.Equal(t, 82, res.Score)
	assert.Contains(t, m.prompt, "Title: Backend Engineer")
	assert.Contains(t, m.prompt, "Company: Acme")
	assert.Contains(t, m.prompt, "needs_sponsorship: true")
}

func TestLLMAnalyzer_TruncatesDescription(t *testing.T) {
	m := &fakeModel{reply: sampleReply}
	job := scorableJob()
	job.Description = strings.Repeat("a", 1990) + strings.Repeat("Z", 500)

	_, err := (&analysis.LLMAnalyzer{Model: m}).Score(context.Background(), job, scoring.DefaultProfile())
	require.NoError(t, err)
	assert.Equal(t, 10, strings.Count(m.prompt, "Z"))
}

func TestAnalyzers_RejectShortDescription(t *testing.T) {
	job := scorableJob()
	job.Description = "too short"
	m := &fakeModel{reply: sampleReply}

	for name, a := range map[string]analysis.Analyzer{
		"engine":   analysis.EngineAnalyzer{},
		"llm":      &analysis.LLMAnalyzer{Model: m},
		"fallback": analysis.WithEngineFallback(&analysis.LLMAnalyzer{Model: m}, nil),
	} {
		_, err := a.Score(context.Background(), job, scoring.DefaultProfile())
		assert.ErrorIs(t, err, analysis.ErrInsufficientDescription, name)
	}
	assert.Zero(t, m.calls, "no model call for a short description")
}

func TestEngineAnalyzer(t *testing.T) {
	res, err := analysis.EngineAnalyzer{}.Score(context.Background(), scorableJob(), scoring.DefaultProfile())
	require.NoError(t, err)

	assert.Equal(t, analysis.MethodEngine, res.Method)
	assert.ElementsMatch(t, []string{"python", "docker"}, res.MatchedSkills)
	assert.Equal(t, 100, res.Breakdown[scoring.SubSkills])
	assert.Equal(t, 85, res.Breakdown[scoring.SubExperience])
	assert.Equal(t, scoring.Recommendation(res.Score), res.Recommendation)
	assert.NotEmpty(t, res.Strengths)
	assert.Contains(t, res.FitAssessment, "Keyword match")
}

func TestEngineAnalyzer_NoSignals(t *testing.T) {
	job := scorableJob()
	job.Description = strings.Repeat("We value curiosity, kindness and a sense of humour in everyone we hire. ", 3)

	_, err := analysis.EngineAnalyzer{}.Score(context.Background(), job, scoring.DefaultProfile())
	assert.ErrorIs(t, err, analysis.ErrNoRequirements)
}

func TestEngineAnalyzer_Concerns(t *testing.T) {
	job := scorableJob()
	job.Description = "Senior Rust developer with 5+ years of experience, a PhD and fluent Dutch. " +
		"Strictly no sponsorship is available for this position in our Rotterdam office."

	res, err := analysis.EngineAnalyzer{}.Score(context.Background(), job, scoring.DefaultProfile())
	require.NoError(t, err)
	assert.Contains(t, res.Concerns, "Asks for 5+ years of experience")
	assert.Contains(t, res.Concerns, "Requires dutch")
	assert.Contains(t, res.Concerns, "Asks for a phd degree")
	assert.Contains(t, res.Concerns, "States no visa sponsorship")
}

func TestFallbackAnalyzer(t *testing.T) {
	failing := &fakeModel{err: errors.New("rate limited")}
	a := analysis.WithEngineFallback(&analysis.LLMAnalyzer{Model: failing}, nil)

	res, err := a.Score(context.Background(), scorableJob(), scoring.DefaultProfile())
	require.NoError(t, err)
	assert.Equal(t, analysis.MethodEngine, res.Method)
	assert.Equal(t, 1, failing.calls)

	ok := &fakeModel{reply: sampleReply}
	res, err = analysis.WithEngineFallback(&analysis.LLMAnalyzer{Model: ok}, nil).
		Score(context.Background(), scorableJob(), scoring.DefaultProfile())
	require.NoError(t, err)
	assert.Equal(t, analysis.MethodLLM, res.Method)
}

func TestFallbackAnalyzer_BothFail(t *testing.T) {
	job := scorableJob()
	job.Description = strings.Repeat("We value curiosity, kindness and a sense of humour in everyone we hire. ", 3)
	a := analysis.WithEngineFallback(&analysis.LLMAnalyzer{Model: &fakeModel{err: errors.New("down")}}, nil)

	_, err := a.Score(context.Background(), job, scoring.DefaultProfile())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "down")
	assert.Contains(t, err.Error(), "fallback")
}

func TestFallbackAnalyzer_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := analysis.WithEngineFallback(&analysis.LLMAnalyzer{Model: &fakeModel{err: context.Canceled}}, nil)

	_, err := a.Score(ctx, scorableJob(), scoring.DefaultProfile())
	assert.ErrorIs(t, err, context.Canceled)
}
