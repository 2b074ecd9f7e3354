package scoring_test

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobmate/pipeline-service/internal/model"
	"jobmate/pipeline-service/internal/scoring"
)

func years(n int) *int { return &n }

func profileWith(skills ...string) scoring.Profile {
	p := scoring.DefaultProfile()
	p.Skills = skills
	return p
}

func TestScore_Scenario(t *testing.T) {
	req := scoring.Requirements{Skills: []string{"python", "docker"}, ExperienceYears: years(1)}
	p := profileWith("python", "java")

	got := scoring.Score(req, p, scoring.DefaultWeights())

	assert.Equal(t, 50, got.Breakdown[scoring.SubSkills])
	assert.Equal(t, 85, got.Breakdown[scoring.SubExperience])
	assert.Equal(t, 100, got.Breakdown[scoring.SubEducation])
	assert.Equal(t, 100, got.Breakdown[scoring.SubLanguage])
	// 50·0.35 + 85·0.30 + 100·0.20 + 100·0.15
	assert.Equal(t, 78, got.Total)
	assert.Equal(t, []string{"python"}, got.MatchedSkills)
}

func TestScore_SkillsCompareByCanonicalName(t *testing.T) {
	w := scoring.DefaultWeights()

	got := scoring.Score(scoring.Requirements{Skills: []string{"python", "docker"}}, profileWith("Python", "Java"), w)
	assert.Equal(t, 50, got.Breakdown[scoring.SubSkills])
	assert.Equal(t, []string{"python"}, got.MatchedSkills)

	cases := []struct{ required, have string }{
		{"golang", "Go"},
		{"k8s", "kubernetes"},
		{"postgresql", "Postgres"},
		{"Node.js", "nodejs"},
	}
	for _, c := range cases {
		got := scoring.Score(scoring.Requirements{Skills: []string{c.required}}, profileWith(c.have), w)
		assert.Equal(t, 100, got.Breakdown[scoring.SubSkills], "%s vs %s", c.required, c.have)
	}

	got = scoring.Score(scoring.Requirements{Skills: []string{"node", "nodejs", "rust"}}, profileWith("node"), w)
	assert.Equal(t, 50, got.Breakdown[scoring.SubSkills], "aliases count once")
}

func TestExtract_FoldsSkillAliases(t *testing.T) {
	req := scoring.ExtractText("Backend role: Golang services on K8s with PostgreSQL, plus some Go tooling.")
	assert.ElementsMatch(t, []string{"go", "kubernetes", "postgres"}, req.Skills)
	assert.Equal(t, "node", scoring.CanonicalSkill("  NodeJS "))
	assert.Equal(t, "rest", scoring.CanonicalSkill("REST  API"))
}

func TestScore_NeutralDefaults(t *testing.T) {
	got := scoring.Score(scoring.Requirements{}, profileWith("go"), scoring.DefaultWeights())
	assert.Equal(t, 60, got.Breakdown[scoring.SubSkills], "no extracted skills is not a penalty")
	assert.Equal(t, 70, got.Breakdown[scoring.SubExperience])
	// 60·0.35 + 70·0.30 + 100·0.20 + 100·0.15 = 77
	assert.Equal(t, 77, got.Total)
}

func TestExperiencePolicy_StepTable(t *testing.T) {
	policy := scoring.DefaultExperiencePolicy()
	cases := map[int]int{0: 85, 1: 85, 2: 65, 3: 45, 4: 25, 10: 25}
	for y, want := range cases {
		assert.Equal(t, want, policy.Score(years(y)), "years=%d", y)
	}
	assert.Equal(t, 70, policy.Score(nil))
}

func TestScore_LanguageProportionalToProficiency(t *testing.T) {
	p := scoring.DefaultProfile() // dutch: basic
	w := scoring.DefaultWeights()

	fluent := scoring.Score(scoring.Requirements{Languages: []scoring.LanguageRequirement{
		{Language: "dutch", Level: scoring.LevelFluent},
	}}, p, w)
	assert.Equal(t, 30, fluent.Breakdown[scoring.SubLanguage])

	mentioned := scoring.Score(scoring.Requirements{Languages: []scoring.LanguageRequirement{
		{Language: "dutch", Level: scoring.LevelMentioned},
	}}, p, w)
	assert.Equal(t, 50, mentioned.Breakdown[scoring.SubLanguage])

	p.Languages["dutch"] = scoring.ProficiencyFluent
	native := scoring.Score(scoring.Requirements{Languages: []scoring.LanguageRequirement{
		{Language: "dutch", Level: scoring.LevelFluent},
	}}, p, w)
	assert.Equal(t, 100, native.Breakdown[scoring.SubLanguage])
}

func TestScore_EducationGap(t *testing.T) {
	p := scoring.DefaultProfile()
	p.Education = scoring.DegreeBachelor
	w := scoring.DefaultWeights()

	assert.Equal(t, 100, scoring.Score(scoring.Requirements{Education: scoring.DegreeBachelor}, p, w).Breakdown[scoring.SubEducation])
	assert.Equal(t, 60, scoring.Score(scoring.Requirements{Education: scoring.DegreeMaster}, p, w).Breakdown[scoring.SubEducation])
	assert.Equal(t, 20, scoring.Score(scoring.Requirements{Education: scoring.DegreePhD}, p, w).Breakdown[scoring.SubEducation])
}

func TestScore_LocationAndVisa(t *testing.T) {
	p := scoring.DefaultProfile()
	w := scoring.Weights{Location: 0.5, Visa: 0.5}

	local := scoring.Score(scoring.Requirements{Location: "amsterdam, noord-holland", Visa: scoring.VisaOffered}, p, w)
	assert.Equal(t, 100, local.Breakdown[scoring.SubLocation])
	assert.Equal(t, 100, local.Breakdown[scoring.SubVisa])
	assert.Equal(t, 100, local.Total)

	remote := scoring.Score(scoring.Requirements{Location: "berlin", Remote: true, Visa: scoring.VisaExcluded}, p, w)
	assert.Equal(t, 80, remote.Breakdown[scoring.SubLocation])
	assert.Equal(t, 0, remote.Breakdown[scoring.SubVisa])
	assert.Equal(t, 40, remote.Total)

	elsewhere := scoring.Score(scoring.Requirements{Location: "berlin"}, p, w)
	assert.Equal(t, 40, elsewhere.Breakdown[scoring.SubLocation])
	assert.Equal(t, 50, elsewhere.Breakdown[scoring.SubVisa])

	p.NeedsSponsorship = false
	assert.Equal(t, 100, scoring.Score(scoring.Requirements{Visa: scoring.VisaExcluded}, p, w).Breakdown[scoring.SubVisa])
}

func TestExtract(t *testing.T) {
	desc := "About the role: we are a good team looking for a Python and Docker engineer. " +
		"You have 3+ years of experience, a Master degree and fluent Dutch. " +
		"Work permit support and relocation available. Hybrid working from Utrecht."
	req := scoring.Extract(&model.JobRecord{Title: "Backend Engineer", Location: "Utrecht", Description: desc})

	assert.ElementsMatch(t, []string{"python", "docker"}, req.Skills, "go must not match good")
	require.NotNil(t, req.ExperienceYears)
	assert.Equal(t, 3, *req.ExperienceYears)
	assert.Equal(t, []scoring.LanguageRequirement{{Language: "dutch", Level: scoring.LevelFluent}}, req.Languages)
	assert.Equal(t, scoring.DegreeMaster, req.Education)
	assert.True(t, req.Remote)
	assert.Equal(t, scoring.VisaOffered, req.Visa)
	assert.Equal(t, "utrecht", req.Location)
}

func TestExtract_DutchPatternsAndShortText(t *testing.T) {
	req := scoring.ExtractText("Wij zoeken iemand met minimaal 2 jaar ervaring in Java en SQL, hbo werk- en denkniveau, Nederlands.")
	require.NotNil(t, req.ExperienceYears)
	assert.Equal(t, 2, *req.ExperienceYears)
	assert.ElementsMatch(t, []string{"java", "sql"}, req.Skills)
	assert.Equal(t, scoring.DegreeBachelor, req.Education)
	assert.Equal(t, []scoring.LanguageRequirement{{Language: "dutch", Level: scoring.LevelMentioned}}, req.Languages)

	empty := scoring.Extract(&model.JobRecord{Description: "Python developer wanted"})
	assert.Empty(t, empty.Skills)
	assert.Nil(t, empty.ExperienceYears)
}

func TestRecommendation(t *testing.T) {
	assert.Equal(t, "APPLY TODAY", scoring.Recommendation(75))
	assert.Equal(t, "Apply this week", scoring.Recommendation(60))
	assert.Equal(t, "Consider", scoring.Recommendation(45))
	assert.Equal(t, "Skip", scoring.Recommendation(44))
}

func TestWeightsValidate(t *testing.T) {
	require.NoError(t, scoring.DefaultWeights().Validate())
	assert.Error(t, scoring.Weights{Skills: 0.5, Experience: 0.4}.Validate())
	assert.Error(t, scoring.Weights{Skills: 1.2, Experience: -0.2}.Validate())
}

func TestLoadProfile(t *testing.T) {
	def, err := scoring.LoadProfile("")
	require.NoError(t, err)
	assert.Equal(t, scoring.DefaultProfile().Weights, def.Weights)

	path := filepath.Join(t.TempDir(), "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: Sam
skills: [Go, SQL, Kubernetes]
education: bachelor
languages:
  English: native
  dutch: conversational
experience:
  steps:
    - {max_years: 2, score: 90}
    - {max_years: 5, score: 60}
  beyond: 30
  unknown: 70
weights:
  skills: 0.5
  experience: 0.3
  education: 0.1
  language: 0.1
`), 0o600))

	p, err := scoring.LoadProfile(path)
	require.NoError(t, err)
	assert.Equal(t, "Sam", p.Name)
	assert.Equal(t, []string{"go", "sql", "kubernetes"}, p.Skills)
	assert.Equal(t, scoring.DegreeBachelor, p.Education)
	assert.Equal(t, map[string]scoring.Proficiency{
		"english": scoring.ProficiencyFluent,
		"dutch":   scoring.ProficiencyConversational,
	}, p.Languages)
	assert.Equal(t, 0.5, p.Weights.Skills)
	assert.Zero(t, p.Weights.Location)
	assert.Equal(t, 90, p.Experience.Score(years(2)))
	assert.Equal(t, 30, p.Experience.Score(years(6)))
	assert.True(t, p.NeedsSponsorship, "unset fields keep their defaults")

	_, err = scoring.ParseProfile([]byte("weights: {skills: 0.9}"))
	assert.ErrorContains(t, err, "weights sum")
	_, err = scoring.ParseProfile([]byte("education: diploma"))
	assert.Error(t, err)
}

func TestScore_Deterministic(t *testing.T) {
	p := scoring.DefaultProfile()
	w := scoring.DefaultWeights()
	properties := gopter.NewProperties(nil)

	properties.Property("identical inputs give identical results", prop.ForAll(
		func(skillIdx []int, exp int, fluent bool) bool {
			req := scoring.Requirements{ExperienceYears: &exp}
			for _, i := range skillIdx {
				req.Skills = append(req.Skills, scoring.SkillVocabulary[i%len(scoring.SkillVocabulary)])
			}
			if fluent {
				req.Languages = []scoring.LanguageRequirement{{Language: "dutch", Level: scoring.LevelFluent}}
			}
			a := scoring.Score(req, p, w)
			b := scoring.Score(req, p, w)
			return reflect.DeepEqual(a, b) && a.Total >= 0 && a.Total <= 100
		},
		gen.SliceOf(gen.IntRange(0, 100)),
		gen.IntRange(0, 15),
		gen.Bool(),
	))

	properties.Property("an unmatched requirement never raises the skills sub-score", prop.ForAll(
		func(extra int) bool {
			base := scoring.Requirements{Skills: []string{"python", "rust"}}
			more := scoring.Requirements{Skills: []string{"python", "rust", strings.Repeat("x", extra%3+1)}}
			return scoring.Score(base, p, w).Breakdown[scoring.SubSkills] >=
				scoring.Score(more, p, w).Breakdown[scoring.SubSkills]
		},
		gen.IntRange(0, 10),
	))

	properties.TestingRun(t)
}
