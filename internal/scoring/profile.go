package scoring

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Proficiency is how well the candidate speaks a language, on the same
// 0-100 scale a job's requirement is expressed in.
type Proficiency int

const (
	ProficiencyNone           Proficiency = 0
	ProficiencyBasic          Proficiency = 30
	ProficiencyConversational Proficiency = 60
	ProficiencyFluent         Proficiency = 100
)

var proficiencyNames = map[string]Proficiency{
	"none":           ProficiencyNone,
	"basic":          ProficiencyBasic,
	"conversational": ProficiencyConversational,
	"fluent":         ProficiencyFluent,
	"native":         ProficiencyFluent,
}

func (p *Proficiency) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	v, ok := proficiencyNames[strings.ToLower(strings.TrimSpace(raw))]
	if !ok {
		return fmt.Errorf("unknown proficiency %q", raw)
	}
	*p = v
	return nil
}

// Degree is an education tier. Higher values are higher tiers.
type Degree int

const (
	DegreeNone Degree = iota
	DegreeBachelor
	DegreeMaster
	DegreePhD
)

var degreeNames = map[string]Degree{
	"none":     DegreeNone,
	"bachelor": DegreeBachelor,
	"master":   DegreeMaster,
	"phd":      DegreePhD,
}

func (d Degree) String() string {
	for name, v := range degreeNames {
		if v == d {
			return name
		}
	}
	return "unknown"
}

func (d *Degree) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	v, ok := degreeNames[strings.ToLower(strings.TrimSpace(raw))]
	if !ok {
		return fmt.Errorf("unknown degree %q", raw)
	}
	*d = v
	return nil
}

// Weights of the sub-scores. They must sum to 1.0.
type Weights struct {
	Skills     float64 `yaml:"skills"`
	Experience float64 `yaml:"experience"`
	Education  float64 `yaml:"education"`
	Language   float64 `yaml:"language"`
	Location   float64 `yaml:"location"`
	Visa       float64 `yaml:"visa"`
}

// DefaultWeights leave location and visa unweighted.
func DefaultWeights() Weights {
	return Weights{Skills: 0.35, Experience: 0.30, Education: 0.20, Language: 0.15}
}

const weightTolerance = 0.001

// Validate rejects negative weights and weights that do not sum to 1.0.
func (w Weights) Validate() error {
	all := map[string]float64{
		"skills": w.Skills, "experience": w.Experience, "education": w.Education,
		"language": w.Language, "location": w.Location, "visa": w.Visa,
	}
	sum := 0.0
	for name, v := range all {
		if v < 0 {
			return fmt.Errorf("weight %s is negative (%v)", name, v)
		}
		sum += v
	}
	if math.Abs(sum-1) > weightTolerance {
		return fmt.Errorf("weights sum to %.3f, want 1.0", sum)
	}
	return nil
}

// ExperienceStep scores jobs asking for at most MaxYears of experience.
type ExperienceStep struct {
	MaxYears int `yaml:"max_years"`
	Score    int `yaml:"score"`
}

// ExperiencePolicy maps required years onto a score. Steps are checked in
// order; years beyond the last step score Beyond.
type ExperiencePolicy struct {
	Steps   []ExperienceStep `yaml:"steps"`
	Beyond  int              `yaml:"beyond"`
	Unknown int              `yaml:"unknown"`
}

// DefaultExperiencePolicy favours early-career postings.
func DefaultExperiencePolicy() ExperiencePolicy {
	return ExperiencePolicy{
		Steps: []ExperienceStep{
			{MaxYears: 1, Score: 85},
			{MaxYears: 2, Score: 65},
			{MaxYears: 3, Score: 45},
		},
		Beyond:  25,
		Unknown: 70,
	}
}

// Score looks up the score for years; nil means the job stated none.
func (p ExperiencePolicy) Score(years *int) int {
	if years == nil {
		return p.Unknown
	}
	for _, s := range p.Steps {
		if *years <= s.MaxYears {
			return s.Score
		}
	}
	return p.Beyond
}

func (p ExperiencePolicy) validate() error {
	prev := math.MinInt
	for _, s := range p.Steps {
		if s.MaxYears <= prev {
			return errors.New("experience steps must have increasing max_years")
		}
		prev = s.MaxYears
	}
	return nil
}

// Profile is the candidate the jobs are scored against.
type Profile struct {
	Name               string                 `yaml:"name"`
	Skills             []string               `yaml:"skills"`
	Education          Degree                 `yaml:"education"`
	Languages          map[string]Proficiency `yaml:"languages"`
	PreferredLocations []string               `yaml:"preferred_locations"`
	AcceptRemote       bool                   `yaml:"accept_remote"`
	NeedsSponsorship   bool                   `yaml:"needs_sponsorship"`
	Experience         ExperiencePolicy       `yaml:"experience"`
	Weights            Weights                `yaml:"weights"`
}

// DefaultProfile is used when no profile file is configured.
func DefaultProfile() Profile {
	return Profile{
		Name: "default",
		Skills: []string{
			"python", "java", "javascript", "react", "sql", "docker",
			"git", "machine learning", "ai", "ml", "pytorch", "c++",
		},
		Education: DegreeMaster,
		Languages: map[string]Proficiency{
			"english": ProficiencyFluent,
			"dutch":   ProficiencyBasic,
		},
		PreferredLocations: []string{
			"amsterdam", "rotterdam", "the hague", "utrecht",
			"eindhoven", "enschede", "netherlands",
		},
		AcceptRemote:     true,
		NeedsSponsorship: true,
		Experience:       DefaultExperiencePolicy(),
		Weights:          DefaultWeights(),
	}
}

// Validate checks the weights and experience policy.
func (p Profile) Validate() error {
	if err := p.Weights.Validate(); err != nil {
		return err
	}
	return p.Experience.validate()
}

// ParseProfile decodes YAML over the default profile, so a file only
// needs the fields it changes.
func ParseProfile(data []byte) (Profile, error) {
	var top map[string]any
	if err := yaml.Unmarshal(data, &top); err != nil {
		return Profile{}, fmt.Errorf("parse profile: %w", err)
	}

	p := DefaultProfile()
	// maps and weight sets are replaced wholesale, not merged
	if _, ok := top["weights"]; ok {
		p.Weights = Weights{}
	}
	if _, ok := top["languages"]; ok {
		p.Languages = nil
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("parse profile: %w", err)
	}
	for i, s := range p.Skills {
		p.Skills[i] = strings.ToLower(strings.TrimSpace(s))
	}
	langs := make(map[string]Proficiency, len(p.Languages))
	for name, level := range p.Languages {
		langs[strings.ToLower(strings.TrimSpace(name))] = level
	}
	p.Languages = langs
	if err := p.Validate(); err != nil {
		return Profile{}, fmt.Errorf("invalid profile: %w", err)
	}
	return p, nil
}

// LoadProfile reads the profile at path. An empty path yields
// DefaultProfile.
func LoadProfile(path string) (Profile, error) {
	if path == "" {
		return DefaultProfile(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("read profile: %w", err)
	}
	return ParseProfile(data)
}
