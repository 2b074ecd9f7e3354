package scoring

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"jobmate/pipeline-service/internal/model"
)

// SkillVocabulary is the fixed set of technical skills recognised in job
// text.
var SkillVocabulary = []string{
	"python", "java", "javascript", "typescript", "react", "angular", "vue",
	"node", "nodejs", "sql", "docker", "kubernetes", "aws", "azure", "gcp",
	"git", "c#", ".net", "asp.net", "c++", "php", "ruby", "go", "golang", "rust",
	"k8s", "postgres", "postgresql", "machine learning", "ai", "ml", "pytorch", "tensorflow", "deep learning",
}

var experiencePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(\d+)\+?\s*years?\s+(?:of\s+)?experience`),
	regexp.MustCompile(`minimaal\s+(\d+)\s+jaar`),
	regexp.MustCompile(`(\d+)\s+jaar\s+ervaring`),
}

// languageTerms lists, per language, the phrases that demand fluency and
// the words that merely mention it.
var languageTerms = map[string]struct {
	fluent   []string
	mentions []string
}{
	"dutch": {
		fluent:   []string{"fluent dutch", "vloeiend nederlands", "fluency in dutch", "native dutch"},
		mentions: []string{"dutch", "nederlands"},
	},
	"german": {
		fluent:   []string{"fluent german", "fließend deutsch", "fluency in german", "native german"},
		mentions: []string{"german", "deutsch"},
	},
	"french": {
		fluent:   []string{"fluent french", "fluency in french", "native french"},
		mentions: []string{"french", "français"},
	},
}

var degreeTerms = []struct {
	degree Degree
	terms  []string
}{
	{DegreeBachelor, []string{"bachelor", "bsc", "hbo"}},
	{DegreeMaster, []string{"master", "msc", "wo"}},
	{DegreePhD, []string{"phd", "doctorate"}},
}

var (
	remoteTerms       = []string{"remote", "hybrid", "work from home"}
	visaPositiveTerms = []string{"visa sponsorship", "work permit", "relocation", "international candidates", "kennismigrant"}
	visaNegativeTerms = []string{"no sponsorship", "eu only", "must have right to work", "citizens only"}
)

// Level of a language requirement.
const (
	LevelMentioned = Proficiency(60)
	LevelFluent    = ProficiencyFluent
)

// LanguageRequirement is a non-English language a job asks for.
type LanguageRequirement struct {
	Language string
	Level    Proficiency
}

// VisaSignal is what a posting says about sponsorship.
type VisaSignal int

const (
	VisaUnknown VisaSignal = iota
	VisaOffered
	VisaExcluded
)

// Requirements are the structured signals extracted from a posting.
type Requirements struct {
	Skills          []string
	ExperienceYears *int
	Languages       []LanguageRequirement
	Education       Degree
	Location        string
	Remote          bool
	Visa            VisaSignal
}

// Extract pulls requirements out of a job. Descriptions below the minimum
// length yield empty requirements.
func Extract(j *model.JobRecord) Requirements {
	req := Requirements{Location: strings.ToLower(j.Location)}
	if utf8.RuneCountInString(strings.TrimSpace(j.Description)) < model.MinDescriptionLength {
		return req
	}
	return extractText(req, j.Title+" "+j.Company+" "+j.Description, j.Description)
}

// ExtractText pulls requirements out of a bare description.
func ExtractText(description string) Requirements {
	return extractText(Requirements{}, description, description)
}

func extractText(req Requirements, fullText, description string) Requirements {
	desc := strings.ToLower(description)
	full := strings.ToLower(fullText)

	var found []string
	for _, skill := range SkillVocabulary {
		if containsTerm(desc, skill) {
			found = append(found, skill)
		}
	}
	req.Skills = canonicalSkills(found)

	for _, re := range experiencePatterns {
		if m := re.FindStringSubmatch(desc); m != nil {
			if years, err := strconv.Atoi(m[1]); err == nil {
				req.ExperienceYears = &years
				break
			}
		}
	}

	for _, lang := range []string{"dutch", "french", "german"} {
		terms := languageTerms[lang]
		switch {
		case containsAny(desc, terms.fluent):
			req.Languages = append(req.Languages, LanguageRequirement{Language: lang, Level: LevelFluent})
		case containsAny(desc, terms.mentions):
			req.Languages = append(req.Languages, LanguageRequirement{Language: lang, Level: LevelMentioned})
		}
	}

	for _, d := range degreeTerms {
		if containsAny(desc, d.terms) {
			req.Education = d.degree
		}
	}

	req.Remote = containsAny(full, remoteTerms)
	switch {
	case containsAny(full, visaPositiveTerms):
		req.Visa = VisaOffered
	case containsAny(full, visaNegativeTerms):
		req.Visa = VisaExcluded
	}
	return req
}

func containsAny(text string, terms []string) bool {
	for _, t := range terms {
		if containsTerm(text, t) {
			return true
		}
	}
	return false
}

// containsTerm reports whether term occurs in text as a whole word, so
// "go" does not match "good" and "wo" does not match "work".
func containsTerm(text, term string) bool {
	for from := 0; from < len(text); {
		i := strings.Index(text[from:], term)
		if i < 0 {
			return false
		}
		start := from + i
		end := start + len(term)
		if boundaryBefore(text, start) && boundaryAfter(text, end) {
			return true
		}
		from = start + 1
	}
	return false
}

func boundaryBefore(text string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(text[:i])
	return !isWordRune(r)
}

func boundaryAfter(text string, i int) bool {
	if i >= len(text) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(text[i:])
	return !isWordRune(r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
