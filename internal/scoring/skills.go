package scoring

import (
	"slices"
	"strings"
)

// skillAliases folds spelling variants onto one canonical skill name.
var skillAliases = map[string]string{
	"nodejs":     "node",
	"node.js":    "node",
	"golang":     "go",
	"k8s":        "kubernetes",
	"postgresql": "postgres",
	"js":         "javascript",
	"ts":         "typescript",
	"rest api":   "rest",
	"cicd":       "ci/cd",
	"ci cd":      "ci/cd",
}

// CanonicalSkill lowercases s and folds known aliases, so "Golang" and
// "go" compare equal.
func CanonicalSkill(s string) string {
	s = strings.Join(strings.Fields(strings.ToLower(s)), " ")
	if c, ok := skillAliases[s]; ok {
		return c
	}
	return s
}

// canonicalSkills maps skills through CanonicalSkill, dropping blanks and
// repeats while keeping first-seen order.
func canonicalSkills(skills []string) []string {
	var out []string
	for _, s := range skills {
		c := CanonicalSkill(s)
		if c != "" && !slices.Contains(out, c) {
			out = append(out, c)
		}
	}
	return out
}
