package domain

import (
	"strings"
)

// OpeningStyle is the rhetorical opening of a post.
type OpeningStyle string

const (
	OpeningQuestion   OpeningStyle = "question"
	OpeningTip        OpeningStyle = "tip"
	OpeningScenario   OpeningStyle = "scenario"
	OpeningCondition  OpeningStyle = "condition"
	OpeningMistakeFix OpeningStyle = "mistake_fix"
	OpeningChecklist  OpeningStyle = "checklist"
	OpeningMythFact   OpeningStyle = "myth_vs_fact"
)

// OpeningStyles lists every valid style in prompt order.
var OpeningStyles = []OpeningStyle{
	OpeningQuestion,
	OpeningTip,
	OpeningScenario,
	OpeningCondition,
	OpeningMistakeFix,
	OpeningChecklist,
	OpeningMythFact,
}

// ParseOpeningStyle accepts any casing and surrounding whitespace.
func ParseOpeningStyle(s string) (OpeningStyle, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, style := range OpeningStyles {
		if string(style) == s {
			return style, true
		}
	}
	return "", false
}

// UnknownCategory marks records the model did not assign a category to.
const UnknownCategory = "unknown"

// MaxPostLength is the accepted post length in characters.
const MaxPostLength = 240

// Candidate is one generated, not yet accepted post.
type Candidate struct {
	Text         string       `json:"text"`
	Category     string       `json:"category"`
	OpeningStyle OpeningStyle `json:"opening_style"`
	Language     string       `json:"language"`
	Tags         []string     `json:"tags"`
}

// CategoryKey returns the normalized category used for lookups and counting.
func (c *Candidate) CategoryKey() string {
	return CategoryKey(c.Category)
}

// HasCategory reports whether the candidate carries a usable category.
func (c *Candidate) HasCategory() bool {
	key := c.CategoryKey()
	return key != "" && key != UnknownCategory
}

// HasTag is case-insensitive.
func (c *Candidate) HasTag(tag string) bool {
	tag = strings.ToLower(strings.TrimSpace(tag))
	for _, t := range c.Tags {
		if strings.ToLower(strings.TrimSpace(t)) == tag {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (c Candidate) Clone() Candidate {
	if c.Tags != nil {
		c.Tags = append([]string(nil), c.Tags...)
	}
	return c
}

// CategoryKey lower-cases and trims a category name.
func CategoryKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
