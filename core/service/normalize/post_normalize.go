// Package normalize fills in missing candidate fields from cheap text
// heuristics. It never drops a record and running it twice changes nothing.
package normalize

import (
	"strings"

	"post_worker/core/domain"
	"post_worker/pkg/textmatch"
)

// Normalizer enriches extracted records using the rule pack's opening-style
// table and bucket keywords.
type Normalizer struct {
	rules    *domain.RuleSet
	language string
}

func New(rules *domain.RuleSet, language string) *Normalizer {
	return &Normalizer{rules: rules, language: strings.TrimSpace(language)}
}

// ClassifyOpening walks the opening rules in order and returns the first
// label whose predicate holds, or the default opening.
func (n *Normalizer) ClassifyOpening(text string) domain.OpeningStyle {
	for _, rule := range n.rules.Openings {
		if matchOpening(rule, text) {
			return rule.Label
		}
	}
	if n.rules.DefaultOpening != "" {
		return n.rules.DefaultOpening
	}
	return domain.OpeningTip
}

func matchOpening(rule domain.OpeningRule, text string) bool {
	switch rule.Match {
	case domain.MatchContains:
		return rule.Needles.Match(text)
	case domain.MatchSentencePrefix:
		for _, s := range textmatch.Sentences(text) {
			if rule.Needles.HasPrefixWord(s) {
				return true
			}
		}
		return false
	case domain.MatchWord:
		return rule.Needles.MatchWord(text)
	}
	return false
}

// Normalize returns enriched copies of records. Records with empty text are
// passed through untouched.
func (n *Normalizer) Normalize(records []domain.Candidate) []domain.Candidate {
	out := make([]domain.Candidate, len(records))
	for i, r := range records {
		out[i] = n.normalizeOne(r.Clone())
	}
	return out
}

func (n *Normalizer) normalizeOne(c domain.Candidate) domain.Candidate {
	c.Text = strings.TrimSpace(c.Text)
	if c.Text == "" {
		return c
	}

	c.Category = strings.TrimSpace(c.Category)
	if c.Category == "" {
		c.Category = domain.UnknownCategory
	}

	// one language per deployment
	c.Language = n.language

	if style, ok := domain.ParseOpeningStyle(string(c.OpeningStyle)); ok {
		c.OpeningStyle = style
	} else {
		c.OpeningStyle = n.ClassifyOpening(c.Text)
	}

	c.Tags = cleanTags(c.Tags)

	if len(n.rules.BucketTags(&c)) == 0 {
		if b, ok := n.rules.InferBucket(c.Text); ok {
			c.Tags = append(c.Tags, b.Name)
		}
	}
	if !hasStyleTag(c.Tags) {
		c.Tags = append(c.Tags, string(c.OpeningStyle))
	}
	return c
}

// cleanTags trims, drops blanks and removes case-insensitive duplicates,
// keeping first occurrence order.
func cleanTags(tags []string) []string {
	out := make([]string, 0, len(tags)+2)
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		key := strings.ToLower(t)
		if t == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
	}
	return out
}

func hasStyleTag(tags []string) bool {
	for _, t := range tags {
		if _, ok := domain.ParseOpeningStyle(t); ok {
			return true
		}
	}
	return false
}
