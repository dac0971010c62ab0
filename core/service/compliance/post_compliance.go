// Package compliance holds the hard publishing bans. Checker is the only
// place that decides whether a text is unsafe to publish; every filter path,
// including the relaxed fallback, goes through it.
package compliance

import (
	"post_worker/core/domain"
	"post_worker/pkg/textmatch"
)

// Violation names which rule list a text tripped.
type Violation string

const (
	ViolationNone        Violation = ""
	ViolationForbidden   Violation = "forbidden_phrase"
	ViolationThreshold   Violation = "threshold_expression"
	ViolationRegulation  Violation = "regulation_citation"
	ViolationAmount      Violation = "monetary_amount"
	ViolationBannedTopic Violation = "banned_topic"
)

// Checker evaluates ComplianceRules case-insensitively.
type Checker struct {
	rules domain.ComplianceRules
}

func NewChecker(rules domain.ComplianceRules) *Checker {
	return &Checker{rules: rules}
}

// ViolatesHardRules reports whether text must never be published.
func (c *Checker) ViolatesHardRules(text string) bool {
	return c.Check(text) != ViolationNone
}

// Check returns the first violated rule list, or ViolationNone.
// Thresholds and amounts use digit boundaries so that "über 3" does not
// fire on "über 30" while "3h" still fires on "3h Verspätung".
func (c *Checker) Check(text string) Violation {
	folded := textmatch.Fold(text)
	switch {
	case c.rules.ForbiddenPhrases.MatchFolded(folded):
		return ViolationForbidden
	case c.rules.ThresholdExpressions.MatchNumeric(folded):
		return ViolationThreshold
	case c.rules.RegulationCitations.MatchFolded(folded):
		return ViolationRegulation
	case c.rules.MonetaryAmounts.MatchNumeric(folded):
		return ViolationAmount
	case c.rules.BannedTopics.MatchFolded(folded):
		return ViolationBannedTopic
	}
	return ViolationNone
}
