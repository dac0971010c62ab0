package domain

import (
	"post_worker/pkg/textmatch"
)

// QuotaRule caps a keyword group per batch and per recent-history window.
type QuotaRule struct {
	Name        string
	Needles     textmatch.Set
	MaxPerBatch int
	// HistoryLimit: nil falls back to MaxPerBatch, 0 forbids any recent
	// occurrence, a negative value disables the history check.
	HistoryLimit *int
}

// EffectiveHistoryLimit resolves HistoryLimit. enforced is false when the
// history check is disabled.
func (q QuotaRule) EffectiveHistoryLimit() (limit int, enforced bool) {
	if q.HistoryLimit == nil {
		return q.MaxPerBatch, true
	}
	if *q.HistoryLimit < 0 {
		return 0, false
	}
	return *q.HistoryLimit, true
}

// TopicBucket is a keyword-defined theme used to force topical variety.
type TopicBucket struct {
	Name     string
	Keywords textmatch.Set
	Disabled bool
}

// Active reports whether the bucket takes part in bucket gating.
func (b TopicBucket) Active() bool { return !b.Disabled }

// MatchKind selects how an opening rule tests text.
type MatchKind string

const (
	MatchContains       MatchKind = "contains"
	MatchSentencePrefix MatchKind = "sentence_prefix"
	MatchWord           MatchKind = "word"
)

// OpeningRule maps a text predicate to an opening style. Rules are evaluated
// in order; the first match wins.
type OpeningRule struct {
	Label   OpeningStyle
	Match   MatchKind
	Needles textmatch.Set
}

// ComplianceRules are the hard bans. Every list is matched as substrings
// against case-folded text.
type ComplianceRules struct {
	ForbiddenPhrases     textmatch.Set
	ThresholdExpressions textmatch.Set
	RegulationCitations  textmatch.Set
	MonetaryAmounts      textmatch.Set
	BannedTopics         textmatch.Set
}

// ToneRule keeps advice phrasing out of informational categories.
type ToneRule struct {
	Categories  map[string]bool
	Imperatives textmatch.Set
}

// TravelHackRule caps one category at max(1, target/Divisor).
type TravelHackRule struct {
	Category string
	Divisor  int
}

// Cap returns the per-batch cap for a given target count.
func (r TravelHackRule) Cap(target int) int {
	if r.Divisor <= 0 {
		return 1
	}
	if c := target / r.Divisor; c > 1 {
		return c
	}
	return 1
}

// BucketHistoryRule bounds how often a bucket may recur in recent history.
type BucketHistoryRule struct {
	Window      int
	MaxInWindow int
}

// PromoRule governs URLs, brand names and calls to action.
type PromoRule struct {
	Category    string
	BrandNames  textmatch.Set
	CTAPhrases  textmatch.Set
	MaxPerBatch int
}

// RuleSet is the compiled, immutable rule pack a run filters with.
type RuleSet struct {
	Version       string
	PendingReview []string

	Compliance        ComplianceRules
	DomainKeywords    textmatch.Set
	Tone              ToneRule
	CategoryCaps      map[string]int
	TravelHack        TravelHackRule
	DocumentPatterns  textmatch.Set
	ConcreteDetails   textmatch.Set
	Buckets           []TopicBucket
	BucketHistory     BucketHistoryRule
	HashtagCategories map[string]bool
	Promo             PromoRule

	Quotas             []QuotaRule
	QuotaHistoryWindow int

	Openings       []OpeningRule
	DefaultOpening OpeningStyle
}

// Bucket looks up a bucket by name.
func (r *RuleSet) Bucket(name string) (TopicBucket, bool) {
	key := CategoryKey(name)
	for _, b := range r.Buckets {
		if CategoryKey(b.Name) == key {
			return b, true
		}
	}
	return TopicBucket{}, false
}

// InferBucket returns the first active bucket, in table order, whose keywords
// occur in text.
func (r *RuleSet) InferBucket(text string) (TopicBucket, bool) {
	folded := textmatch.Fold(text)
	for _, b := range r.Buckets {
		if b.Active() && b.Keywords.MatchFolded(folded) {
			return b, true
		}
	}
	return TopicBucket{}, false
}

// BucketTags returns the candidate's tags naming a known bucket, deduplicated.
func (r *RuleSet) BucketTags(c *Candidate) []TopicBucket {
	var out []TopicBucket
	seen := make(map[string]bool)
	for _, tag := range c.Tags {
		b, ok := r.Bucket(tag)
		if !ok || seen[b.Name] {
			continue
		}
		seen[b.Name] = true
		out = append(out, b)
	}
	return out
}

// ResolveBucket applies the bucket contract: exactly one recognized bucket
// tag, the bucket is active and the text itself matches its keywords.
func (r *RuleSet) ResolveBucket(c *Candidate) (TopicBucket, bool) {
	tags := r.BucketTags(c)
	if len(tags) != 1 {
		return TopicBucket{}, false
	}
	b := tags[0]
	if !b.Active() || !b.Keywords.Match(c.Text) {
		return TopicBucket{}, false
	}
	return b, true
}
