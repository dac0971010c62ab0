// Package diversity implements the stateful quota and variety filter. The
// filter scans candidates in order; earlier candidates win quota slots.
package diversity

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"post_worker/core/domain"
	"post_worker/core/service/compliance"
)

var (
	hashtagPattern = regexp.MustCompile(`(^|[^\p{L}\p{N}_])#[\p{L}\p{N}_]+`)
	urlPattern     = regexp.MustCompile(`(?i)(https?://|\bwww\.|\b[a-z0-9-]+\.(de|com|at|ch|eu|net|org|io|app)\b)`)
)

// Options are the per-run inputs of the filter.
type Options struct {
	// Active restricts accepted categories. Each active category is capped at
	// one post unless the rule pack caps it lower. Empty means no restriction.
	Active []string
	// Target is the effective batch size; it drives the travel-hack cap.
	Target int
}

// Result is the outcome of one filter pass.
type Result struct {
	Accepted []domain.Candidate
	Dropped  []domain.Drop
}

// Filter applies the ordered gate chain.
type Filter struct {
	rules      *domain.RuleSet
	compliance *compliance.Checker
}

func New(rules *domain.RuleSet, checker *compliance.Checker) *Filter {
	return &Filter{rules: rules, compliance: checker}
}

// historyView is the part of the filter state derived once from the recent
// history window.
type historyView struct {
	docTip      bool
	quotaHits   map[string]int
	bucketCount map[string]int
}

func (f *Filter) viewHistory(recent []string) historyView {
	v := historyView{
		quotaHits:   make(map[string]int, len(f.rules.Quotas)),
		bucketCount: make(map[string]int),
	}
	for _, t := range recent {
		if f.rules.DocumentPatterns.Match(t) {
			v.docTip = true
			break
		}
	}

	scope := recent
	if len(scope) > f.rules.QuotaHistoryWindow {
		scope = scope[:f.rules.QuotaHistoryWindow]
	}
	for _, q := range f.rules.Quotas {
		v.quotaHits[q.Name] = q.Needles.CountMatching(scope)
	}

	if w := f.rules.BucketHistory.Window; w > 0 {
		window := recent
		if len(window) > w {
			window = window[:w]
		}
		for _, b := range f.rules.Buckets {
			if n := b.Keywords.CountMatching(window); n > 0 {
				v.bucketCount[b.Name] = n
			}
		}
	}
	return v
}

// Apply runs every candidate through the gates and returns the accepted
// subset in input order. recent holds history texts, newest first.
func (f *Filter) Apply(candidates []domain.Candidate, recent []string, opts Options) Result {
	hist := f.viewHistory(recent)
	acc := NewAccumulator()
	active := make(map[string]bool, len(opts.Active))
	for _, name := range opts.Active {
		if key := domain.CategoryKey(name); key != "" {
			active[key] = true
		}
	}

	var res Result
	for _, c := range candidates {
		bucket, reason, detail := f.check(c, hist, acc, active, opts)
		if reason != "" {
			res.Dropped = append(res.Dropped, domain.Drop{Candidate: c, Reason: reason, Detail: detail})
			continue
		}
		acc.Accept(c, f.hits(c.Text, bucket))
	}

	kept, dropped := f.DistinctBuckets(acc.Accepted())
	res.Accepted = kept
	res.Dropped = append(res.Dropped, dropped...)
	return res
}

func (f *Filter) check(c domain.Candidate, hist historyView, acc *Accumulator, active map[string]bool, opts Options) (string, domain.DropReason, string) {
	text := strings.TrimSpace(c.Text)
	if text == "" {
		return "", domain.DropEmptyText, ""
	}
	if n := utf8.RuneCountInString(text); n > domain.MaxPostLength {
		return "", domain.DropTooLong, fmt.Sprintf("%d", n)
	}
	key := c.CategoryKey()

	// 1. topical relevance
	if !f.rules.DomainKeywords.Empty() && !f.rules.DomainKeywords.Match(text) {
		return "", domain.DropOffTopic, ""
	}

	// 2. tone
	if f.rules.Tone.Categories[key] {
		if phrase, ok := f.rules.Tone.Imperatives.FirstMatch(text); ok {
			return "", domain.DropTone, phrase
		}
	}

	// 3. category caps
	if len(active) > 0 && !active[key] {
		return "", domain.DropInactiveCategory, key
	}
	if limit, ok := f.categoryCap(key, len(active) > 0); ok && acc.CategoryCount(key) >= limit {
		return "", domain.DropCategoryCap, key
	}
	if key == f.rules.TravelHack.Category && acc.CategoryCount(key) >= f.rules.TravelHack.Cap(opts.Target) {
		return "", domain.DropTravelHackCap, key
	}

	// 4. document tips appear at most once across batch and history
	if f.rules.DocumentPatterns.Match(text) && (hist.docTip || acc.DocumentTip()) {
		return "", domain.DropDocumentTip, ""
	}

	// 5. hard bans
	if v := f.compliance.Check(text); v != compliance.ViolationNone {
		return "", domain.DropCompliance, string(v)
	}

	// 6. concrete detail
	if !hasDigit(text) && !f.rules.ConcreteDetails.Match(text) {
		return "", domain.DropNoConcreteDetail, ""
	}

	// 7. bucket
	bucket, ok := f.rules.ResolveBucket(&c)
	if !ok {
		return "", domain.DropBucketUnresolved, ""
	}
	if acc.HasBucket(bucket.Name) {
		return "", domain.DropBucketRepeated, bucket.Name
	}
	if limit := f.rules.BucketHistory.MaxInWindow; limit > 0 && hist.bucketCount[bucket.Name] >= limit {
		return "", domain.DropBucketHistory, bucket.Name
	}

	// 8. hashtags
	if hashtagPattern.MatchString(text) && !f.rules.HashtagCategories[key] {
		return "", domain.DropHashtag, ""
	}

	// 9. brand, URL or call to action
	if f.isPromo(text) {
		if key != f.rules.Promo.Category {
			return "", domain.DropPromo, ""
		}
		if acc.PromoHits() >= f.rules.Promo.MaxPerBatch {
			return "", domain.DropPromo, "batch"
		}
	}

	// 10. keyword quotas
	for _, q := range f.rules.Quotas {
		if !q.Needles.Match(text) {
			continue
		}
		if acc.QuotaHits(q.Name) >= q.MaxPerBatch {
			return "", domain.DropQuota, q.Name + ":batch"
		}
		if limit, enforced := q.EffectiveHistoryLimit(); enforced && hist.quotaHits[q.Name] >= limit {
			return "", domain.DropQuota, fmt.Sprintf("%s:history", q.Name)
		}
	}

	return bucket.Name, "", ""
}

// categoryCap returns the per-batch cap for key. Active categories are
// capped at one.
func (f *Filter) categoryCap(key string, restricted bool) (int, bool) {
	limit, ok := f.rules.CategoryCaps[key]
	if restricted {
		if !ok || limit > 1 {
			return 1, true
		}
		return limit, true
	}
	return limit, ok
}

func (f *Filter) isPromo(text string) bool {
	return urlPattern.MatchString(text) ||
		f.rules.Promo.BrandNames.Match(text) ||
		f.rules.Promo.CTAPhrases.Match(text)
}

func (f *Filter) hits(text, bucket string) Hits {
	h := Hits{
		Bucket:      bucket,
		DocumentTip: f.rules.DocumentPatterns.Match(text),
		Promo:       f.isPromo(text),
	}
	for _, q := range f.rules.Quotas {
		if q.Needles.Match(text) {
			h.Quotas = append(h.Quotas, q.Name)
		}
	}
	return h
}

// DistinctBuckets keeps the first candidate per resolved bucket. Candidates
// without a resolvable bucket are kept.
func (f *Filter) DistinctBuckets(candidates []domain.Candidate) ([]domain.Candidate, []domain.Drop) {
	var kept []domain.Candidate
	var dropped []domain.Drop
	seen := make(map[string]bool)
	for _, c := range candidates {
		if b, ok := f.rules.ResolveBucket(&c); ok {
			if seen[b.Name] {
				dropped = append(dropped, domain.Drop{Candidate: c, Reason: domain.DropDuplicateBucket, Detail: b.Name})
				continue
			}
			seen[b.Name] = true
		}
		kept = append(kept, c)
	}
	return kept, dropped
}

// FinalPass keeps the first candidate per bucket and per category.
func (f *Filter) FinalPass(candidates []domain.Candidate) ([]domain.Candidate, []domain.Drop) {
	kept, dropped := f.DistinctBuckets(candidates)
	out := kept[:0]
	seen := make(map[string]bool)
	for _, c := range kept {
		key := c.CategoryKey()
		if seen[key] {
			dropped = append(dropped, domain.Drop{Candidate: c, Reason: domain.DropDuplicateCat, Detail: key})
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out, dropped
}

// Relaxed is the fallback acceptance: the first non-empty candidate within
// the length limit that passes the hard bans, or nothing.
func (f *Filter) Relaxed(candidates []domain.Candidate) []domain.Candidate {
	for _, c := range candidates {
		text := strings.TrimSpace(c.Text)
		if text == "" || utf8.RuneCountInString(text) > domain.MaxPostLength {
			continue
		}
		if f.compliance.ViolatesHardRules(text) {
			continue
		}
		return []domain.Candidate{c}
	}
	return nil
}

func hasDigit(s string) bool {
	return strings.IndexFunc(s, unicode.IsDigit) >= 0
}

// =============================================================================
// Accumulator
// =============================================================================

// Accumulator holds the counters of one filter pass. It is updated once per
// accepted candidate, so every count reflects exactly the accepted set.
type Accumulator struct {
	accepted   []domain.Candidate
	categories map[string]int
	buckets    map[string]bool
	quotas     map[string]int
	docTip     bool
	promoHits  int
}

// Hits is what one accepted candidate contributes to the counters.
type Hits struct {
	Bucket      string
	DocumentTip bool
	Promo       bool
	Quotas      []string
}

func NewAccumulator() *Accumulator {
	return &Accumulator{
		categories: make(map[string]int),
		buckets:    make(map[string]bool),
		quotas:     make(map[string]int),
	}
}

func (a *Accumulator) Accept(c domain.Candidate, h Hits) {
	a.accepted = append(a.accepted, c)
	a.categories[c.CategoryKey()]++
	if h.Bucket != "" {
		a.buckets[h.Bucket] = true
	}
	for _, q := range h.Quotas {
		a.quotas[q]++
	}
	if h.DocumentTip {
		a.docTip = true
	}
	if h.Promo {
		a.promoHits++
	}
}

func (a *Accumulator) Accepted() []domain.Candidate { return a.accepted }

func (a *Accumulator) CategoryCount(key string) int { return a.categories[key] }

func (a *Accumulator) HasBucket(name string) bool { return a.buckets[name] }

func (a *Accumulator) QuotaHits(name string) int { return a.quotas[name] }

func (a *Accumulator) DocumentTip() bool { return a.docTip }

func (a *Accumulator) PromoHits() int { return a.promoHits }
