// Package rulepack loads the versioned filter rules (deny-lists, keyword
// tables, quotas, buckets, opening heuristics) and compiles them into a
// domain.RuleSet. A default pack is embedded; a file can replace it.
package rulepack

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-json"

	"post_worker/core/domain"
	"post_worker/pkg/apperr"
	"post_worker/pkg/textmatch"
)

//go:embed rules.json
var defaultRules []byte

// File is the on-disk shape of a rule pack.
type File struct {
	Version       string   `json:"version"`
	PendingReview []string `json:"pending_review"`

	Compliance struct {
		ForbiddenPhrases     []string `json:"forbidden_phrases"`
		ThresholdExpressions []string `json:"threshold_expressions"`
		RegulationCitations  []string `json:"regulation_citations"`
		MonetaryAmounts      []string `json:"monetary_amounts"`
		BannedTopics         []string `json:"banned_topics"`
	} `json:"compliance"`

	DomainKeywords []string `json:"domain_keywords"`

	Tone struct {
		Categories  []string `json:"categories"`
		Imperatives []string `json:"imperatives"`
	} `json:"tone"`

	CategoryCaps map[string]int `json:"category_caps"`

	TravelHack struct {
		Category string `json:"category"`
		Divisor  int    `json:"divisor"`
	} `json:"travel_hack"`

	DocumentPatterns []string `json:"document_patterns"`
	ConcreteDetails  []string `json:"concrete_details"`

	Buckets []struct {
		Name     string   `json:"name"`
		Keywords []string `json:"keywords"`
		Disabled bool     `json:"disabled"`
	} `json:"buckets"`

	BucketHistory struct {
		Window      int `json:"window"`
		MaxInWindow int `json:"max_in_window"`
	} `json:"bucket_history"`

	HashtagCategories []string `json:"hashtag_categories"`

	Promo struct {
		Category    string   `json:"category"`
		BrandNames  []string `json:"brand_names"`
		CTAPhrases  []string `json:"cta_phrases"`
		MaxPerBatch int      `json:"max_per_batch"`
	} `json:"promo"`

	QuotaHistoryWindow int `json:"quota_history_window"`
	Quotas             []struct {
		Name         string   `json:"name"`
		Needles      []string `json:"needles"`
		MaxPerBatch  int      `json:"max_per_batch"`
		HistoryLimit *int     `json:"history_limit"`
	} `json:"quotas"`

	Openings []struct {
		Label   string   `json:"label"`
		Match   string   `json:"match"`
		Needles []string `json:"needles"`
	} `json:"openings"`
	DefaultOpening string `json:"default_opening"`
}

// Default compiles the embedded pack.
func Default() (*domain.RuleSet, error) {
	return Parse(defaultRules)
}

// Load compiles the pack at path, or the embedded pack when path is empty.
func Load(path string) (*domain.RuleSet, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.ConfigError(fmt.Sprintf("read rule pack %s", path)).WithError(err)
	}
	return Parse(data)
}

// Parse decodes and compiles a rule pack.
func Parse(data []byte) (*domain.RuleSet, error) {
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, apperr.ConfigError("decode rule pack").WithError(err)
	}
	return Compile(&f)
}

// Compile validates f and builds the matchers.
func Compile(f *File) (*domain.RuleSet, error) {
	if f.Compliance.ForbiddenPhrases == nil && f.Compliance.ThresholdExpressions == nil {
		return nil, apperr.ConfigError("rule pack has no compliance rules")
	}

	rs := &domain.RuleSet{
		Version:       f.Version,
		PendingReview: append([]string(nil), f.PendingReview...),
		Compliance: domain.ComplianceRules{
			ForbiddenPhrases:     textmatch.NewSet(f.Compliance.ForbiddenPhrases...),
			ThresholdExpressions: textmatch.NewSet(f.Compliance.ThresholdExpressions...),
			RegulationCitations:  textmatch.NewSet(f.Compliance.RegulationCitations...),
			MonetaryAmounts:      textmatch.NewSet(f.Compliance.MonetaryAmounts...),
			BannedTopics:         textmatch.NewSet(f.Compliance.BannedTopics...),
		},
		DomainKeywords: textmatch.NewSet(f.DomainKeywords...),
		Tone: domain.ToneRule{
			Categories:  keySet(f.Tone.Categories),
			Imperatives: textmatch.NewSet(f.Tone.Imperatives...),
		},
		CategoryCaps: make(map[string]int, len(f.CategoryCaps)),
		TravelHack: domain.TravelHackRule{
			Category: domain.CategoryKey(f.TravelHack.Category),
			Divisor:  f.TravelHack.Divisor,
		},
		DocumentPatterns: textmatch.NewSet(f.DocumentPatterns...),
		ConcreteDetails:  textmatch.NewSet(f.ConcreteDetails...),
		BucketHistory: domain.BucketHistoryRule{
			Window:      f.BucketHistory.Window,
			MaxInWindow: f.BucketHistory.MaxInWindow,
		},
		HashtagCategories: keySet(f.HashtagCategories),
		Promo: domain.PromoRule{
			Category:    domain.CategoryKey(f.Promo.Category),
			BrandNames:  textmatch.NewSet(f.Promo.BrandNames...),
			CTAPhrases:  textmatch.NewSet(f.Promo.CTAPhrases...),
			MaxPerBatch: f.Promo.MaxPerBatch,
		},
		QuotaHistoryWindow: f.QuotaHistoryWindow,
	}

	for name, limit := range f.CategoryCaps {
		if limit < 0 {
			return nil, apperr.ConfigError(fmt.Sprintf("category cap %q is negative", name))
		}
		rs.CategoryCaps[domain.CategoryKey(name)] = limit
	}

	if rs.BucketHistory.Window < 0 || rs.BucketHistory.MaxInWindow < 0 {
		return nil, apperr.ConfigError("bucket_history values must not be negative")
	}
	if rs.QuotaHistoryWindow < 0 {
		return nil, apperr.ConfigError("quota_history_window must not be negative")
	}

	seen := make(map[string]bool)
	for _, b := range f.Buckets {
		key := domain.CategoryKey(b.Name)
		if key == "" {
			return nil, apperr.ConfigError("bucket with empty name")
		}
		if seen[key] {
			return nil, apperr.ConfigError(fmt.Sprintf("duplicate bucket %q", b.Name))
		}
		seen[key] = true
		kw := textmatch.NewSet(b.Keywords...)
		if kw.Empty() {
			return nil, apperr.ConfigError(fmt.Sprintf("bucket %q has no keywords", b.Name))
		}
		rs.Buckets = append(rs.Buckets, domain.TopicBucket{Name: key, Keywords: kw, Disabled: b.Disabled})
	}

	seen = make(map[string]bool)
	for _, q := range f.Quotas {
		key := domain.CategoryKey(q.Name)
		if key == "" || seen[key] {
			return nil, apperr.ConfigError(fmt.Sprintf("quota name %q is empty or duplicated", q.Name))
		}
		seen[key] = true
		needles := textmatch.NewSet(q.Needles...)
		if needles.Empty() {
			return nil, apperr.ConfigError(fmt.Sprintf("quota %q has no needles", q.Name))
		}
		if q.MaxPerBatch < 0 {
			return nil, apperr.ConfigError(fmt.Sprintf("quota %q has a negative max_per_batch", q.Name))
		}
		rule := domain.QuotaRule{Name: key, Needles: needles, MaxPerBatch: q.MaxPerBatch}
		if q.HistoryLimit != nil {
			limit := *q.HistoryLimit
			rule.HistoryLimit = &limit
		}
		rs.Quotas = append(rs.Quotas, rule)
	}

	for _, o := range f.Openings {
		label, ok := domain.ParseOpeningStyle(o.Label)
		if !ok {
			return nil, apperr.ConfigError(fmt.Sprintf("unknown opening style %q", o.Label))
		}
		kind := domain.MatchKind(strings.ToLower(strings.TrimSpace(o.Match)))
		switch kind {
		case domain.MatchContains, domain.MatchSentencePrefix, domain.MatchWord:
		default:
			return nil, apperr.ConfigError(fmt.Sprintf("unknown opening match %q", o.Match))
		}
		rs.Openings = append(rs.Openings, domain.OpeningRule{
			Label:   label,
			Match:   kind,
			Needles: textmatch.NewSet(o.Needles...),
		})
	}

	rs.DefaultOpening = domain.OpeningTip
	if f.DefaultOpening != "" {
		def, ok := domain.ParseOpeningStyle(f.DefaultOpening)
		if !ok {
			return nil, apperr.ConfigError(fmt.Sprintf("unknown default opening %q", f.DefaultOpening))
		}
		rs.DefaultOpening = def
	}

	return rs, nil
}

func keySet(names []string) map[string]bool {
	out := make(map[string]bool, len(names))
	for _, n := range names {
		if key := domain.CategoryKey(n); key != "" {
			out[key] = true
		}
	}
	return out
}
