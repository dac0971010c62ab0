package rulepack

import (
	"os"
	"path/filepath"
	"testing"

	"post_worker/core/domain"
	"post_worker/pkg/apperr"
)

func TestDefaultPack(t *testing.T) {
	rs, err := Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}

	if rs.Version == "" {
		t.Error("expected a version")
	}
	if len(rs.Buckets) != 12 {
		t.Errorf("expected 12 buckets, got %d", len(rs.Buckets))
	}
	if rs.DefaultOpening != domain.OpeningTip {
		t.Errorf("expected default opening tip, got %s", rs.DefaultOpening)
	}
	if rs.TravelHack.Category != "travel_hack" || rs.TravelHack.Divisor != 5 {
		t.Errorf("unexpected travel hack rule %+v", rs.TravelHack)
	}
	if !rs.Tone.Categories["fun_fact"] {
		t.Error("expected fun_fact to be tone gated")
	}

	quotas := make(map[string]domain.QuotaRule)
	for _, q := range rs.Quotas {
		quotas[q.Name] = q
	}
	if limit, enforced := quotas["eu261"].EffectiveHistoryLimit(); !enforced || limit != 0 {
		t.Errorf("eu261 history limit = %d/%v, want 0/true", limit, enforced)
	}
	if _, enforced := quotas["stock_no_fee"].EffectiveHistoryLimit(); enforced {
		t.Error("stock phrase quotas must not enforce a history limit")
	}
	if len(rs.PendingReview) == 0 {
		t.Error("expected pending review entries in the default pack")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.json")
	body := `{
		"version": "test",
		"compliance": {"forbidden_phrases": ["verboten"]},
		"buckets": [{"name": "Gate", "keywords": ["gate"]}],
		"quotas": [{"name": "gates", "needles": ["gate"], "max_per_batch": 2}],
		"openings": [{"label": "question", "match": "contains", "needles": ["?"]}]
	}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	rs, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if rs.Version != "test" {
		t.Errorf("expected version test, got %s", rs.Version)
	}
	if _, ok := rs.Bucket("gate"); !ok {
		t.Error("expected bucket names to be normalized")
	}
	if limit, enforced := rs.Quotas[0].EffectiveHistoryLimit(); !enforced || limit != 2 {
		t.Errorf("missing history limit should fall back to max_per_batch, got %d/%v", limit, enforced)
	}
}

func TestCompileRejectsBadPacks(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "invalid json", body: `{"version":`},
		{name: "no compliance rules", body: `{"version": "x"}`},
		{name: "duplicate bucket", body: `{"compliance": {"forbidden_phrases": ["a"]}, "buckets": [{"name": "x", "keywords": ["a"]}, {"name": "X", "keywords": ["b"]}]}`},
		{name: "bucket without keywords", body: `{"compliance": {"forbidden_phrases": ["a"]}, "buckets": [{"name": "x", "keywords": [" "]}]}`},
		{name: "quota without needles", body: `{"compliance": {"forbidden_phrases": ["a"]}, "quotas": [{"name": "q", "needles": [], "max_per_batch": 1}]}`},
		{name: "unknown opening label", body: `{"compliance": {"forbidden_phrases": ["a"]}, "openings": [{"label": "rant", "match": "contains", "needles": ["!"]}]}`},
		{name: "unknown match kind", body: `{"compliance": {"forbidden_phrases": ["a"]}, "openings": [{"label": "tip", "match": "regex", "needles": ["x"]}]}`},
		{name: "negative cap", body: `{"compliance": {"forbidden_phrases": ["a"]}, "category_caps": {"x": -1}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.body))
			if err == nil {
				t.Fatal("expected an error")
			}
			if !apperr.HasCode(err, apperr.CodeConfigError) {
				t.Errorf("expected CONFIG_ERROR, got %v", err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if !apperr.HasCode(err, apperr.CodeConfigError) {
		t.Errorf("expected CONFIG_ERROR, got %v", err)
	}
}
