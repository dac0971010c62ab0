package llm

import (
	"bytes"
	"strings"

	"github.com/goccy/go-json"

	"post_worker/core/domain"
	"post_worker/pkg/apperr"
)

const snippetLength = 200

// listFields are the wrapper keys tried first when the model returns an
// object instead of a bare array.
var listFields = []string{"posts", "tweets", "queue", "items", "records"}

// rawRecord is one model record. The category may arrive under any of the
// names earlier prompts asked for.
type rawRecord struct {
	Text         string       `json:"text"`
	Category     string       `json:"category"`
	TweetType    string       `json:"tweet_type"`
	Type         string       `json:"type"`
	OpeningStyle string       `json:"opening_style"`
	Language     string       `json:"language"`
	Tags         looseStrings `json:"tags"`
}

// looseStrings accepts a list of strings or a single string.
type looseStrings []string

func (l *looseStrings) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*l = nil
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*l = looseStrings{s}
		return nil
	}
	var items []any
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	out := make(looseStrings, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	*l = out
	return nil
}

// ExtractRecords turns raw model output into candidates. It tries the whole
// text first, then the widest parseable array, then an object wrapping a
// single list. At most n records are returned when n is positive.
func ExtractRecords(raw string, n int) ([]domain.Candidate, error) {
	text := stripFences(raw)

	records, ok := parseWhole(text)
	if !ok {
		records, ok = scanArray(text)
	}
	if !ok {
		records, ok = scanObject(text)
	}
	if !ok {
		return nil, apperr.NoStructuredData(snippet(text))
	}

	if n > 0 && len(records) > n {
		records = records[:n]
	}
	return records, nil
}

// stripFences drops markdown code fence lines and keeps their contents.
func stripFences(raw string) string {
	if !strings.Contains(raw, "```") {
		return strings.TrimSpace(raw)
	}
	lines := strings.Split(raw, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func parseWhole(text string) ([]domain.Candidate, bool) {
	if text == "" {
		return nil, false
	}
	switch text[0] {
	case '[':
		return decodeArray(text)
	case '{':
		return decodeObject(text)
	}
	return nil, false
}

// scanArray tries every '[' from the left and, for each, closing brackets
// from the end backward so nested lists are never cut short.
func scanArray(text string) ([]domain.Candidate, bool) {
	return scan(text, '[', ']', decodeArray)
}

func scanObject(text string) ([]domain.Candidate, bool) {
	return scan(text, '{', '}', decodeObject)
}

func scan(text string, openCh, closeCh byte, decode func(string) ([]domain.Candidate, bool)) ([]domain.Candidate, bool) {
	var closers []int
	for i := 0; i < len(text); i++ {
		if text[i] == closeCh {
			closers = append(closers, i)
		}
	}
	if len(closers) == 0 {
		return nil, false
	}

	for start := 0; start < len(text); start++ {
		if text[start] != openCh {
			continue
		}
		for j := len(closers) - 1; j >= 0 && closers[j] > start; j-- {
			if records, ok := decode(text[start : closers[j]+1]); ok {
				return records, true
			}
		}
	}
	return nil, false
}

func decodeArray(segment string) ([]domain.Candidate, bool) {
	var items []json.RawMessage
	if err := json.Unmarshal([]byte(segment), &items); err != nil {
		return nil, false
	}
	records := toCandidates(items)
	return records, len(records) > 0
}

func decodeObject(segment string) ([]domain.Candidate, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(segment), &fields); err != nil {
		return nil, false
	}

	for _, key := range listFields {
		if raw, ok := fields[key]; ok {
			if records, ok := decodeArray(string(raw)); ok {
				return records, true
			}
		}
	}

	var only json.RawMessage
	lists := 0
	for _, raw := range fields {
		raw = bytes.TrimSpace(raw)
		if len(raw) > 0 && raw[0] == '[' {
			only = raw
			lists++
		}
	}
	if lists != 1 {
		return nil, false
	}
	return decodeArray(string(only))
}

// toCandidates keeps string items and objects with a text field. Anything
// else is skipped.
func toCandidates(items []json.RawMessage) []domain.Candidate {
	out := make([]domain.Candidate, 0, len(items))
	for _, item := range items {
		item = bytes.TrimSpace(item)
		if len(item) == 0 {
			continue
		}

		switch item[0] {
		case '"':
			var s string
			if err := json.Unmarshal(item, &s); err != nil || strings.TrimSpace(s) == "" {
				continue
			}
			out = append(out, domain.Candidate{Text: s, Category: domain.UnknownCategory})
		case '{':
			var r rawRecord
			if err := json.Unmarshal(item, &r); err != nil || strings.TrimSpace(r.Text) == "" {
				continue
			}
			out = append(out, r.candidate())
		}
	}
	return out
}

func (r rawRecord) candidate() domain.Candidate {
	category := r.Category
	if category == "" {
		category = r.TweetType
	}
	if category == "" {
		category = r.Type
	}

	var tags []string
	if len(r.Tags) > 0 {
		tags = append(tags, r.Tags...)
	}

	return domain.Candidate{
		Text:         r.Text,
		Category:     strings.TrimSpace(category),
		OpeningStyle: domain.OpeningStyle(strings.TrimSpace(r.OpeningStyle)),
		Language:     strings.TrimSpace(r.Language),
		Tags:         tags,
	}
}

func snippet(text string) string {
	r := []rune(text)
	if len(r) > snippetLength {
		r = r[:snippetLength]
	}
	return string(r)
}
