package domain

import "time"

// HistoryRecord is a previously accepted post. Records are appended, never
// edited, except by the category self-heal.
type HistoryRecord struct {
	ID           int64        `json:"id,omitempty"`
	RunID        string       `json:"run_id,omitempty"`
	Category     string       `json:"category"`
	OpeningStyle OpeningStyle `json:"opening_style,omitempty"`
	Text         string       `json:"text"`
	Language     string       `json:"language,omitempty"`
	Tags         []string     `json:"tags,omitempty"`
	CreatedAt    time.Time    `json:"created_at,omitempty"`
}

// NewHistoryRecord snapshots an accepted candidate.
func NewHistoryRecord(id int64, runID string, c Candidate, at time.Time) HistoryRecord {
	return HistoryRecord{
		ID:           id,
		RunID:        runID,
		Category:     c.Category,
		OpeningStyle: c.OpeningStyle,
		Text:         c.Text,
		Language:     c.Language,
		Tags:         append([]string(nil), c.Tags...),
		CreatedAt:    at.UTC(),
	}
}

// NeedsHeal reports whether the stored category must be replaced by the
// fallback category.
func NeedsHeal(category string) bool {
	key := CategoryKey(category)
	return key == "" || key == UnknownCategory
}

// HistoryWindow is the read-only view of history a run works with.
type HistoryWindow struct {
	// Count is the number of non-empty history entries.
	Count int
	// Recent holds the newest texts first.
	Recent []string
}

// Newest returns at most n texts, newest first.
func (w HistoryWindow) Newest(n int) []string {
	if n < 0 {
		n = 0
	}
	if n > len(w.Recent) {
		n = len(w.Recent)
	}
	return w.Recent[:n]
}
