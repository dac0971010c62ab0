package domain

import "time"

// RunContext is the ephemeral state of one pipeline run. Nothing here is
// persisted.
type RunContext struct {
	RunID     string
	StartedAt time.Time

	// Active categories for this run, in rotation order.
	Active []Category
	// Target is the effective number of posts the run aims to accept.
	Target int
	// History is the window read at the start of the run.
	History HistoryWindow
	// Vectors caches embeddings by text. Nil until the dedup stage fills it,
	// and stays nil when embeddings are unavailable.
	Vectors map[string][]float32
}

// ActiveNames returns the active category names in order.
func (rc *RunContext) ActiveNames() []string {
	names := make([]string, len(rc.Active))
	for i, c := range rc.Active {
		names[i] = c.Name
	}
	return names
}

// Variant is a named request shape: how much history goes into the prompt,
// how many posts are requested and whether optional stages run.
type Variant struct {
	Name        string
	RecentItems int
	Count       int
	// Review enables the second reviewer model call.
	Review bool
	// Strict asks the model to return nothing but the record list.
	Strict bool
}

const (
	VariantFull    = "full"
	VariantShrunk  = "shrunk"
	VariantRepair  = "repair"
	VariantMinimal = "minimal"
)

// Shrink halves the request shape. ok is false when nothing can shrink.
func (v Variant) Shrink() (Variant, bool) {
	next := v
	next.Name = VariantShrunk
	next.RecentItems = v.RecentItems / 2
	next.Count = (v.Count + 1) / 2
	if next.Count < 1 {
		next.Count = 1
	}
	if next.RecentItems == v.RecentItems && next.Count == v.Count {
		return v, false
	}
	return next, true
}

// Repair keeps the request shape but skips optional stages and asks for
// strictly formatted output.
func (v Variant) Repair() Variant {
	next := v
	next.Name = VariantRepair
	next.Review = false
	next.Strict = true
	return next
}

// Minimal is the smallest possible request shape.
func Minimal() Variant {
	return Variant{Name: VariantMinimal, RecentItems: 0, Count: 1, Strict: true}
}

// RunOutcome summarizes how a run ended.
type RunOutcome string

const (
	OutcomeAccepted RunOutcome = "accepted"
	OutcomeNoOutput RunOutcome = "no_output"
)
