// Package dedup drops candidates that are semantically too close to recent
// history or to candidates already accepted in the same batch.
package dedup

import (
	"context"
	"strconv"

	"github.com/rs/zerolog"

	"post_worker/core/agent/rag"
	"post_worker/core/domain"
)

// Vectorizer supplies embeddings keyed by text.
type Vectorizer interface {
	Enabled() bool
	Vectors(ctx context.Context, texts []string) (map[string][]float32, error)
}

// Result of one dedup pass. Skipped is set when the stage did not run; the
// candidates are then passed through unchanged.
type Result struct {
	Accepted []domain.Candidate
	Dropped  []domain.Drop
	Skipped  bool
	Err      error
}

// Deduplicator compares candidates by cosine similarity.
type Deduplicator struct {
	vectors   Vectorizer
	threshold float64
	window    int
	log       zerolog.Logger
}

// New returns a deduplicator that drops candidates scoring threshold or more
// against the newest window history texts or earlier accepted candidates.
// A nil vectorizer disables the stage.
func New(vectors Vectorizer, threshold float64, window int, log zerolog.Logger) *Deduplicator {
	return &Deduplicator{vectors: vectors, threshold: threshold, window: window, log: log}
}

// Enabled reports whether the stage will run.
func (d *Deduplicator) Enabled() bool {
	return d.vectors != nil && d.vectors.Enabled()
}

// Apply filters candidates in order. Embedding failures skip the stage for
// this call and never fail the run. rc.Vectors is filled with every vector
// that was fetched.
func (d *Deduplicator) Apply(ctx context.Context, rc *domain.RunContext, candidates []domain.Candidate) Result {
	if !d.Enabled() || len(candidates) == 0 {
		return Result{Accepted: candidates, Skipped: !d.Enabled()}
	}

	history := rc.History.Newest(d.window)
	texts := make([]string, 0, len(history)+len(candidates))
	texts = append(texts, history...)
	for _, c := range candidates {
		texts = append(texts, c.Text)
	}

	vecs, err := d.vectors.Vectors(ctx, texts)
	if err != nil {
		d.log.Warn().Err(err).Msg("similarity dedup skipped")
		return Result{Accepted: candidates, Skipped: true, Err: err}
	}
	if rc.Vectors == nil {
		rc.Vectors = make(map[string][]float32, len(vecs))
	}
	for text, v := range vecs {
		rc.Vectors[text] = v
	}

	pool := make([][]float32, 0, len(history)+len(candidates))
	for _, text := range history {
		if v, ok := vecs[text]; ok {
			pool = append(pool, v)
		}
	}

	var res Result
	for _, c := range candidates {
		v, ok := vecs[c.Text]
		if !ok {
			res.Accepted = append(res.Accepted, c)
			continue
		}
		if score, at := rag.MaxSimilarity(v, pool); at >= 0 && score >= d.threshold {
			res.Dropped = append(res.Dropped, domain.Drop{
				Candidate: c,
				Reason:    domain.DropSimilar,
				Detail:    strconv.FormatFloat(score, 'f', 3, 64),
			})
			continue
		}
		res.Accepted = append(res.Accepted, c)
		pool = append(pool, v)
	}
	return res
}
