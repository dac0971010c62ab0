// Package pipeline runs one generation batch end to end: pick categories,
// generate through the retry orchestrator, filter, persist.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"post_worker/core/agent/llm"
	"post_worker/core/domain"
	"post_worker/core/port/out"
	"post_worker/core/service/catalog"
	"post_worker/core/service/dedup"
	"post_worker/core/service/diversity"
	"post_worker/core/service/normalize"
	"post_worker/core/service/orchestrator"
	"post_worker/core/service/rotation"
	"post_worker/pkg/apperr"
	"post_worker/pkg/metrics"
)

// Stage names used in run timings.
const (
	StageLoad      = "load"
	StageGenerate  = "generate"
	StageNormalize = "normalize"
	StageFilter    = "filter"
	StageDedup     = "dedup"
	StageSelect    = "select"
	StagePersist   = "persist"
)

// Config is the run shape.
type Config struct {
	BriefPath         string
	CategoriesPath    string
	RolesPath         string
	NumPosts          int
	RecentPostsMax    int
	PromptRecentItems int
	Language          string
	FallbackCategory  string
	ForcedCategories  []string
	ReviewEnabled     bool
	MaxTokens         int
}

// IDGenerator hands out history record ids.
type IDGenerator interface {
	Next() (int64, error)
}

// Deps are the collaborators of a Driver. Archive and Notifier may be nil.
type Deps struct {
	History      out.HistoryRepository
	Generator    out.TextGenerator
	Queue        out.QueueWriter
	Archive      out.QueueArchive
	Notifier     out.RunNotifier
	Diagnostics  out.DiagnosticSink
	Rules        *domain.RuleSet
	Normalizer   *normalize.Normalizer
	Filter       *diversity.Filter
	Dedup        *dedup.Deduplicator
	Orchestrator *orchestrator.Orchestrator
	IDs          IDGenerator
}

// RunReport summarizes a finished run.
type RunReport struct {
	RunID      string                    `json:"run_id"`
	StartedAt  time.Time                 `json:"started_at"`
	Active     []string                  `json:"active"`
	Target     int                       `json:"target"`
	Healed     int                       `json:"healed"`
	Attempts   int                       `json:"attempts"`
	Generation orchestrator.Outcome      `json:"generation"`
	Degraded   bool                      `json:"degraded"`
	Relaxed    bool                      `json:"relaxed"`
	DedupRan   bool                      `json:"dedup_ran"`
	Outcome    domain.RunOutcome         `json:"outcome"`
	Accepted   int                       `json:"accepted"`
	QueuePath  string                    `json:"queue_path,omitempty"`
	DropCounts map[domain.DropReason]int `json:"drop_counts"`
	Stages     []metrics.StageTiming     `json:"stages"`
	ModelCalls metrics.LatencyStats      `json:"model_calls"`
	Posts      []domain.Candidate        `json:"-"`
}

// documents are the markdown inputs of a run.
type documents struct {
	brief      string
	categories string
	catalog    *domain.Catalog
	roles      map[string]domain.Role
}

type Driver struct {
	cfg  Config
	deps Deps
	log  zerolog.Logger
	now  func() time.Time
}

func New(cfg Config, deps Deps, log zerolog.Logger) *Driver {
	return &Driver{cfg: cfg, deps: deps, log: log, now: time.Now}
}

// HealHistory rewrites unusable history categories to the fallback.
func (d *Driver) HealHistory(ctx context.Context) (int, error) {
	n, err := d.deps.History.HealCategories(ctx, d.cfg.FallbackCategory)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		d.log.Info().Int("records", n).Str("fallback", d.cfg.FallbackCategory).Msg("history categories healed")
	}
	return n, nil
}

// Run executes one batch. Configuration and storage errors are returned;
// a run that produces nothing is a normal outcome.
func (d *Driver) Run(ctx context.Context) (*RunReport, error) {
	m := metrics.NewRunMetrics()
	report := &RunReport{
		RunID:      uuid.NewString(),
		StartedAt:  d.now().UTC(),
		Outcome:    domain.OutcomeNoOutput,
		DropCounts: make(map[domain.DropReason]int),
	}
	log := d.log.With().Str("run_id", report.RunID).Logger()
	d.diag().Begin(report.RunID)
	defer func() {
		report.Stages = m.Stages()
		report.ModelCalls = m.CallStats()
	}()

	stop := m.Stage(StageLoad)
	docs, err := d.loadDocuments()
	if err != nil {
		stop()
		return report, err
	}

	healed, err := d.HealHistory(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("history self-heal failed")
	}
	report.Healed = healed

	window, err := d.deps.History.Window(ctx, d.cfg.RecentPostsMax)
	if err != nil {
		stop()
		return report, err
	}

	active, err := d.activeCategories(docs.catalog, window.Count)
	if err != nil {
		stop()
		return report, err
	}
	stop()

	rc := &domain.RunContext{
		RunID:     report.RunID,
		StartedAt: report.StartedAt,
		Active:    active,
		Target:    len(active),
		History:   window,
	}
	report.Active = rc.ActiveNames()
	report.Target = rc.Target

	log.Info().
		Strs("active", report.Active).
		Int("history", window.Count).
		Int("rotation_index", rotation.Index(window.Count, docs.catalog.Len())).
		Msg("run started")

	stop = m.Stage(StageGenerate)
	initial := domain.Variant{
		Name:        domain.VariantFull,
		RecentItems: d.cfg.PromptRecentItems,
		Count:       d.requestCount(rc.Target),
		Review:      d.cfg.ReviewEnabled,
	}
	gen := d.deps.Orchestrator.Run(ctx, initial, d.attempt(docs, rc, m, log))
	stop()

	report.Attempts = gen.Attempts
	report.Generation = gen.Outcome
	report.Degraded = gen.Degraded
	if !gen.Succeeded() {
		log.Warn().Err(gen.Err).Str("generation", string(gen.Outcome)).Msg("no candidates generated, no output this run")
		d.flushDiagnostics(log)
		return report, nil
	}

	accepted := d.filter(ctx, rc, gen.Candidates, report, m, log)
	if len(accepted) == 0 {
		log.Warn().Interface("drops", report.DropCounts).Msg("every candidate rejected, no output this run")
		d.flushDiagnostics(log)
		return report, nil
	}

	stop = m.Stage(StagePersist)
	err = d.persist(ctx, rc, accepted, report, log)
	stop()
	d.flushDiagnostics(log)
	if err != nil {
		return report, err
	}

	log.Info().
		Int("accepted", report.Accepted).
		Str("queue", report.QueuePath).
		Interface("drops", report.DropCounts).
		Msg("run finished")
	return report, nil
}

func (d *Driver) loadDocuments() (*documents, error) {
	cat, err := catalog.Load(d.cfg.CategoriesPath)
	if err != nil {
		return nil, err
	}
	categoriesDoc, err := catalog.ReadDocument(d.cfg.CategoriesPath)
	if err != nil {
		return nil, err
	}
	brief, err := catalog.ReadDocument(d.cfg.BriefPath)
	if err != nil {
		return nil, err
	}
	roles, err := catalog.LoadRoles(d.cfg.RolesPath)
	if err != nil {
		return nil, err
	}
	return &documents{brief: brief, categories: categoriesDoc, catalog: cat, roles: roles}, nil
}

func (d *Driver) activeCategories(cat *domain.Catalog, historyCount int) ([]domain.Category, error) {
	if len(d.cfg.ForcedCategories) > 0 {
		return rotation.Override(cat, d.cfg.ForcedCategories)
	}
	if d.cfg.NumPosts <= 0 {
		return nil, apperr.ConfigError(fmt.Sprintf("number of posts must be positive, got %d", d.cfg.NumPosts))
	}
	return rotation.Select(cat, historyCount, d.cfg.NumPosts), nil
}

// requestCount is how many posts the model is asked for. Rotation runs ask
// for the configured batch size so the filter has candidates to spare; an
// explicit category list asks for exactly one post per category.
func (d *Driver) requestCount(target int) int {
	if len(d.cfg.ForcedCategories) > 0 || d.cfg.NumPosts < target {
		return target
	}
	return d.cfg.NumPosts
}

// attempt builds the generation closure the orchestrator retries.
func (d *Driver) attempt(docs *documents, rc *domain.RunContext, m *metrics.RunMetrics, log zerolog.Logger) orchestrator.Attempt {
	generatorSystem := docs.roles[llm.RoleGenerator].SystemPrompt(llm.DefaultGeneratorRole)
	reviewerSystem := docs.roles[llm.RoleReviewer].SystemPrompt(llm.DefaultReviewerRole)
	required := rc.ActiveNames()

	return func(ctx context.Context, v domain.Variant) ([]domain.Candidate, error) {
		req := required
		if v.Count < len(req) {
			req = req[:v.Count]
		}

		prompt := llm.GenerationPrompt(llm.PromptInput{
			Brief:         docs.brief,
			CategoriesDoc: docs.categories,
			Required:      req,
			Count:         v.Count,
			Recent:        rc.History.Newest(v.RecentItems),
			Language:      d.cfg.Language,
			TravelHackCap: d.deps.Rules.TravelHack.Cap(rc.Target),
			Strict:        v.Strict,
		})

		raw, err := d.generate(ctx, m, generatorSystem, prompt)
		if err != nil {
			return nil, err
		}
		d.diag().RawOutput(raw)

		if v.Review {
			if reviewed, ok := d.review(ctx, m, log, reviewerSystem, raw, v.Count, req); ok {
				return reviewed, nil
			}
		}
		return llm.ExtractRecords(raw, v.Count)
	}
}

// review runs the reviewer call. Any failure falls back to the generator
// output.
func (d *Driver) review(ctx context.Context, m *metrics.RunMetrics, log zerolog.Logger,
	system, generated string, count int, required []string) ([]domain.Candidate, bool) {
	raw, err := d.generate(ctx, m, system, llm.ReviewPrompt(generated, count, required, d.cfg.Language))
	if err != nil {
		log.Warn().Err(err).Msg("review call failed, using generator output")
		d.diag().Event("review failed, using generator output: %v", err)
		return nil, false
	}
	records, err := llm.ExtractRecords(raw, count)
	if err != nil {
		log.Warn().Err(err).Msg("review output unparsable, using generator output")
		d.diag().Event("review output unparsable, using generator output")
		return nil, false
	}
	d.diag().RawOutput(raw)
	return records, true
}

func (d *Driver) generate(ctx context.Context, m *metrics.RunMetrics, system, prompt string) (string, error) {
	start := d.now()
	raw, err := d.deps.Generator.Generate(ctx, out.GenerationRequest{
		System:    system,
		Prompt:    prompt,
		MaxTokens: d.cfg.MaxTokens,
	})
	m.RecordCall(d.now().Sub(start))
	return raw, err
}

// filter runs normalize, back-fill, the gate chain, dedup, the relaxed
// fallback and the final selection.
func (d *Driver) filter(ctx context.Context, rc *domain.RunContext, generated []domain.Candidate,
	report *RunReport, m *metrics.RunMetrics, log zerolog.Logger) []domain.Candidate {
	stop := m.Stage(StageNormalize)
	candidates := AssignMissingCategories(d.deps.Normalizer.Normalize(generated), rc.ActiveNames())
	stop()

	stop = m.Stage(StageFilter)
	res := d.deps.Filter.Apply(candidates, rc.History.Recent, diversity.Options{
		Active: rc.ActiveNames(),
		Target: rc.Target,
	})
	stop()
	d.recordDrops(report, res.Dropped, log)
	accepted := res.Accepted

	if d.deps.Dedup != nil && len(accepted) > 0 {
		stop = m.Stage(StageDedup)
		dd := d.deps.Dedup.Apply(ctx, rc, accepted)
		stop()
		report.DedupRan = !dd.Skipped
		if dd.Err != nil {
			d.diag().Event("similarity dedup skipped: %v", dd.Err)
		}
		d.recordDrops(report, dd.Dropped, log)
		accepted = dd.Accepted
	}

	stop = m.Stage(StageSelect)
	defer stop()

	if len(accepted) == 0 {
		accepted = d.deps.Filter.Relaxed(candidates)
		report.Relaxed = len(accepted) > 0
		if report.Relaxed {
			log.Info().Str("category", accepted[0].Category).Msg("relaxed acceptance used")
		}
	}

	if len(accepted) > rc.Target {
		var over []domain.Drop
		for _, c := range accepted[rc.Target:] {
			over = append(over, domain.Drop{Candidate: c, Reason: domain.DropOverTarget})
		}
		d.recordDrops(report, over, log)
		accepted = accepted[:rc.Target]
	}

	final, dropped := d.deps.Filter.FinalPass(accepted)
	d.recordDrops(report, dropped, log)
	return final
}

func (d *Driver) recordDrops(report *RunReport, drops []domain.Drop, log zerolog.Logger) {
	for _, drop := range drops {
		log.Debug().
			Str("reason", string(drop.Reason)).
			Str("detail", drop.Detail).
			Str("category", drop.Candidate.Category).
			Str("text", truncate(drop.Candidate.Text, 80)).
			Msg("candidate dropped")
	}
	for reason, n := range domain.CountDrops(drops) {
		report.DropCounts[reason] += n
	}
}

func (d *Driver) persist(ctx context.Context, rc *domain.RunContext, accepted []domain.Candidate,
	report *RunReport, log zerolog.Logger) error {
	created := d.now()
	batch := out.QueueBatch{RunID: rc.RunID, CreatedAt: created, Queue: accepted}

	records := make([]domain.HistoryRecord, 0, len(accepted))
	for _, c := range accepted {
		id, err := d.deps.IDs.Next()
		if err != nil {
			return apperr.InternalWithError(fmt.Errorf("history id: %w", err))
		}
		records = append(records, domain.NewHistoryRecord(id, rc.RunID, c, created))
	}

	path, err := d.deps.Queue.WriteQueue(ctx, batch)
	if err != nil {
		return err
	}
	if err := d.deps.History.Append(ctx, records); err != nil {
		// The queue file and its history lines exist together or not at all.
		if rmErr := d.deps.Queue.RemoveQueue(context.WithoutCancel(ctx), path); rmErr != nil {
			log.Error().Err(rmErr).Str("queue_path", path).Msg("queue file left behind without history")
		}
		return err
	}

	if d.deps.Archive != nil {
		if err := d.deps.Archive.Archive(ctx, batch); err != nil {
			log.Warn().Err(err).Msg("queue archive failed")
		}
	}
	if d.deps.Notifier != nil {
		event := out.QueueReadyEvent{
			RunID:      rc.RunID,
			QueuePath:  path,
			Count:      len(accepted),
			Categories: categoriesOf(accepted),
			CreatedAt:  created.UTC(),
		}
		if err := d.deps.Notifier.NotifyQueue(ctx, event); err != nil {
			log.Warn().Err(err).Msg("queue notification failed")
		}
	}

	report.Outcome = domain.OutcomeAccepted
	report.Accepted = len(accepted)
	report.QueuePath = path
	report.Posts = accepted
	return nil
}

func (d *Driver) diag() out.DiagnosticSink {
	if d.deps.Diagnostics == nil {
		return nopDiagnostics{}
	}
	return d.deps.Diagnostics
}

func (d *Driver) flushDiagnostics(log zerolog.Logger) {
	if err := d.diag().Flush(); err != nil {
		log.Warn().Err(err).Msg("diagnostics not written")
	}
}

type nopDiagnostics struct{}

func (nopDiagnostics) Begin(string)         {}
func (nopDiagnostics) RawOutput(string)     {}
func (nopDiagnostics) Event(string, ...any) {}
func (nopDiagnostics) Flush() error         { return nil }

// AssignMissingCategories gives every candidate without a usable category
// the next required category no candidate uses yet, in order. When none is
// left the first required category is used. Blank candidates are left alone.
func AssignMissingCategories(candidates []domain.Candidate, required []string) []domain.Candidate {
	if len(required) == 0 {
		return candidates
	}

	used := make(map[string]bool, len(candidates))
	for i := range candidates {
		used[candidates[i].CategoryKey()] = true
	}
	var remaining []string
	for _, name := range required {
		if !used[domain.CategoryKey(name)] {
			remaining = append(remaining, strings.TrimSpace(name))
		}
	}

	assigned := make([]domain.Candidate, len(candidates))
	for i, c := range candidates {
		if !c.HasCategory() && strings.TrimSpace(c.Text) != "" {
			if len(remaining) > 0 {
				c.Category = remaining[0]
				remaining = remaining[1:]
			} else {
				c.Category = strings.TrimSpace(required[0])
			}
		}
		assigned[i] = c
	}
	return assigned
}

func categoriesOf(cands []domain.Candidate) []string {
	names := make([]string, len(cands))
	for i, c := range cands {
		names[i] = c.Category
	}
	return names
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
