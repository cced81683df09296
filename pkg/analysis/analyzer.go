// Package analysis orchestrates the full content-analysis task: CES
// ranking, external evaluation filtering, external content analysis, and
// result reporting.
package analysis

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/elonfeng/notepulse/pkg/ces"
	"github.com/elonfeng/notepulse/pkg/workflow"
)

// Evaluator scores one item against the task keywords (opaque external
// workflow).
type Evaluator interface {
	EvaluateContent(ctx context.Context, contentInfo any, keywords string) (workflow.Evaluation, error)
}

// ContentAnalyzer produces tags and a structural breakdown for one item
// (opaque external workflow).
type ContentAnalyzer interface {
	AnalyzeContent(ctx context.Context, contentInfo any) (workflow.Analysis, error)
}

// Reporter delivers finished results downstream.
type Reporter interface {
	Enabled() bool
	Report(ctx context.Context, taskID string, data any) (bool, string, error)
}

// Task is one submitted batch of content items.
type Task struct {
	TaskID   string     `json:"task_id"`
	Keywords string     `json:"keywords"`
	Items    []ces.Item `json:"content_info"`
}

// Summary is what a finished task reports back to its submitter.
type Summary struct {
	TaskID     string `json:"task_id"`
	NotesIn    int    `json:"notes_in"`
	Kept       int    `json:"kept"`
	CallbackOK bool   `json:"callback_ok"`
}

// CESScore is the engagement-score slice of a result.
type CESScore struct {
	CES         float64 `json:"ces"`
	WeightedCES float64 `json:"weighted_ces"`
	Rank        int     `json:"rank"`
}

// NoteAnalysis bundles everything the pipeline learned about one item.
type NoteAnalysis struct {
	ContentScore       map[string]any `json:"content_score"`
	ConsistencyChecker map[string]any `json:"consistency_checker"`
	CESScore           CESScore       `json:"CES_score"`
	Analysis           map[string]any `json:"analysis"`
	LLMUsage           workflow.Usage `json:"llm_usage"`
	AnalyzedAt         string         `json:"analyzed_at"`
	NoteID             string         `json:"note_id"`
}

// AnalyzedItem is one fully analyzed item as delivered to the callback.
type AnalyzedItem struct {
	TaskID    string       `json:"task_id"`
	Original  ces.Enriched `json:"original"`
	Tags      string       `json:"tags"`
	CreatedAt string       `json:"created_at"`
	// The receiving endpoint expects this exact (misspelled) key.
	NoteAnalysis NoteAnalysis `json:"notes_analsys"`
}

// Config tunes the orchestration around the CES core.
type Config struct {
	// MinContentScore is the evaluation workflow score an item must exceed
	// (strictly) to proceed to the analysis stage.
	MinContentScore float64
	// MaxConcurrency bounds the per-task fan-out to the workflows.
	MaxConcurrency int
	// HalfLifeHours feeds the CES time decay during ranking.
	HalfLifeHours float64
	// YieldEvery feeds the CES pipeline's cooperative yield interval.
	YieldEvery int
}

// DefaultConfig mirrors the production defaults.
func DefaultConfig() Config {
	return Config{
		MinContentScore: 80,
		MaxConcurrency:  8,
		HalfLifeHours:   48,
		YieldEvery:      100,
	}
}

func (c Config) withDefaults() Config {
	if c.MinContentScore == 0 {
		c.MinContentScore = 80
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 8
	}
	if c.HalfLifeHours == 0 {
		c.HalfLifeHours = 48
	}
	if c.YieldEvery <= 0 {
		c.YieldEvery = 100
	}
	return c
}

// Analyzer runs tasks end to end. Workflow failures never fail a task;
// affected items are simply dropped from the results.
type Analyzer struct {
	evaluator Evaluator
	analyzer  ContentAnalyzer
	reporter  Reporter
	cfg       Config
	log       *logrus.Logger
	now       func() time.Time
}

// New creates an Analyzer. reporter may be nil when no callback is
// configured; log defaults to the standard logger.
func New(evaluator Evaluator, contentAnalyzer ContentAnalyzer, reporter Reporter, cfg Config, log *logrus.Logger) *Analyzer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Analyzer{
		evaluator: evaluator,
		analyzer:  contentAnalyzer,
		reporter:  reporter,
		cfg:       cfg.withDefaults(),
		log:       log,
		now:       time.Now,
	}
}

// RankItems runs the CES score-and-sort stage on its own: decay on,
// thresholds zero, ranks assigned by (weighted_ces, ces) descending.
func (a *Analyzer) RankItems(ctx context.Context, items []ces.Item) ([]ces.Enriched, error) {
	cfg := ces.DefaultFilterConfig()
	cfg.HalfLifeHours = a.cfg.HalfLifeHours
	cfg.YieldEvery = a.cfg.YieldEvery

	enriched, err := ces.ScoreAndFilter(ctx, items, cfg)
	if err != nil {
		return nil, err
	}
	ces.RankByEngagement(enriched)
	return enriched, nil
}

// HandleTask runs the four pipeline steps over one task and returns the
// summary plus the per-item results for persistence. The only error it
// returns is context cancellation.
func (a *Analyzer) HandleTask(ctx context.Context, task Task) (Summary, []AnalyzedItem, error) {
	log := a.log.WithFields(logrus.Fields{"task_id": task.TaskID, "notes_in": len(task.Items)})

	// Step 1: CES scoring and ranking.
	log.Info("step 1: CES scoring and ranking")
	ranked, err := a.RankItems(ctx, task.Items)
	if err != nil {
		return Summary{}, nil, err
	}

	// Step 2: content evaluation fan-out; keep items above the score
	// threshold that also pass the consistency check.
	log.WithField("ranked", len(ranked)).Info("step 2: content evaluation")
	evals := make([]workflow.Evaluation, len(ranked))
	keep := make([]bool, len(ranked))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.MaxConcurrency)
	for i := range ranked {
		g.Go(func() error {
			ev, err := a.evaluator.EvaluateContent(gctx, ranked[i], task.Keywords)
			if err != nil {
				log.WithError(err).WithField("note_id", ranked[i].NoteID).Warn("evaluation failed, dropping item")
				return nil
			}
			evals[i] = ev
			score, ok := ev.Score()
			keep[i] = ok && score > a.cfg.MinContentScore && ev.Consistent()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Summary{}, nil, err
	}
	if err := ctx.Err(); err != nil {
		return Summary{}, nil, err
	}

	var kept []int
	for i, k := range keep {
		if k {
			kept = append(kept, i)
		}
	}

	// Step 3: content analysis fan-out over survivors.
	log.WithField("kept", len(kept)).Info("step 3: content analysis")
	results := make([]AnalyzedItem, len(kept))
	ok := make([]bool, len(kept))

	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.MaxConcurrency)
	for slot, idx := range kept {
		g.Go(func() error {
			an, err := a.analyzer.AnalyzeContent(gctx, ranked[idx])
			if err != nil {
				log.WithError(err).WithField("note_id", ranked[idx].NoteID).Warn("analysis failed, dropping item")
				return nil
			}
			results[slot] = a.assemble(task.TaskID, ranked[idx], evals[idx], an)
			ok[slot] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Summary{}, nil, err
	}
	if err := ctx.Err(); err != nil {
		return Summary{}, nil, err
	}

	analyzed := results[:0]
	for slot, good := range ok {
		if good {
			analyzed = append(analyzed, results[slot])
		}
	}

	// Step 4: callback.
	callbackOK := false
	if a.reporter != nil && a.reporter.Enabled() {
		log.WithField("results", len(analyzed)).Info("step 4: callback delivery")
		delivered, body, err := a.reporter.Report(ctx, task.TaskID, analyzed)
		if err != nil {
			log.WithError(err).Warn("callback delivery failed")
		} else if !delivered {
			log.WithField("response", body).Warn("callback rejected")
		}
		callbackOK = err == nil && delivered
	}

	return Summary{
		TaskID:     task.TaskID,
		NotesIn:    len(task.Items),
		Kept:       len(analyzed),
		CallbackOK: callbackOK,
	}, analyzed, nil
}

func (a *Analyzer) assemble(taskID string, item ces.Enriched, ev workflow.Evaluation, an workflow.Analysis) AnalyzedItem {
	now := a.now()
	return AnalyzedItem{
		TaskID:    taskID,
		Original:  item,
		Tags:      an.Tags,
		CreatedAt: now.Format("2006-01-02T15:04:05.000000"),
		NoteAnalysis: NoteAnalysis{
			ContentScore:       ev.ContentScore,
			ConsistencyChecker: ev.ConsistencyChecker,
			CESScore: CESScore{
				CES:         item.CES,
				WeightedCES: item.WeightedCES,
				Rank:        item.Rank,
			},
			Analysis: map[string]any{
				"tags":                an.Tags,
				"content_disassembly": an.ContentDisassembly,
			},
			LLMUsage:   ev.Usage.Add(an.Usage),
			AnalyzedAt: now.UTC().Format("2006-01-02T15:04:05.000000Z07:00"),
			NoteID:     item.NoteID,
		},
	}
}
