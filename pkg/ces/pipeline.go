package ces

import (
	"context"
	"runtime"
	"sort"
	"time"
)

// Yielder hands control back to the host scheduler between batches so a
// large run cannot monopolize it. A non-nil error aborts the run; the
// default yielder only reports context cancellation.
type Yielder func(ctx context.Context) error

func defaultYield(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	runtime.Gosched()
	return nil
}

// Pipeline runs the score-and-filter stages over a batch of items. The
// zero value is usable; Yield and Now exist as hooks for hosts and tests.
type Pipeline struct {
	// Yield is invoked after every FilterConfig.YieldEvery items inside
	// the filter and enrichment loops. Defaults to a context check plus
	// runtime.Gosched.
	Yield Yielder

	// Now supplies the reference time for age computations. Defaults to
	// time.Now.
	Now func() time.Time
}

// ScoreAndFilter runs the full pipeline with default hooks.
func ScoreAndFilter(ctx context.Context, items []Item, cfg FilterConfig) ([]Enriched, error) {
	return (&Pipeline{}).Run(ctx, items, cfg)
}

// Run applies the stages in fixed order: basic filter, enrichment
// (score + optional time decay), threshold filter, stable descending sort
// by weighted CES, then percent/top-K truncation. Each stage sees only the
// survivors of the previous one.
//
// Malformed items never fail the run: bad counts score as 0 and bad
// timestamps degrade to full time weight (or are dropped by the recency
// filter when one is configured). A nil or empty input produces an empty
// result. The only error Run returns is the yielder's, which by default
// means the context was cancelled between yield points.
func (p *Pipeline) Run(ctx context.Context, items []Item, cfg FilterConfig) ([]Enriched, error) {
	if len(items) == 0 {
		return []Enriched{}, nil
	}

	yield := p.Yield
	if yield == nil {
		yield = defaultYield
	}
	nowFn := p.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	now := nowFn()

	// Stage 1: basic filter (type / keywords / recency).
	filtered := make([]Item, 0, len(items))
	for idx, item := range items {
		if passesBasicFilters(item, cfg, now) {
			filtered = append(filtered, item)
		}
		if cfg.YieldEvery > 0 && (idx+1)%cfg.YieldEvery == 0 {
			if err := yield(ctx); err != nil {
				return nil, err
			}
		}
	}
	if len(filtered) == 0 {
		return []Enriched{}, nil
	}

	// Stage 2: enrichment. Independent yield counter from stage 1.
	enriched := make([]Enriched, 0, len(filtered))
	for idx, item := range filtered {
		e := ComputeScore(item)
		if cfg.EnableTimeDecay {
			ApplyTimeWeight(&e, cfg.HalfLifeHours, now)
		} else {
			e.TimeWeight = 1.0
			e.WeightedCES = e.CES
		}
		enriched = append(enriched, e)

		if cfg.YieldEvery > 0 && (idx+1)%cfg.YieldEvery == 0 {
			if err := yield(ctx); err != nil {
				return nil, err
			}
		}
	}

	// Stage 3: score thresholds.
	kept := enriched[:0]
	for _, e := range enriched {
		if e.CES >= cfg.MinCES && e.WeightedCES >= cfg.MinWeightedCES {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		return []Enriched{}, nil
	}

	// Stage 4: descending by weighted CES, stable so equal scores keep
	// their input order.
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].WeightedCES > kept[j].WeightedCES
	})

	// Stage 5: truncation. Percent cut first, then top-K; out-of-range
	// values disable the corresponding step rather than erroring.
	if cfg.TopPercent > 0 && cfg.TopPercent < 1 {
		cut := int(float64(len(kept)) * cfg.TopPercent)
		if cut < 1 {
			cut = 1
		}
		kept = kept[:cut]
	}
	if cfg.TopK > 0 && cfg.TopK < len(kept) {
		kept = kept[:cfg.TopK]
	}

	return kept, nil
}
