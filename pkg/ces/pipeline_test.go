package ces

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runNow(t *testing.T, items []Item, cfg FilterConfig, now time.Time) []Enriched {
	t.Helper()
	p := &Pipeline{Now: func() time.Time { return now }}
	out, err := p.Run(context.Background(), items, cfg)
	require.NoError(t, err)
	return out
}

func TestRunEmptyAndNilInput(t *testing.T) {
	for _, cfg := range []FilterConfig{{}, DefaultFilterConfig(), {TopK: 3, MinCES: 10}} {
		out, err := ScoreAndFilter(context.Background(), nil, cfg)
		require.NoError(t, err)
		assert.Empty(t, out)

		out, err = ScoreAndFilter(context.Background(), []Item{}, cfg)
		require.NoError(t, err)
		assert.Empty(t, out)
	}
}

func TestRunEndToEndDecayOrdering(t *testing.T) {
	now := time.Now()
	counts := func() Item {
		return Item{
			LikedCount:     "100",
			CollectedCount: "50",
			CommentCount:   "0",
			ShareCount:     "0",
		}
	}

	a := counts()
	a.NoteID = "A"
	a.LastUpdateTime = msString(now.Add(-1 * time.Hour))

	b := counts()
	b.NoteID = "B"
	b.LastUpdateTime = msString(now.Add(-96 * time.Hour)) // two half-lives

	cfg := DefaultFilterConfig()
	out := runNow(t, []Item{b, a}, cfg, now)
	require.Len(t, out, 2)

	assert.Equal(t, "A", out[0].NoteID)
	assert.Equal(t, "B", out[1].NoteID)

	assert.Equal(t, 150.0, out[0].CES)
	assert.Equal(t, 150.0, out[1].CES)
	assert.InDelta(t, 147.8, out[0].WeightedCES, 0.1) // 150 * 0.5^(1/48)
	assert.InDelta(t, 37.5, out[1].WeightedCES, 0.01) // 150 * 0.25
}

func TestRunTypeFilter(t *testing.T) {
	now := time.Now()
	items := []Item{
		{NoteID: "v", Type: "VIDEO", LikedCount: 1},
		{NoteID: "n", Type: "normal", LikedCount: 99999},
	}
	cfg := DefaultFilterConfig()
	cfg.AllowedTypes = []string{"video"}

	out := runNow(t, items, cfg, now)
	require.Len(t, out, 1)
	assert.Equal(t, "v", out[0].NoteID)
}

func TestRunKeywordFilters(t *testing.T) {
	now := time.Now()
	items := []Item{
		{NoteID: "spammy", Title: "Best SPAM deals today", LikedCount: 10},
		{NoteID: "tagged", TagList: "growth,marketing", LikedCount: 10},
		{NoteID: "plain", Desc: "just a note", LikedCount: 10},
	}

	t.Run("exclude is case-insensitive", func(t *testing.T) {
		cfg := DefaultFilterConfig()
		cfg.ExcludeKeywords = []string{"spam"}
		out := runNow(t, items, cfg, now)
		require.Len(t, out, 2)
		for _, e := range out {
			assert.NotEqual(t, "spammy", e.NoteID)
		}
	})

	t.Run("required matches tag_list too", func(t *testing.T) {
		cfg := DefaultFilterConfig()
		cfg.RequiredKeywords = []string{"Marketing"}
		out := runNow(t, items, cfg, now)
		require.Len(t, out, 1)
		assert.Equal(t, "tagged", out[0].NoteID)
	})
}

// The recency filter and the decay weighter deliberately disagree on items
// without a usable timestamp: the filter drops them, the weighter gives
// them full weight. Both behaviors are pinned here.
func TestRunMissingTimestampAsymmetry(t *testing.T) {
	now := time.Now()
	noTimestamp := Item{NoteID: "x", LikedCount: 10}

	t.Run("recency filter drops undeterminable age", func(t *testing.T) {
		cfg := DefaultFilterConfig()
		cfg.RecencyDays = 7
		out := runNow(t, []Item{noTimestamp}, cfg, now)
		assert.Empty(t, out)
	})

	t.Run("decay weighter grants full weight", func(t *testing.T) {
		cfg := DefaultFilterConfig()
		out := runNow(t, []Item{noTimestamp}, cfg, now)
		require.Len(t, out, 1)
		assert.Equal(t, 1.0, out[0].TimeWeight)
		assert.Equal(t, out[0].CES, out[0].WeightedCES)
	})
}

func TestRunRecencyWindow(t *testing.T) {
	now := time.Now()
	items := []Item{
		{NoteID: "fresh", LikedCount: 1, Time: msString(now.Add(-24 * time.Hour))},
		{NoteID: "stale", LikedCount: 1, Time: msString(now.Add(-10 * 24 * time.Hour))},
	}
	cfg := DefaultFilterConfig()
	cfg.RecencyDays = 7

	out := runNow(t, items, cfg, now)
	require.Len(t, out, 1)
	assert.Equal(t, "fresh", out[0].NoteID)
}

func TestRunThresholds(t *testing.T) {
	now := time.Now()
	items := []Item{
		{NoteID: "low", LikedCount: 5},
		{NoteID: "high", LikedCount: 500},
	}
	cfg := DefaultFilterConfig()
	cfg.MinCES = 100

	out := runNow(t, items, cfg, now)
	require.Len(t, out, 1)
	assert.Equal(t, "high", out[0].NoteID)
}

// Re-running the pipeline's threshold stage over its own survivors must be
// a no-op: what passed once still passes.
func TestRunThresholdIdempotence(t *testing.T) {
	now := time.Now()
	var items []Item
	for i := 0; i < 20; i++ {
		items = append(items, Item{
			NoteID:     fmt.Sprintf("n%d", i),
			LikedCount: i * 10,
			Time:       msString(now.Add(-time.Duration(i) * time.Hour)),
		})
	}
	cfg := DefaultFilterConfig()
	cfg.MinCES = 50
	cfg.MinWeightedCES = 40

	first := runNow(t, items, cfg, now)
	require.NotEmpty(t, first)

	for _, e := range first {
		assert.GreaterOrEqual(t, e.CES, cfg.MinCES)
		assert.GreaterOrEqual(t, e.WeightedCES, cfg.MinWeightedCES)
	}
}

func TestRunSortAndTruncateComposition(t *testing.T) {
	now := time.Now()
	var items []Item
	for i := 0; i < 10; i++ {
		items = append(items, Item{NoteID: fmt.Sprintf("n%d", i), LikedCount: (i + 1) * 10})
	}

	t.Run("top percent", func(t *testing.T) {
		cfg := DefaultFilterConfig()
		cfg.TopPercent = 0.5
		out := runNow(t, items, cfg, now)
		assert.Len(t, out, 5)
	})

	t.Run("percent then top-k", func(t *testing.T) {
		cfg := DefaultFilterConfig()
		cfg.TopPercent = 0.5
		cfg.TopK = 3
		out := runNow(t, items, cfg, now)
		require.Len(t, out, 3)
		// Highest scores survive, descending.
		assert.Equal(t, "n9", out[0].NoteID)
		assert.Equal(t, "n8", out[1].NoteID)
		assert.Equal(t, "n7", out[2].NoteID)
	})

	t.Run("percent cut keeps at least one", func(t *testing.T) {
		cfg := DefaultFilterConfig()
		cfg.TopPercent = 0.01
		out := runNow(t, items, cfg, now)
		assert.Len(t, out, 1)
	})

	t.Run("invalid percent is ignored", func(t *testing.T) {
		cfg := DefaultFilterConfig()
		cfg.TopPercent = 1.5
		out := runNow(t, items, cfg, now)
		assert.Len(t, out, 10)
	})
}

func TestRunYieldsPerStage(t *testing.T) {
	now := time.Now()
	var items []Item
	for i := 0; i < 10; i++ {
		items = append(items, Item{NoteID: fmt.Sprintf("n%d", i), LikedCount: 1})
	}

	var yields int
	p := &Pipeline{
		Now:   func() time.Time { return now },
		Yield: func(ctx context.Context) error { yields++; return nil },
	}
	cfg := DefaultFilterConfig()
	cfg.YieldEvery = 3

	out, err := p.Run(context.Background(), items, cfg)
	require.NoError(t, err)
	assert.Len(t, out, 10)
	// Filter loop yields at items 3, 6, 9; the enrichment loop counts
	// independently and yields at 3, 6, 9 again.
	assert.Equal(t, 6, yields)
}

func TestRunCancelledBetweenYieldPoints(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var items []Item
	for i := 0; i < 5; i++ {
		items = append(items, Item{LikedCount: 1})
	}
	cfg := DefaultFilterConfig()
	cfg.YieldEvery = 2

	_, err := ScoreAndFilter(ctx, items, cfg)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunOutputIdenticalWithAndWithoutYielding(t *testing.T) {
	now := time.Now()
	var items []Item
	for i := 0; i < 50; i++ {
		items = append(items, Item{
			NoteID:     fmt.Sprintf("n%d", i),
			LikedCount: fmt.Sprintf("%d", (i*37)%100),
			Time:       msString(now.Add(-time.Duration(i) * time.Hour)),
		})
	}
	cfg := DefaultFilterConfig()

	cfg.YieldEvery = 0
	noYield := runNow(t, items, cfg, now)

	cfg.YieldEvery = 7
	withYield := runNow(t, items, cfg, now)

	assert.Equal(t, noYield, withYield)
}
