package ces

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msString(t time.Time) string {
	return fmt.Sprintf("%d", t.UnixMilli())
}

func TestComputeScoreFormula(t *testing.T) {
	item := Item{
		LikedCount:     10,
		CollectedCount: 5,
		CommentCount:   2,
		ShareCount:     1,
		// follow_count absent on purpose
	}

	e := ComputeScore(item)

	assert.Equal(t, Signals{Like: 10, Collect: 5, Comment: 2, Share: 1, Follow: 0}, e.Signals)
	assert.Equal(t, 27.0, e.CES) // 10*1 + 5*1 + 2*4 + 1*4 + 0*8
}

func TestComputeScoreMalformedCountsScoreZero(t *testing.T) {
	e := ComputeScore(Item{
		LikedCount:   "not a number",
		CommentCount: nil,
	})
	assert.Equal(t, 0.0, e.CES)
}

func TestComputeScoreDoesNotMutateInput(t *testing.T) {
	item := Item{Title: "t", Extra: map[string]any{"k": "v"}}
	e := ComputeScore(item)
	e.Extra["k"] = "changed"
	assert.Equal(t, "v", item.Extra["k"])
}

func TestTimeDecayWeight(t *testing.T) {
	assert.Equal(t, 1.0, timeDecayWeight(0, 48))
	assert.InDelta(t, 0.5, timeDecayWeight(48, 48), 1e-9)
	assert.InDelta(t, 0.25, timeDecayWeight(96, 48), 1e-9)

	// Disabled half-life means full weight regardless of age.
	assert.Equal(t, 1.0, timeDecayWeight(1000, 0))
	assert.Equal(t, 1.0, timeDecayWeight(1000, -1))

	// Strictly decreasing in age, never reaching zero.
	prev := 1.0
	for h := 1.0; h < 1000; h += 37 {
		w := timeDecayWeight(h, 48)
		assert.Less(t, w, prev)
		assert.Greater(t, w, 0.0)
		prev = w
	}
}

func TestApplyTimeWeight(t *testing.T) {
	now := time.Now()

	t.Run("one half-life halves the score", func(t *testing.T) {
		e := ComputeScore(Item{
			LikedCount:     100,
			LastUpdateTime: msString(now.Add(-48 * time.Hour)),
		})
		ApplyTimeWeight(&e, 48, now)
		assert.InDelta(t, 0.5, e.TimeWeight, 1e-9)
		assert.InDelta(t, 50.0, e.WeightedCES, 1e-6)
	})

	t.Run("missing timestamp keeps full weight", func(t *testing.T) {
		e := ComputeScore(Item{LikedCount: 100})
		ApplyTimeWeight(&e, 48, now)
		assert.Equal(t, 1.0, e.TimeWeight)
		assert.Equal(t, 100.0, e.WeightedCES)
	})

	t.Run("future timestamp clamps to age zero", func(t *testing.T) {
		e := ComputeScore(Item{
			LikedCount:     100,
			LastUpdateTime: msString(now.Add(2 * time.Hour)),
		})
		ApplyTimeWeight(&e, 48, now)
		assert.Equal(t, 1.0, e.TimeWeight)
	})
}

func TestHoursAgoFieldPriority(t *testing.T) {
	now := time.Now()
	oneHour := msString(now.Add(-1 * time.Hour))
	tenHours := msString(now.Add(-10 * time.Hour))

	t.Run("last_update_time wins", func(t *testing.T) {
		item := Item{LastUpdateTime: oneHour, Time: tenHours}
		h, ok := item.HoursAgo(now)
		require.True(t, ok)
		assert.InDelta(t, 1.0, h, 0.01)
	})

	t.Run("falls through unparsable fields", func(t *testing.T) {
		item := Item{LastUpdateTime: "garbage", Time: "-5", LastModifyTS: tenHours}
		h, ok := item.HoursAgo(now)
		require.True(t, ok)
		assert.InDelta(t, 10.0, h, 0.01)
	})

	t.Run("float-format strings are not epochs", func(t *testing.T) {
		item := Item{Time: "1.73e12"}
		_, ok := item.HoursAgo(now)
		assert.False(t, ok)
	})

	t.Run("numeric epoch accepted", func(t *testing.T) {
		item := Item{Time: float64(now.Add(-2 * time.Hour).UnixMilli())}
		h, ok := item.HoursAgo(now)
		require.True(t, ok)
		assert.InDelta(t, 2.0, h, 0.01)
	})

	t.Run("no fields at all", func(t *testing.T) {
		_, ok := Item{}.HoursAgo(now)
		assert.False(t, ok)
	})
}
