package ces

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Fixed CES weights. Comments and shares signal active engagement, follows
// signal conversion, so they count far more than passive likes/collects.
const (
	weightLike    = 1
	weightCollect = 1
	weightComment = 4
	weightShare   = 4
	weightFollow  = 8
)

// ComputeScore normalizes the item's raw engagement counts and computes its
// Content Engagement Score:
//
//	ces = like*1 + collect*1 + comment*4 + share*4 + follow*8
//
// The follow count defaults to 0; not every source carries it. The input is
// cloned, never mutated. TimeWeight/WeightedCES are left for ApplyTimeWeight.
func ComputeScore(item Item) Enriched {
	sig := Signals{
		Like:    NormalizeCount(item.LikedCount),
		Collect: NormalizeCount(item.CollectedCount),
		Comment: NormalizeCount(item.CommentCount),
		Share:   NormalizeCount(item.ShareCount),
		Follow:  NormalizeCount(item.FollowCount),
	}

	ces := sig.Like*weightLike + sig.Collect*weightCollect +
		sig.Comment*weightComment + sig.Share*weightShare + sig.Follow*weightFollow

	return Enriched{
		Item:    item.Clone(),
		Signals: sig,
		CES:     float64(ces),
	}
}

// ApplyTimeWeight overlays an exponential half-life decay on an already
// scored item: weight = 0.5^(hoursAgo/halfLife). Items without a usable
// timestamp keep full weight, as does everything when halfLifeHours <= 0.
// This is a second, composable enrichment stage; it only assumes CES is set.
func ApplyTimeWeight(e *Enriched, halfLifeHours float64, now time.Time) {
	var weight float64 = 1.0
	if hoursAgo, ok := e.HoursAgo(now); ok {
		weight = timeDecayWeight(hoursAgo, halfLifeHours)
	}
	e.TimeWeight = weight
	e.WeightedCES = e.CES * weight
}

func timeDecayWeight(hoursAgo, halfLifeHours float64) float64 {
	if halfLifeHours <= 0 {
		return 1.0
	}
	return math.Pow(0.5, hoursAgo/halfLifeHours)
}

// epochMSToHoursAgo converts a millisecond epoch (string or numeric) into an
// age in hours. Non-positive or unparsable values report ok=false. Future
// timestamps clamp to age 0.
func epochMSToHoursAgo(v any, now time.Time) (float64, bool) {
	ms, ok := epochMS(v)
	if !ok || ms <= 0 {
		return 0, false
	}
	deltaMS := now.UnixMilli() - ms
	if deltaMS < 0 {
		deltaMS = 0
	}
	return float64(deltaMS) / 1000.0 / 3600.0, true
}

func epochMS(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float32:
		return int64(n), true
	case float64:
		return int64(n), true
	case string:
		ms, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return 0, false
		}
		return ms, true
	default:
		return 0, false
	}
}
