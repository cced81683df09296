package ces

import (
	"time"

	"github.com/goccy/go-json"
)

// Item is one piece of content flowing through the scoring pipeline.
// Sources deliver loosely typed records: counts arrive as plain numbers,
// comma-grouped strings, or magnitude shorthand ("5.6万"), and timestamps
// as millisecond epochs in either string or numeric form. The fields the
// pipeline reads are explicit; everything else rides along in Extra so
// enrichment augments the record instead of replacing it.
type Item struct {
	NoteID  string
	Type    string
	Title   string
	Desc    string
	TagList string

	LikedCount     any
	CollectedCount any
	CommentCount   any
	ShareCount     any
	FollowCount    any

	LastUpdateTime any
	Time           any
	LastModifyTS   any

	Extra map[string]any
}

// Known JSON keys consumed by the pipeline. Anything else lands in Extra.
const (
	keyNoteID         = "note_id"
	keyType           = "type"
	keyTitle          = "title"
	keyDesc           = "desc"
	keyTagList        = "tag_list"
	keyLikedCount     = "liked_count"
	keyCollectedCount = "collected_count"
	keyCommentCount   = "comment_count"
	keyShareCount     = "share_count"
	keyFollowCount    = "follow_count"
	keyLastUpdateTime = "last_update_time"
	keyTime           = "time"
	keyLastModifyTS   = "last_modify_ts"
)

// UnmarshalJSON splits the known keys out of a free-form record and keeps
// the remainder in Extra untouched.
func (it *Item) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	it.fromMap(raw)
	return nil
}

// MarshalJSON re-merges the typed fields with Extra so a round-trip
// preserves every field the source sent.
func (it Item) MarshalJSON() ([]byte, error) {
	return json.Marshal(it.toMap())
}

func (it *Item) fromMap(raw map[string]any) {
	extra := make(map[string]any)
	for k, v := range raw {
		switch k {
		case keyNoteID:
			it.NoteID = stringify(v)
		case keyType:
			it.Type = stringify(v)
		case keyTitle:
			it.Title = stringify(v)
		case keyDesc:
			it.Desc = stringify(v)
		case keyTagList:
			it.TagList = stringify(v)
		case keyLikedCount:
			it.LikedCount = v
		case keyCollectedCount:
			it.CollectedCount = v
		case keyCommentCount:
			it.CommentCount = v
		case keyShareCount:
			it.ShareCount = v
		case keyFollowCount:
			it.FollowCount = v
		case keyLastUpdateTime:
			it.LastUpdateTime = v
		case keyTime:
			it.Time = v
		case keyLastModifyTS:
			it.LastModifyTS = v
		default:
			extra[k] = v
		}
	}
	it.Extra = extra
}

func (it Item) toMap() map[string]any {
	m := make(map[string]any, len(it.Extra)+13)
	for k, v := range it.Extra {
		m[k] = v
	}
	if it.NoteID != "" {
		m[keyNoteID] = it.NoteID
	}
	if it.Type != "" {
		m[keyType] = it.Type
	}
	if it.Title != "" {
		m[keyTitle] = it.Title
	}
	if it.Desc != "" {
		m[keyDesc] = it.Desc
	}
	if it.TagList != "" {
		m[keyTagList] = it.TagList
	}
	putIfSet(m, keyLikedCount, it.LikedCount)
	putIfSet(m, keyCollectedCount, it.CollectedCount)
	putIfSet(m, keyCommentCount, it.CommentCount)
	putIfSet(m, keyShareCount, it.ShareCount)
	putIfSet(m, keyFollowCount, it.FollowCount)
	putIfSet(m, keyLastUpdateTime, it.LastUpdateTime)
	putIfSet(m, keyTime, it.Time)
	putIfSet(m, keyLastModifyTS, it.LastModifyTS)
	return m
}

func putIfSet(m map[string]any, key string, v any) {
	if v != nil {
		m[key] = v
	}
}

// Clone returns a deep-enough copy: the Extra map is duplicated so
// enrichment never touches the caller's record.
func (it Item) Clone() Item {
	out := it
	if it.Extra != nil {
		out.Extra = make(map[string]any, len(it.Extra))
		for k, v := range it.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// HoursAgo resolves the item's age in hours relative to now, trying the
// timestamp fields in fixed priority order: last_update_time, then time,
// then last_modify_ts. A field that is missing or does not parse to a
// positive millisecond epoch is skipped and the next one is tried. The
// second return is false when no field yields a usable timestamp. Ages of
// items timestamped in the future clamp to zero.
func (it Item) HoursAgo(now time.Time) (float64, bool) {
	for _, v := range []any{it.LastUpdateTime, it.Time, it.LastModifyTS} {
		if v == nil {
			continue
		}
		if h, ok := epochMSToHoursAgo(v, now); ok {
			return h, true
		}
	}
	return 0, false
}

// Signals holds the normalized engagement counts behind a score.
type Signals struct {
	Like    int `json:"like"`
	Collect int `json:"collect"`
	Comment int `json:"comment"`
	Share   int `json:"share"`
	Follow  int `json:"follow"`
}

// Enriched is an Item augmented with its engagement score. Rank stays 0
// until RankByEngagement assigns positions.
type Enriched struct {
	Item

	Signals     Signals
	CES         float64
	TimeWeight  float64
	WeightedCES float64
	Rank        int
}

// MarshalJSON emits the original record's fields plus the derived ones.
func (e Enriched) MarshalJSON() ([]byte, error) {
	m := e.Item.toMap()
	m["signals"] = e.Signals
	m["ces"] = e.CES
	m["time_weight"] = e.TimeWeight
	m["weighted_ces"] = e.WeightedCES
	if e.Rank > 0 {
		m["rank"] = e.Rank
	}
	return json.Marshal(m)
}

// UnmarshalJSON restores an enriched record, peeling the derived fields
// back off the flat map.
func (e *Enriched) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw["signals"]; ok {
		if sm, ok := v.(map[string]any); ok {
			e.Signals = Signals{
				Like:    NormalizeCount(sm["like"]),
				Collect: NormalizeCount(sm["collect"]),
				Comment: NormalizeCount(sm["comment"]),
				Share:   NormalizeCount(sm["share"]),
				Follow:  NormalizeCount(sm["follow"]),
			}
		}
		delete(raw, "signals")
	}
	e.CES = popFloat(raw, "ces")
	e.TimeWeight = popFloat(raw, "time_weight")
	e.WeightedCES = popFloat(raw, "weighted_ces")
	e.Rank = int(popFloat(raw, "rank"))
	e.Item.fromMap(raw)
	return nil
}

func popFloat(m map[string]any, key string) float64 {
	v, ok := m[key]
	if !ok {
		return 0
	}
	delete(m, key)
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		f, _ := n.Float64()
		return f
	}
	return 0
}

func stringify(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
