package ces

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// Magnitude suffixes used by Chinese social platforms for large counts.
const (
	suffixWan = "万" // ten thousand
	suffixYi  = "亿" // hundred million
)

// NormalizeCount parses the count formats content sources actually emit:
//
//	"5.6万"  -> 56000
//	"1.1亿"  -> 110000000
//	"2,380"  -> 2380
//	1234     -> 1234
//	nil      -> 0
//
// Anything unparsable normalizes to 0; this never fails.
func NormalizeCount(raw any) int {
	switch v := raw.(type) {
	case nil:
		return 0
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float32:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0
		}
		return int(f)
	case string:
		return parseCountString(v)
	default:
		return parseCountString(fmt.Sprintf("%v", raw))
	}
}

func parseCountString(s string) int {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0
	}

	mult := 1.0
	switch {
	case strings.HasSuffix(s, suffixWan):
		mult = 10_000
		s = strings.TrimSuffix(s, suffixWan)
	case strings.HasSuffix(s, suffixYi):
		mult = 100_000_000
		s = strings.TrimSuffix(s, suffixYi)
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return int(f * mult)
}
