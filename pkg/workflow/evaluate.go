package workflow

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
)

// Evaluation is the verdict of the content-evaluation workflow: a quality
// score object plus a keyword-consistency check. Both arrive as free-form
// objects because the workflow prompt owns their exact shape.
type Evaluation struct {
	ContentScore       map[string]any
	ConsistencyChecker map[string]any
	Usage              Usage
}

// Score returns the numeric quality score, if the workflow produced one.
func (e Evaluation) Score() (float64, bool) {
	switch v := e.ContentScore["score"].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		var f float64
		if _, err := fmt.Sscanf(v, "%g", &f); err == nil {
			return f, true
		}
	}
	return 0, false
}

// Consistent reports whether the consistency checker passed the item.
func (e Evaluation) Consistent() bool {
	v, ok := e.ConsistencyChecker["result"].(bool)
	return ok && v
}

// EvaluateContent runs the content-evaluation workflow on one item. The
// item is serialized to a JSON string input, matching what the workflow
// prompt expects.
func (c *Client) EvaluateContent(ctx context.Context, contentInfo any, keywords string) (Evaluation, error) {
	info, err := json.Marshal(contentInfo)
	if err != nil {
		return Evaluation{}, fmt.Errorf("marshal content info: %w", err)
	}

	outputs, usage, err := c.Run(ctx, map[string]any{
		"content_info": string(info),
		"keywords":     keywords,
	}, "content_analysis")
	if err != nil {
		return Evaluation{}, err
	}

	ev := Evaluation{
		ContentScore:       ParseMixed(outputs["content_score"]),
		ConsistencyChecker: ParseMixed(outputs["consistency_checker"]),
		Usage:              usage,
	}
	if ev.ContentScore == nil {
		ev.ContentScore = map[string]any{}
	}
	if ev.ConsistencyChecker == nil {
		ev.ConsistencyChecker = map[string]any{}
	}
	return ev, nil
}
