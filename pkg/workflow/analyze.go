package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// Analysis is the output of the content-analysis workflow: a flattened tag
// string and a structural breakdown of the content.
type Analysis struct {
	Tags               string
	ContentDisassembly map[string]any
	Usage              Usage
}

// AnalyzeContent runs the content-analysis workflow on one item.
func (c *Client) AnalyzeContent(ctx context.Context, contentInfo any) (Analysis, error) {
	info, err := json.Marshal(contentInfo)
	if err != nil {
		return Analysis{}, fmt.Errorf("marshal content info: %w", err)
	}

	outputs, usage, err := c.Run(ctx, map[string]any{
		"content_info": string(info),
	}, "workflow")
	if err != nil {
		return Analysis{}, err
	}

	an := Analysis{
		Tags:               flattenTags(outputs["tags"]),
		ContentDisassembly: ParseMixed(outputs["content_disassembly"]),
		Usage:              usage,
	}
	if an.ContentDisassembly == nil {
		an.ContentDisassembly = map[string]any{}
	}
	return an, nil
}

// flattenTags normalizes the workflow's tags output to a single joined
// string. Depending on the prompt version it arrives as a plain string, a
// list, or a {"tags": ...} wrapper, possibly JSON-encoded inside a string.
func flattenTags(v any) string {
	if v == nil {
		return ""
	}

	if obj := ParseMixed(v); obj != nil {
		if inner, ok := obj["tags"]; ok {
			return flattenTags(inner)
		}
	}

	switch t := v.(type) {
	case string:
		cleaned := StripThink(t)
		// A JSON list hiding in a string.
		if strings.HasPrefix(cleaned, "[") {
			var list []any
			if err := json.Unmarshal([]byte(cleaned), &list); err == nil {
				return joinTags(list)
			}
		}
		return cleaned
	case []any:
		return joinTags(t)
	case []string:
		return strings.Join(t, "，")
	default:
		return fmt.Sprintf("%v", v)
	}
}

func joinTags(list []any) string {
	parts := make([]string, 0, len(list))
	for _, x := range list {
		parts = append(parts, fmt.Sprintf("%v", x))
	}
	return strings.Join(parts, "，")
}
