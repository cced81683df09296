// Package ingest reads content items from local files and remote feeds.
package ingest

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/goccy/go-json"

	"github.com/elonfeng/notepulse/pkg/ces"
)

// ReadItems decodes a JSON array of items from r.
// A top-level {"content_info": [...]} wrapper is also accepted.
func ReadItems(r io.Reader) ([]ces.Item, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read items: %w", err)
	}

	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		var wrapper struct {
			ContentInfo []ces.Item `json:"content_info"`
		}
		if err := json.Unmarshal(data, &wrapper); err != nil {
			return nil, fmt.Errorf("parse items: %w", err)
		}
		return wrapper.ContentInfo, nil
	}

	var items []ces.Item
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("parse items: %w", err)
	}
	return items, nil
}

// ReadItemsFile decodes items from a JSON file.
func ReadItemsFile(path string) ([]ces.Item, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	items, err := ReadItems(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return items, nil
}
