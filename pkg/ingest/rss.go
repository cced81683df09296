package ingest

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/elonfeng/notepulse/pkg/ces"
)

// FeedReader pulls RSS/Atom feeds and maps entries to content items so
// public feeds can be run through the scoring pipeline.
type FeedReader struct {
	client *http.Client
	parser *gofeed.Parser
}

// NewFeedReader creates a FeedReader.
func NewFeedReader() *FeedReader {
	return &FeedReader{
		client: &http.Client{Timeout: 30 * time.Second},
		parser: gofeed.NewParser(),
	}
}

// Fetch downloads and converts a single feed.
func (f *FeedReader) Fetch(ctx context.Context, url string) ([]ces.Item, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create rss request %s: %w", url, err)
	}
	req.Header.Set("User-Agent", "notepulse/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch rss %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rss %s status %d", url, resp.StatusCode)
	}

	parsed, err := f.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse rss %s: %w", url, err)
	}
	return FeedToItems(parsed), nil
}

// FeedToItems converts parsed feed entries into content items. Feed
// entries carry no engagement counts, so scores come out zero until the
// counts are filled in from elsewhere; timestamps and text still flow
// through filtering and decay.
func FeedToItems(feed *gofeed.Feed) []ces.Item {
	items := make([]ces.Item, 0, len(feed.Items))
	for _, entry := range feed.Items {
		item := ces.Item{
			NoteID:  entryID(feed, entry),
			Type:    "normal",
			Title:   entry.Title,
			Desc:    entry.Description,
			TagList: strings.Join(entry.Categories, ","),
			Extra:   map[string]any{"note_url": entry.Link},
		}

		published := entry.PublishedParsed
		if published == nil {
			published = entry.UpdatedParsed
		}
		if published != nil {
			item.LastUpdateTime = published.UTC().UnixMilli()
		}

		items = append(items, item)
	}
	return items
}

func entryID(feed *gofeed.Feed, entry *gofeed.Item) string {
	if entry.GUID != "" {
		return entry.GUID
	}
	if entry.Link != "" {
		return entry.Link
	}
	return fmt.Sprintf("%s#%s", feed.Title, entry.Title)
}
