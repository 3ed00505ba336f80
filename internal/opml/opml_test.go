package opml

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryan-buckman/gleaner/internal/model"
)

const sample = `<?xml version="1.0" encoding="UTF-8"?>
<opml version="2.0">
  <head><title>Subscriptions</title></head>
  <body>
    <outline text="Tech">
      <outline text="Go" title="Go Blog" type="rss" xmlUrl="https://go.dev/blog/feed.atom"/>
      <outline text="Languages">
        <outline text="Rust" type="rss" xmlUrl="https://blog.rust-lang.org/feed.xml"/>
      </outline>
    </outline>
    <outline text="Empty folder"/>
    <outline text="Unfiled" type="rss" xmlUrl="https://example.com/rss"/>
  </body>
</opml>`

func TestParse(t *testing.T) {
	entries, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)

	want := []FeedEntry{
		{FolderPath: []string{"Tech"}, Title: "Go Blog", URL: "https://go.dev/blog/feed.atom"},
		{FolderPath: []string{"Tech", "Languages"}, Title: "Rust", URL: "https://blog.rust-lang.org/feed.xml"},
		{FolderPath: []string{}, Title: "Unfiled", URL: "https://example.com/rss"},
	}
	if diff := cmp.Diff(want, entries); diff != "" {
		t.Errorf("Parse mismatch (-want +got):\n%s", diff)
	}
}

func TestParseInvalid(t *testing.T) {
	_, err := Parse(strings.NewReader("<opml><body>"))
	assert.Error(t, err)
}

func TestExportRoundTrip(t *testing.T) {
	subs := &model.Subscriptions{
		Folders: []model.FolderWithFeeds{{
			Folder: model.Folder{ID: 1, Name: "Tech"},
			Folders: []model.FolderWithFeeds{{
				Folder: model.Folder{ID: 2, Name: "Languages"},
				Feeds:  []model.Feed{{Title: "Rust", URL: "https://blog.rust-lang.org/feed.xml"}},
			}},
			Feeds: []model.Feed{{Title: "Go Blog", URL: "https://go.dev/blog/feed.atom"}},
		}},
		Unfiled: []model.Feed{{Title: "Unfiled", URL: "https://example.com/rss"}},
	}
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	data, err := Export("Gleaner", subs, now)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("<?xml")))
	assert.Contains(t, string(data), now.Format(time.RFC1123Z))

	entries, err := Parse(bytes.NewReader(data))
	require.NoError(t, err)
	want := []FeedEntry{
		{FolderPath: []string{"Tech", "Languages"}, Title: "Rust", URL: "https://blog.rust-lang.org/feed.xml"},
		{FolderPath: []string{"Tech"}, Title: "Go Blog", URL: "https://go.dev/blog/feed.atom"},
		{FolderPath: []string{}, Title: "Unfiled", URL: "https://example.com/rss"},
	}
	if diff := cmp.Diff(want, entries); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

type memStore struct {
	folders map[string]int64
	feeds   map[string]*int64
}

func folderKey(name string, parent *int64) string {
	if parent == nil {
		return name
	}
	return fmt.Sprintf("%s@%d", name, *parent)
}

func (m *memStore) GetOrCreateFolder(_ context.Context, name string, parent *int64) (int64, error) {
	k := folderKey(name, parent)
	if id, ok := m.folders[k]; ok {
		return id, nil
	}
	id := int64(len(m.folders) + 1)
	m.folders[k] = id
	return id, nil
}

func (m *memStore) GetOrCreateFeed(_ context.Context, folder *int64, _, url string) (int64, bool, error) {
	if _, ok := m.feeds[url]; ok {
		return 0, false, nil
	}
	m.feeds[url] = folder
	return int64(len(m.feeds)), true, nil
}

func TestImport(t *testing.T) {
	entries, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)
	store := &memStore{folders: map[string]int64{}, feeds: map[string]*int64{}}

	res, err := Import(context.Background(), store, entries)
	require.NoError(t, err)
	assert.Equal(t, ImportResult{Feeds: 3, Created: 3}, res)
	assert.Len(t, store.folders, 2)
	assert.Nil(t, store.feeds["https://example.com/rss"])
	require.NotNil(t, store.feeds["https://blog.rust-lang.org/feed.xml"])
	assert.Equal(t, store.folders["Languages@1"], *store.feeds["https://blog.rust-lang.org/feed.xml"])

	res, err = Import(context.Background(), store, entries)
	require.NoError(t, err)
	assert.Equal(t, ImportResult{Feeds: 3}, res)
}
