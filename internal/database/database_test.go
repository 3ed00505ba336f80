package database

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryan-buckman/gleaner/internal/model"
	"github.com/bryan-buckman/gleaner/internal/retention"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "gleaner.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func mustFolder(t *testing.T, db *DB, name string, parent *int64) int64 {
	t.Helper()
	id, err := db.GetOrCreateFolder(context.Background(), name, parent)
	require.NoError(t, err)
	return id
}

func mustFeed(t *testing.T, db *DB, folder *int64, url string) int64 {
	t.Helper()
	id, created, err := db.GetOrCreateFeed(context.Background(), folder, url, url)
	require.NoError(t, err)
	require.True(t, created)
	return id
}

var base = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

func mustItem(t *testing.T, db *DB, feedID int64, guid string, published time.Time, state model.ItemState) *model.Item {
	t.Helper()
	it := &model.Item{
		FeedID:      feedID,
		GUID:        guid,
		Title:       "title " + guid,
		Link:        "https://example.com/" + guid,
		PublishedAt: published,
		FetchedAt:   base,
		State:       state,
	}
	_, created, err := db.AddItem(context.Background(), it)
	require.NoError(t, err)
	require.True(t, created)
	return it
}

func TestOpen(t *testing.T) {
	store, err := Open("sqlite", filepath.Join(t.TempDir(), "open.db"))
	require.NoError(t, err)
	defer store.Close()
	assert.Equal(t, "SQLite", store.DatabaseType())
	assert.False(t, store.SupportsHighConcurrency())

	_, err = Open("mysql", "dsn")
	assert.Error(t, err)
}

func TestFolderTree(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	news := mustFolder(t, db, "News", nil)
	tech := mustFolder(t, db, "Tech", &news)
	again := mustFolder(t, db, "Tech", &news)
	assert.Equal(t, tech, again)
	mustFolder(t, db, "Blogs", nil)

	mustFeed(t, db, &news, "https://news.example.com/rss")
	mustFeed(t, db, &tech, "https://tech.example.com/rss")
	mustFeed(t, db, nil, "https://unfiled.example.com/rss")

	root, err := db.Children(ctx, nil)
	require.NoError(t, err)
	require.Len(t, root, 3)
	assert.Equal(t, "Blogs", root[0].Folder.Name)
	assert.Equal(t, "News", root[1].Folder.Name)
	assert.True(t, root[2].IsLeaf())
	assert.Equal(t, "https://unfiled.example.com/rss", root[2].Feed.URL)

	under, err := db.Children(ctx, &news)
	require.NoError(t, err)
	require.Len(t, under, 2)
	assert.Equal(t, tech, under[0].Folder.ID)
	assert.Equal(t, "https://news.example.com/rss", under[1].Feed.URL)

	subs, err := db.GetSubscriptions(ctx)
	require.NoError(t, err)

	type shape struct {
		Name    string
		Feeds   []string
		Folders []shape
	}
	var project func([]model.FolderWithFeeds) []shape
	project = func(fs []model.FolderWithFeeds) []shape {
		var out []shape
		for _, f := range fs {
			s := shape{Name: f.Name, Folders: project(f.Folders)}
			for _, feed := range f.Feeds {
				s.Feeds = append(s.Feeds, feed.URL)
			}
			out = append(out, s)
		}
		return out
	}
	want := []shape{
		{Name: "Blogs"},
		{Name: "News", Feeds: []string{"https://news.example.com/rss"}, Folders: []shape{
			{Name: "Tech", Feeds: []string{"https://tech.example.com/rss"}},
		}},
	}
	if diff := cmp.Diff(want, project(subs.Folders)); diff != "" {
		t.Errorf("subscription tree mismatch (-want +got):\n%s", diff)
	}
	require.Len(t, subs.Unfiled, 1)
}

func TestDeleteFolderRemovesSubtree(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	news := mustFolder(t, db, "News", nil)
	tech := mustFolder(t, db, "Tech", &news)
	deep := mustFeed(t, db, &tech, "https://deep.example.com/rss")
	kept := mustFeed(t, db, nil, "https://kept.example.com/rss")
	it := mustItem(t, db, deep, "a", base, model.StateUnread)
	require.NoError(t, db.SetItemLabels(ctx, it.ID, []string{"x"}))
	require.NoError(t, db.SetPreference(ctx, model.FeedScope(deep), model.PrefCountMax, "3"))

	require.NoError(t, db.DeleteFolder(ctx, news))

	_, err := db.GetFolderByID(ctx, tech)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = db.GetFeedByID(ctx, deep)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = db.GetItemByID(ctx, it.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = db.GetFeedByID(ctx, kept)
	assert.NoError(t, err)

	assert.ErrorIs(t, db.DeleteFolder(ctx, news), ErrNotFound)
}

func TestFeedUpdates(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	folder := mustFolder(t, db, "F", nil)
	id := mustFeed(t, db, nil, "https://example.com/rss")

	_, created, err := db.GetOrCreateFeed(ctx, nil, "dup", "https://example.com/rss")
	require.NoError(t, err)
	assert.False(t, created)

	require.NoError(t, db.UpdateFeedTitle(ctx, id, "Example"))
	require.NoError(t, db.UpdateFeedError(ctx, id, "timeout"))
	require.NoError(t, db.MoveFeedToFolder(ctx, id, &folder))

	feed, err := db.GetFeedByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Example", feed.Title)
	assert.Equal(t, "timeout", feed.LastError)
	require.NotNil(t, feed.FolderID)
	assert.Equal(t, folder, *feed.FolderID)

	fetched := base.Add(time.Hour)
	require.NoError(t, db.UpdateFeedLastFetched(ctx, id, fetched))
	feed, err = db.GetFeedByID(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, feed.LastError)
	assert.True(t, fetched.Equal(feed.LastFetched), "last fetched %v", feed.LastFetched)

	assert.ErrorIs(t, db.MoveFeedToFolder(ctx, 999, nil), ErrNotFound)
	require.NoError(t, db.DeleteFeed(ctx, id))
	assert.ErrorIs(t, db.DeleteFeed(ctx, id), ErrNotFound)
}

func TestItems(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	feed := mustFeed(t, db, nil, "https://example.com/rss")

	newest := mustItem(t, db, feed, "c", base.Add(2*time.Hour), model.StateNew)
	oldest := mustItem(t, db, feed, "a", base, model.StateRead)
	middle := mustItem(t, db, feed, "b", base.Add(time.Hour), model.StateUnread)
	hidden := mustItem(t, db, feed, "d", base.Add(3*time.Hour), model.StateHidden)

	dup := &model.Item{FeedID: feed, GUID: "a", Title: "again", FetchedAt: base}
	id, created, err := db.AddItem(ctx, dup)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Zero(t, id)
	assert.False(t, dup.Persisted())

	require.NoError(t, db.SetItemLabels(ctx, middle.ID, []string{" work ", "later", "work", ""}))
	require.NoError(t, db.SetItemPinned(ctx, oldest.ID, true))

	items, err := db.FeedItems(ctx, feed)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, []int64{oldest.ID, middle.ID, newest.ID}, []int64{items[0].ID, items[1].ID, items[2].ID})
	assert.True(t, items[0].Pinned)
	assert.Equal(t, model.StateRead, items[0].State)
	assert.Equal(t, []string{"later", "work"}, items[1].Labels)
	assert.Equal(t, "https://example.com/b", items[1].Link)
	assert.True(t, base.Add(time.Hour).Equal(items[1].PublishedAt))

	all, err := db.GetItems(ctx, feed, true)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, hidden.ID, all[0].ID)
	visible, err := db.GetItems(ctx, feed, false)
	require.NoError(t, err)
	assert.Len(t, visible, 3)

	found, err := db.ExistingGUIDs(ctx, feed, []string{"a", "b", "zz"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"a": true, "b": true}, found)

	got, err := db.GetItemByID(ctx, middle.ID)
	require.NoError(t, err)
	assert.Equal(t, "title b", got.Title)

	require.NoError(t, db.SetItemLabels(ctx, middle.ID, nil))
	got, err = db.GetItemByID(ctx, middle.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Labels)

	assert.ErrorIs(t, db.SetItemPinned(ctx, 12345, true), ErrNotFound)
	assert.ErrorIs(t, db.SetItemLabels(ctx, 12345, []string{"x"}), ErrNotFound)

	f, err := db.GetFeedByID(ctx, feed)
	require.NoError(t, err)
	assert.Equal(t, 3, f.ItemCount)
}

func TestSetItemsState(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	first := mustFeed(t, db, nil, "https://one.example.com/rss")
	second := mustFeed(t, db, nil, "https://two.example.com/rss")

	a1 := mustItem(t, db, first, "shared", base, model.StateUnread)
	a2 := mustItem(t, db, second, "shared", base, model.StateUnread)
	b := mustItem(t, db, first, "own", base, model.StateUnread)

	state := func(id int64) model.ItemState {
		it, err := db.GetItemByID(ctx, id)
		require.NoError(t, err)
		return it.State
	}

	require.NoError(t, db.SetItemsState(ctx, []int64{a1.ID}, model.StateRead, false))
	assert.Equal(t, model.StateRead, state(a1.ID))
	assert.Equal(t, model.StateUnread, state(a2.ID))

	require.NoError(t, db.SetItemsState(ctx, []int64{a1.ID, b.ID}, model.StateHidden, true))
	assert.Equal(t, model.StateHidden, state(a1.ID))
	assert.Equal(t, model.StateHidden, state(a2.ID))
	assert.Equal(t, model.StateHidden, state(b.ID))

	require.NoError(t, db.SetItemsState(ctx, nil, model.StateRead, false))
	assert.ErrorIs(t, db.SetItemsState(ctx, []int64{b.ID}, model.ItemState(42), false), model.ErrInvalidState)
}

func TestSetItemsStateLargeBatch(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	feed := mustFeed(t, db, nil, "https://example.com/rss")

	var ids []int64
	for i := 0; i < maxBatch+20; i++ {
		ids = append(ids, mustItem(t, db, feed, fmt.Sprintf("g%d", i), base.Add(time.Duration(i)*time.Minute), model.StateRead).ID)
	}
	require.NoError(t, db.SetItemsState(ctx, ids, model.StateHidden, false))

	items, err := db.FeedItems(ctx, feed)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestSetPreferencesIsAtomic(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	feed := mustFeed(t, db, nil, "https://example.com/rss")

	require.NoError(t, db.SetPreferences(ctx, model.FeedScope(feed), map[string]string{
		model.PrefCountEnabled: "true",
		model.PrefCountMax:     "20",
	}))
	prefs, err := db.Preferences(ctx, model.FeedScope(feed))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{model.PrefCountEnabled: "true", model.PrefCountMax: "20"}, prefs)

	_, err = db.conn.ExecContext(ctx, `CREATE TRIGGER reject_read BEFORE INSERT ON settings
WHEN NEW.key = 'retention.read.enabled' BEGIN SELECT RAISE(ABORT, 'rejected'); END`)
	require.NoError(t, err)

	// Keys are written in sorted order, so the age keys go in before the
	// rejected one and must be rolled back.
	err = db.SetPreferences(ctx, model.GlobalScope, map[string]string{
		model.PrefAgeEnabled:  "true",
		model.PrefAgeDays:     "30",
		model.PrefReadEnabled: "true",
	})
	require.Error(t, err)
	global, err := db.Preferences(ctx, model.GlobalScope)
	require.NoError(t, err)
	assert.Empty(t, global)

	assert.ErrorIs(t, db.SetPreferences(ctx, model.FeedScope(999), map[string]string{model.PrefAgeDays: "1"}), ErrNotFound)
}

func TestPreferences(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	feed := mustFeed(t, db, nil, "https://example.com/rss")

	_, ok, err := db.Preference(ctx, model.GlobalScope, model.PrefAgeDays)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, db.SetPreference(ctx, model.GlobalScope, model.PrefAgeDays, "30"))
	require.NoError(t, db.SetPreference(ctx, model.GlobalScope, model.PrefAgeDays, "60"))
	require.NoError(t, db.SetPreference(ctx, model.FeedScope(feed), model.PrefAgeDays, "7"))

	v, ok, err := db.Preference(ctx, model.GlobalScope, model.PrefAgeDays)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "60", v)

	v, ok, err = db.Preference(ctx, model.FeedScope(feed), model.PrefAgeDays)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "7", v)

	assert.ErrorIs(t, db.SetPreference(ctx, model.FeedScope(999), model.PrefAgeDays, "1"), ErrNotFound)

	n, err := db.SeedPreferences(ctx, map[string]string{
		model.PrefAgeDays:       "90",
		model.PrefProtectUnread: "true",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	global, err := db.Preferences(ctx, model.GlobalScope)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{model.PrefAgeDays: "60", model.PrefProtectUnread: "true"}, global)

	require.NoError(t, db.SetPreference(ctx, model.GlobalScope, model.SettingPollingInterval, "45"))
	require.NoError(t, db.DeletePreferences(ctx, model.GlobalScope))
	global, err = db.Preferences(ctx, model.GlobalScope)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{model.SettingPollingInterval: "45"}, global)

	require.NoError(t, db.DeletePreferences(ctx, model.FeedScope(feed)))
	local, err := db.Preferences(ctx, model.FeedScope(feed))
	require.NoError(t, err)
	assert.Empty(t, local)
}

func TestGetPollingInterval(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	mins, err := db.GetPollingInterval(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultPollingInterval, mins)

	require.NoError(t, db.SetPreference(ctx, model.GlobalScope, model.SettingPollingInterval, "5"))
	mins, err = db.GetPollingInterval(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultPollingInterval, mins)

	require.NoError(t, db.SetPreference(ctx, model.GlobalScope, model.SettingPollingInterval, "60"))
	mins, err = db.GetPollingInterval(ctx)
	require.NoError(t, err)
	assert.Equal(t, 60, mins)
}

func TestRebindDollar(t *testing.T) {
	assert.Equal(t, "SELECT 1", rebindDollar("SELECT 1"))
	assert.Equal(t,
		"UPDATE items SET state = $1 WHERE id IN ($2, $3)",
		rebindDollar("UPDATE items SET state = ? WHERE id IN (?, ?)"))
	assert.Equal(t, "", placeholders(0))
	assert.Equal(t, "?, ?, ?", placeholders(3))
}

// The SQLite store serves every collaborator role of the retention engine.
func TestRetentionOverSQLite(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	folder := mustFolder(t, db, "News", nil)
	feed := mustFeed(t, db, &folder, "https://example.com/rss")

	now := base.Add(48 * time.Hour)
	for i := 0; i < 10; i++ {
		state := model.StateRead
		if i%2 == 0 {
			state = model.StateUnread
		}
		mustItem(t, db, feed, fmt.Sprintf("g%d", i), base.Add(time.Duration(i)*time.Hour), state)
	}
	pinned := mustItem(t, db, feed, "pinned", base.Add(-time.Hour), model.StateRead)
	require.NoError(t, db.SetItemPinned(ctx, pinned.ID, true))

	require.NoError(t, db.SetPreference(ctx, model.GlobalScope, model.PrefCountEnabled, "true"))
	require.NoError(t, db.SetPreference(ctx, model.GlobalScope, model.PrefCountMax, "100"))
	require.NoError(t, db.SetPreference(ctx, model.FeedScope(feed), model.PrefCountMax, "6"))
	require.NoError(t, db.SetPreference(ctx, model.GlobalScope, model.PrefProtectUnread, "true"))

	engine := retention.NewEngine(db, db, db, retention.WithClock(func() time.Time { return now }))
	summary, err := engine.ProcessAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Feeds)
	assert.Equal(t, 5, summary.Hidden)

	items, err := db.FeedItems(ctx, feed)
	require.NoError(t, err)
	assert.Len(t, items, 6)
	for _, it := range items {
		assert.True(t, it.Pinned || it.State == model.StateUnread, "item %s survived", it.GUID)
	}

	report := summary.Reports[0]
	require.NoError(t, report.Transition.Revert(ctx, db))
	items, err = db.FeedItems(ctx, feed)
	require.NoError(t, err)
	assert.Len(t, items, 11)
}
