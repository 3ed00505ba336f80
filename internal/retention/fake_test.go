package retention

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/bryan-buckman/gleaner/internal/model"
)

type setStateCall struct {
	ids       []int64
	state     model.ItemState
	propagate bool
}

// fakeStore is an in-memory Tree, Preferences and NewsStore.
type fakeStore struct {
	folders []model.Folder
	feeds   []model.Feed
	items   map[int64][]*model.Item
	prefs   map[model.Scope]map[string]string
	nextID  int64

	calls       []setStateCall
	itemsErr    error
	setStateErr error
	// setStateOK is the number of SetItemsState calls that succeed before
	// setStateErr is returned.
	setStateOK int
	prefErr    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		items: make(map[int64][]*model.Item),
		prefs: make(map[model.Scope]map[string]string),
	}
}

func (f *fakeStore) addFolder(id int64, parent *int64) model.Folder {
	folder := model.Folder{ID: id, Name: "folder", ParentID: parent}
	f.folders = append(f.folders, folder)
	return folder
}

func (f *fakeStore) addFeed(id int64, folder *int64) model.Feed {
	feed := model.Feed{ID: id, FolderID: folder, Title: "feed", URL: "http://example.com/feed"}
	f.feeds = append(f.feeds, feed)
	return feed
}

// addItems stores items for feedID and assigns ids.
func (f *fakeStore) addItems(feedID int64, items ...*model.Item) {
	for _, it := range items {
		f.nextID++
		it.ID = f.nextID
		it.FeedID = feedID
		f.items[feedID] = append(f.items[feedID], it)
	}
}

func (f *fakeStore) set(scope model.Scope, cfg Config) {
	f.prefs[scope] = cfg.Values()
}

func (f *fakeStore) setKey(scope model.Scope, key, value string) {
	if f.prefs[scope] == nil {
		f.prefs[scope] = make(map[string]string)
	}
	f.prefs[scope][key] = value
}

func sameParent(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (f *fakeStore) Children(ctx context.Context, folderID *int64) ([]model.Node, error) {
	var nodes []model.Node
	for _, folder := range f.folders {
		if sameParent(folder.ParentID, folderID) {
			nodes = append(nodes, model.FolderNode(folder))
		}
	}
	for _, feed := range f.feeds {
		if sameParent(feed.FolderID, folderID) {
			nodes = append(nodes, model.FeedNode(feed))
		}
	}
	return nodes, nil
}

// FeedItems returns copies, like a real store would.
func (f *fakeStore) FeedItems(ctx context.Context, feedID int64) ([]*model.Item, error) {
	if f.itemsErr != nil {
		return nil, f.itemsErr
	}
	var out []*model.Item
	for _, it := range f.items[feedID] {
		if it.Visible() {
			cp := *it
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].PublishedAt.Before(out[b].PublishedAt) })
	return out, nil
}

func (f *fakeStore) Preference(ctx context.Context, scope model.Scope, key string) (string, bool, error) {
	if f.prefErr != nil {
		return "", false, f.prefErr
	}
	v, ok := f.prefs[scope][key]
	return v, ok, nil
}

func (f *fakeStore) SetItemsState(ctx context.Context, ids []int64, state model.ItemState, propagate bool) error {
	if f.setStateErr != nil && len(f.calls) >= f.setStateOK {
		return f.setStateErr
	}
	f.calls = append(f.calls, setStateCall{ids: append([]int64(nil), ids...), state: state, propagate: propagate})
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	for _, items := range f.items {
		for _, it := range items {
			if want[it.ID] {
				it.State = state
			}
		}
	}
	return nil
}

func (f *fakeStore) visible(feedID int64) int {
	n := 0
	for _, it := range f.items[feedID] {
		if it.Visible() {
			n++
		}
	}
	return n
}

func (f *fakeStore) item(id int64) *model.Item {
	for _, items := range f.items {
		for _, it := range items {
			if it.ID == id {
				return it
			}
		}
	}
	return nil
}

var errStore = errors.New("store unavailable")

var testNow = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

// series builds n items of state s, published one hour apart and ending
// `end` before testNow. The first item is the oldest.
func series(n int, s model.ItemState, end time.Duration) []*model.Item {
	items := make([]*model.Item, n)
	for i := range items {
		items[i] = &model.Item{
			GUID:        "guid-" + strconv.Itoa(i),
			State:       s,
			PublishedAt: testNow.Add(-end - time.Duration(n-1-i)*time.Hour),
		}
	}
	return items
}

func newTestEngine(store *fakeStore, opts ...Option) *Engine {
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	return NewEngine(store, store, store, opts...)
}

func ids(items []*model.Item) []int64 {
	out := make([]int64, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID)
	}
	return out
}
