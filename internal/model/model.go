// Package model defines shared data structures.
package model

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Folder represents a hierarchical folder for organizing feeds.
type Folder struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	ParentID *int64 `json:"parent_id,omitempty"` // nullable for root folders
}

// Feed represents an RSS/Atom feed subscription.
type Feed struct {
	ID          int64     `json:"id"`
	FolderID    *int64    `json:"folder_id,omitempty"` // nullable if not in a folder
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	IconURL     string    `json:"icon_url,omitempty"`
	LastFetched time.Time `json:"last_fetched"`
	LastError   string    `json:"last_error,omitempty"`
	ItemCount   int       `json:"item_count"`
}

// Node is one entry of the subscription tree: a folder or a feed.
// Exactly one of the fields is set.
type Node struct {
	Folder *Folder `json:"folder,omitempty"`
	Feed   *Feed   `json:"feed,omitempty"`
}

// FolderNode wraps a folder as a tree node.
func FolderNode(f Folder) Node { return Node{Folder: &f} }

// FeedNode wraps a feed as a tree node.
func FeedNode(f Feed) Node { return Node{Feed: &f} }

// IsLeaf reports whether the node is bound to a feed.
func (n Node) IsLeaf() bool { return n.Feed != nil }

// ItemState is the reading state of a news item.
type ItemState int

const (
	StateNew ItemState = iota
	StateUnread
	StateRead
	StateUpdated
	StateHidden
	StateDeleted
)

// ErrInvalidState is returned for text that names no item state.
var ErrInvalidState = errors.New("invalid item state")

var stateNames = [...]string{"new", "unread", "read", "updated", "hidden", "deleted"}

// AllStates lists every state in declaration order.
var AllStates = []ItemState{StateNew, StateUnread, StateRead, StateUpdated, StateHidden, StateDeleted}

func (s ItemState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "state(" + strconv.Itoa(int(s)) + ")"
	}
	return stateNames[s]
}

// ParseState converts the stored text form back to an ItemState.
func ParseState(s string) (ItemState, error) {
	for i, name := range stateNames {
		if name == s {
			return ItemState(i), nil
		}
	}
	return 0, errors.Wrapf(ErrInvalidState, "%q", s)
}

// Visible reports whether items in this state are shown to the reader.
func (s ItemState) Visible() bool {
	return s != StateHidden && s != StateDeleted
}

func (s ItemState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *ItemState) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return err
	}
	parsed, err := ParseState(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Item represents a single article/entry from a feed.
// ID stays zero until the item has been stored.
type Item struct {
	ID          int64     `json:"id"`
	FeedID      int64     `json:"feed_id"`
	GUID        string    `json:"guid"` // unique identifier from feed
	Title       string    `json:"title"`
	Content     string    `json:"content,omitempty"`
	Link        string    `json:"link"`
	PublishedAt time.Time `json:"published_at"`
	FetchedAt   time.Time `json:"fetched_at"`
	State       ItemState `json:"state"`
	Pinned      bool      `json:"pinned"`
	Labels      []string  `json:"labels,omitempty"`
}

// Persisted reports whether the item has a stored identity.
func (it *Item) Persisted() bool { return it.ID != 0 }

// Visible reports whether the item is neither hidden nor deleted.
func (it *Item) Visible() bool { return it.State.Visible() }

// FolderWithFeeds represents a folder with its subfolders and feeds.
type FolderWithFeeds struct {
	Folder
	Folders []FolderWithFeeds `json:"folders,omitempty"`
	Feeds   []Feed            `json:"feeds"`
}

// Subscriptions is the whole subscription tree.
type Subscriptions struct {
	Folders []FolderWithFeeds `json:"folders"`
	// Unfiled holds the feeds outside any folder.
	Unfiled []Feed `json:"unfiled"`
}

// Scope addresses a set of preferences: the global scope or one feed's overrides.
type Scope struct {
	FeedID int64 // zero for the global scope
}

// GlobalScope is the fallback scope every feed inherits from.
var GlobalScope = Scope{}

// FeedScope returns the override scope of a feed.
func FeedScope(feedID int64) Scope { return Scope{FeedID: feedID} }

// IsGlobal reports whether s is the global scope.
func (s Scope) IsGlobal() bool { return s.FeedID == 0 }

func (s Scope) String() string {
	if s.IsGlobal() {
		return "global"
	}
	return "feed:" + strconv.FormatInt(s.FeedID, 10)
}

// Settings key constants.
const (
	SettingPollingInterval = "polling_interval_minutes"
)

// Retention preference keys. Booleans are stored as "true"/"false", numbers
// in base 10.
const (
	PrefAgeEnabled     = "retention.age.enabled"
	PrefAgeDays        = "retention.age.days"
	PrefCountEnabled   = "retention.count.enabled"
	PrefCountMax       = "retention.count.max"
	PrefReadEnabled    = "retention.read.enabled"
	PrefProtectUnread  = "retention.protect.unread"
	PrefProtectLabeled = "retention.protect.labeled"
)

// RetentionKeys lists every retention preference key.
var RetentionKeys = []string{
	PrefAgeEnabled,
	PrefAgeDays,
	PrefCountEnabled,
	PrefCountMax,
	PrefReadEnabled,
	PrefProtectUnread,
	PrefProtectLabeled,
}

// IsRetentionKey reports whether key is one of RetentionKeys.
func IsRetentionKey(key string) bool {
	for _, k := range RetentionKeys {
		if k == key {
			return true
		}
	}
	return false
}
