// Package database provides storage backends for the reader.
package database

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/bryan-buckman/gleaner/internal/model"
)

// ErrNotFound is returned when a folder, feed or item does not exist.
var ErrNotFound = errors.New("not found")

// Store defines the interface for database operations.
// Both SQLite and PostgreSQL implementations satisfy this interface, and it
// covers the tree, preference and news-store roles of the retention engine.
type Store interface {
	Close() error

	// DatabaseType returns the name of the database backend ("SQLite" or "PostgreSQL").
	DatabaseType() string

	// SupportsHighConcurrency returns true if the database can handle
	// many concurrent write operations (e.g., PostgreSQL).
	// SQLite returns false due to write locking limitations.
	SupportsHighConcurrency() bool

	// Folder operations
	GetFolders(ctx context.Context) ([]model.Folder, error)
	GetFolderByID(ctx context.Context, folderID int64) (*model.Folder, error)
	GetOrCreateFolder(ctx context.Context, name string, parentID *int64) (int64, error)
	DeleteFolder(ctx context.Context, folderID int64) error
	Children(ctx context.Context, folderID *int64) ([]model.Node, error)
	GetSubscriptions(ctx context.Context) (*model.Subscriptions, error)

	// Feed operations
	GetAllFeeds(ctx context.Context) ([]model.Feed, error)
	GetFeedByID(ctx context.Context, feedID int64) (*model.Feed, error)
	GetOrCreateFeed(ctx context.Context, folderID *int64, title, url string) (int64, bool, error)
	UpdateFeedLastFetched(ctx context.Context, feedID int64, t time.Time) error
	UpdateFeedTitle(ctx context.Context, feedID int64, title string) error
	UpdateFeedError(ctx context.Context, feedID int64, errMsg string) error
	MoveFeedToFolder(ctx context.Context, feedID int64, folderID *int64) error
	DeleteFeed(ctx context.Context, feedID int64) error

	// Item operations
	AddItem(ctx context.Context, item *model.Item) (int64, bool, error)
	ExistingGUIDs(ctx context.Context, feedID int64, guids []string) (map[string]bool, error)
	FeedItems(ctx context.Context, feedID int64) ([]*model.Item, error)
	GetItems(ctx context.Context, feedID int64, includeHidden bool) ([]model.Item, error)
	GetItemByID(ctx context.Context, itemID int64) (*model.Item, error)
	SetItemsState(ctx context.Context, itemIDs []int64, state model.ItemState, propagate bool) error
	SetItemPinned(ctx context.Context, itemID int64, pinned bool) error
	SetItemLabels(ctx context.Context, itemID int64, labels []string) error

	// Preference operations. The global scope shares the settings table.
	Preference(ctx context.Context, scope model.Scope, key string) (string, bool, error)
	Preferences(ctx context.Context, scope model.Scope) (map[string]string, error)
	SetPreference(ctx context.Context, scope model.Scope, key, value string) error
	SetPreferences(ctx context.Context, scope model.Scope, values map[string]string) error
	DeletePreferences(ctx context.Context, scope model.Scope) error
	SeedPreferences(ctx context.Context, values map[string]string) (int, error)

	// Settings operations
	GetPollingInterval(ctx context.Context) (int, error)
}

// Open opens the backend named by driver ("sqlite" or "postgres").
func Open(driver, dsn string) (Store, error) {
	switch driver {
	case "sqlite":
		return New(dsn)
	case "postgres":
		return NewPostgres(dsn)
	default:
		return nil, errors.Errorf("unknown database driver %q", driver)
	}
}
