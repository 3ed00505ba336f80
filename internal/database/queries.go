package database

import (
	"context"
	"database/sql"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/bryan-buckman/gleaner/internal/model"
)

// maxBatch bounds the number of ids bound into one IN list.
const maxBatch = 500

// sqlStore holds the queries shared by both backends. Queries are written
// with ? placeholders and rebound for the driver.
type sqlStore struct {
	conn   *sql.DB
	rebind func(string) string
}

func (s *sqlStore) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return s.conn.ExecContext(ctx, s.rebind(query), args...)
}

func (s *sqlStore) query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return s.conn.QueryContext(ctx, s.rebind(query), args...)
}

func (s *sqlStore) queryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return s.conn.QueryRowContext(ctx, s.rebind(query), args...)
}

// Close closes the database connection.
func (s *sqlStore) Close() error {
	return s.conn.Close()
}

// --- Folder Methods ---

// GetFolders returns all folders ordered by name.
func (s *sqlStore) GetFolders(ctx context.Context) ([]model.Folder, error) {
	rows, err := s.query(ctx, "SELECT id, name, parent_id FROM folders ORDER BY name, id")
	if err != nil {
		return nil, errors.Wrap(err, "query folders")
	}
	defer rows.Close()
	return scanFolders(rows)
}

// GetFolderByID returns one folder or ErrNotFound.
func (s *sqlStore) GetFolderByID(ctx context.Context, folderID int64) (*model.Folder, error) {
	var f model.Folder
	err := s.queryRow(ctx, "SELECT id, name, parent_id FROM folders WHERE id = ?", folderID).
		Scan(&f.ID, &f.Name, &f.ParentID)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(ErrNotFound, "folder %d", folderID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "query folder %d", folderID)
	}
	return &f, nil
}

// GetOrCreateFolder finds a folder by name and parent, or creates it.
func (s *sqlStore) GetOrCreateFolder(ctx context.Context, name string, parentID *int64) (int64, error) {
	var id int64
	var row *sql.Row
	if parentID == nil {
		row = s.queryRow(ctx, "SELECT id FROM folders WHERE name = ? AND parent_id IS NULL", name)
	} else {
		row = s.queryRow(ctx, "SELECT id FROM folders WHERE name = ? AND parent_id = ?", name, *parentID)
	}
	err := row.Scan(&id)
	if err == sql.ErrNoRows {
		err = s.queryRow(ctx, "INSERT INTO folders (name, parent_id) VALUES (?, ?) RETURNING id", name, parentID).Scan(&id)
		return id, errors.Wrapf(err, "create folder %q", name)
	}
	return id, errors.Wrapf(err, "query folder %q", name)
}

// DeleteFolder deletes a folder, its subfolders, and every feed below it.
func (s *sqlStore) DeleteFolder(ctx context.Context, folderID int64) error {
	if _, err := s.GetFolderByID(ctx, folderID); err != nil {
		return err
	}
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback()

	subtree := []int64{folderID}
	for i := 0; i < len(subtree); i++ {
		rows, err := tx.QueryContext(ctx, s.rebind("SELECT id FROM folders WHERE parent_id = ?"), subtree[i])
		if err != nil {
			return errors.Wrap(err, "query subfolders")
		}
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return errors.Wrap(err, "scan subfolder")
			}
			subtree = append(subtree, id)
		}
		rows.Close()
	}

	// Children go before their parents.
	for i := len(subtree) - 1; i >= 0; i-- {
		id := subtree[i]
		for _, q := range []string{
			"DELETE FROM item_labels WHERE item_id IN (SELECT i.id FROM items i JOIN feeds f ON f.id = i.feed_id WHERE f.folder_id = ?)",
			"DELETE FROM items WHERE feed_id IN (SELECT id FROM feeds WHERE folder_id = ?)",
			"DELETE FROM feed_preferences WHERE feed_id IN (SELECT id FROM feeds WHERE folder_id = ?)",
			"DELETE FROM feeds WHERE folder_id = ?",
			"DELETE FROM folders WHERE id = ?",
		} {
			if _, err := tx.ExecContext(ctx, s.rebind(q), id); err != nil {
				return errors.Wrapf(err, "delete folder %d", id)
			}
		}
	}
	return errors.Wrap(tx.Commit(), "commit")
}

// Children returns the folders and feeds directly under folderID. A nil
// folderID lists the root folders and the unfiled feeds.
func (s *sqlStore) Children(ctx context.Context, folderID *int64) ([]model.Node, error) {
	var (
		folders *sql.Rows
		err     error
	)
	if folderID == nil {
		folders, err = s.query(ctx, "SELECT id, name, parent_id FROM folders WHERE parent_id IS NULL ORDER BY name, id")
	} else {
		folders, err = s.query(ctx, "SELECT id, name, parent_id FROM folders WHERE parent_id = ? ORDER BY name, id", *folderID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "query child folders")
	}
	subfolders, err := scanFolders(folders)
	folders.Close()
	if err != nil {
		return nil, err
	}

	feeds, err := s.feedsIn(ctx, folderID)
	if err != nil {
		return nil, err
	}

	nodes := make([]model.Node, 0, len(subfolders)+len(feeds))
	for _, f := range subfolders {
		nodes = append(nodes, model.FolderNode(f))
	}
	for _, f := range feeds {
		nodes = append(nodes, model.FeedNode(f))
	}
	return nodes, nil
}

// GetSubscriptions returns the whole folder tree with its feeds.
func (s *sqlStore) GetSubscriptions(ctx context.Context) (*model.Subscriptions, error) {
	folders, err := s.GetFolders(ctx)
	if err != nil {
		return nil, err
	}
	feeds, err := s.GetAllFeeds(ctx)
	if err != nil {
		return nil, err
	}

	const root = int64(0)
	key := func(id *int64) int64 {
		if id == nil {
			return root
		}
		return *id
	}
	childFolders := make(map[int64][]model.Folder)
	for _, f := range folders {
		childFolders[key(f.ParentID)] = append(childFolders[key(f.ParentID)], f)
	}
	childFeeds := make(map[int64][]model.Feed)
	for _, f := range feeds {
		childFeeds[key(f.FolderID)] = append(childFeeds[key(f.FolderID)], f)
	}

	seen := make(map[int64]bool)
	var build func(parent int64) []model.FolderWithFeeds
	build = func(parent int64) []model.FolderWithFeeds {
		var out []model.FolderWithFeeds
		for _, f := range childFolders[parent] {
			if seen[f.ID] {
				continue
			}
			seen[f.ID] = true
			out = append(out, model.FolderWithFeeds{
				Folder:  f,
				Folders: build(f.ID),
				Feeds:   childFeeds[f.ID],
			})
		}
		return out
	}
	return &model.Subscriptions{Folders: build(root), Unfiled: childFeeds[root]}, nil
}

// --- Feed Methods ---

const feedColumns = `f.id, f.folder_id, f.title, f.url, f.icon_url, f.last_fetched, f.last_error,
	(SELECT COUNT(*) FROM items i WHERE i.feed_id = f.id AND i.state NOT IN ('hidden', 'deleted'))`

// GetAllFeeds returns all feeds regardless of folder.
func (s *sqlStore) GetAllFeeds(ctx context.Context) ([]model.Feed, error) {
	rows, err := s.query(ctx, "SELECT "+feedColumns+" FROM feeds f ORDER BY f.title, f.id")
	if err != nil {
		return nil, errors.Wrap(err, "query feeds")
	}
	defer rows.Close()
	return scanFeeds(rows)
}

func (s *sqlStore) feedsIn(ctx context.Context, folderID *int64) ([]model.Feed, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if folderID == nil {
		rows, err = s.query(ctx, "SELECT "+feedColumns+" FROM feeds f WHERE f.folder_id IS NULL ORDER BY f.title, f.id")
	} else {
		rows, err = s.query(ctx, "SELECT "+feedColumns+" FROM feeds f WHERE f.folder_id = ? ORDER BY f.title, f.id", *folderID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "query feeds")
	}
	defer rows.Close()
	return scanFeeds(rows)
}

// GetFeedByID returns one feed or ErrNotFound.
func (s *sqlStore) GetFeedByID(ctx context.Context, feedID int64) (*model.Feed, error) {
	rows, err := s.query(ctx, "SELECT "+feedColumns+" FROM feeds f WHERE f.id = ?", feedID)
	if err != nil {
		return nil, errors.Wrapf(err, "query feed %d", feedID)
	}
	defer rows.Close()
	feeds, err := scanFeeds(rows)
	if err != nil {
		return nil, err
	}
	if len(feeds) == 0 {
		return nil, errors.Wrapf(ErrNotFound, "feed %d", feedID)
	}
	return &feeds[0], nil
}

// GetOrCreateFeed finds a feed by URL, or creates it. The bool reports
// whether the feed was created.
func (s *sqlStore) GetOrCreateFeed(ctx context.Context, folderID *int64, title, url string) (int64, bool, error) {
	var id int64
	err := s.queryRow(ctx, "SELECT id FROM feeds WHERE url = ?", url).Scan(&id)
	if err == sql.ErrNoRows {
		err = s.queryRow(ctx, "INSERT INTO feeds (folder_id, title, url) VALUES (?, ?, ?) RETURNING id",
			folderID, title, url).Scan(&id)
		return id, err == nil, errors.Wrapf(err, "create feed %q", url)
	}
	return id, false, errors.Wrapf(err, "query feed %q", url)
}

// UpdateFeedLastFetched updates the last_fetched timestamp and clears the
// last error.
func (s *sqlStore) UpdateFeedLastFetched(ctx context.Context, feedID int64, t time.Time) error {
	_, err := s.exec(ctx, "UPDATE feeds SET last_fetched = ?, last_error = '' WHERE id = ?", t.UTC(), feedID)
	return errors.Wrapf(err, "update feed %d", feedID)
}

// UpdateFeedTitle sets the feed title.
func (s *sqlStore) UpdateFeedTitle(ctx context.Context, feedID int64, title string) error {
	_, err := s.exec(ctx, "UPDATE feeds SET title = ? WHERE id = ?", title, feedID)
	return errors.Wrapf(err, "update feed %d", feedID)
}

// UpdateFeedError records the last fetch error of a feed.
func (s *sqlStore) UpdateFeedError(ctx context.Context, feedID int64, errMsg string) error {
	_, err := s.exec(ctx, "UPDATE feeds SET last_error = ? WHERE id = ?", errMsg, feedID)
	return errors.Wrapf(err, "update feed %d", feedID)
}

// MoveFeedToFolder moves a feed; a nil folder unfiles it.
func (s *sqlStore) MoveFeedToFolder(ctx context.Context, feedID int64, folderID *int64) error {
	res, err := s.exec(ctx, "UPDATE feeds SET folder_id = ? WHERE id = ?", folderID, feedID)
	if err != nil {
		return errors.Wrapf(err, "move feed %d", feedID)
	}
	return requireRow(res, "feed", feedID)
}

// DeleteFeed deletes a feed with its items and preferences.
func (s *sqlStore) DeleteFeed(ctx context.Context, feedID int64) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback()
	for _, q := range []string{
		"DELETE FROM item_labels WHERE item_id IN (SELECT id FROM items WHERE feed_id = ?)",
		"DELETE FROM items WHERE feed_id = ?",
		"DELETE FROM feed_preferences WHERE feed_id = ?",
	} {
		if _, err := tx.ExecContext(ctx, s.rebind(q), feedID); err != nil {
			return errors.Wrapf(err, "delete feed %d", feedID)
		}
	}
	res, err := tx.ExecContext(ctx, s.rebind("DELETE FROM feeds WHERE id = ?"), feedID)
	if err != nil {
		return errors.Wrapf(err, "delete feed %d", feedID)
	}
	if err := requireRow(res, "feed", feedID); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "commit")
}

// --- Item Methods ---

const itemColumns = "id, feed_id, guid, title, content, link, published_at, fetched_at, state, pinned"

// AddItem inserts a new item if its GUID doesn't exist for that feed yet.
// It returns the id and whether the item was new; a new item gets its ID set.
func (s *sqlStore) AddItem(ctx context.Context, item *model.Item) (int64, bool, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, errors.Wrap(err, "begin")
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx, s.rebind(`
		INSERT INTO items (feed_id, guid, title, content, link, published_at, fetched_at, state, pinned)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (feed_id, guid) DO NOTHING
		RETURNING id`),
		item.FeedID, item.GUID, item.Title, item.Content, item.Link,
		item.PublishedAt.UTC(), item.FetchedAt.UTC(), item.State.String(), item.Pinned,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrapf(err, "insert item %q", item.GUID)
	}
	if err := insertLabels(ctx, tx, s.rebind, id, item.Labels); err != nil {
		return 0, false, err
	}
	if err := tx.Commit(); err != nil {
		return 0, false, errors.Wrap(err, "commit")
	}
	item.ID = id
	return id, true, nil
}

// ExistingGUIDs returns which of guids are already stored for the feed.
func (s *sqlStore) ExistingGUIDs(ctx context.Context, feedID int64, guids []string) (map[string]bool, error) {
	found := make(map[string]bool)
	for start := 0; start < len(guids); start += maxBatch {
		end := min(start+maxBatch, len(guids))
		args := []interface{}{feedID}
		for _, g := range guids[start:end] {
			args = append(args, g)
		}
		rows, err := s.query(ctx,
			"SELECT guid FROM items WHERE feed_id = ? AND guid IN ("+placeholders(end-start)+")", args...)
		if err != nil {
			return nil, errors.Wrap(err, "query guids")
		}
		for rows.Next() {
			var g string
			if err := rows.Scan(&g); err != nil {
				rows.Close()
				return nil, errors.Wrap(err, "scan guid")
			}
			found[g] = true
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, errors.Wrap(err, "query guids")
		}
	}
	return found, nil
}

// FeedItems returns the visible items of a feed, oldest first.
func (s *sqlStore) FeedItems(ctx context.Context, feedID int64) ([]*model.Item, error) {
	rows, err := s.query(ctx, "SELECT "+itemColumns+
		" FROM items WHERE feed_id = ? AND state NOT IN ('hidden', 'deleted') ORDER BY published_at, id", feedID)
	if err != nil {
		return nil, errors.Wrapf(err, "query items of feed %d", feedID)
	}
	items, err := scanItems(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}
	if err := s.loadLabels(ctx, items); err != nil {
		return nil, err
	}
	return items, nil
}

// GetItems returns items for a feed, newest first. Hidden and deleted items
// are only included when includeHidden is set.
func (s *sqlStore) GetItems(ctx context.Context, feedID int64, includeHidden bool) ([]model.Item, error) {
	query := "SELECT " + itemColumns + " FROM items WHERE feed_id = ?"
	if !includeHidden {
		query += " AND state NOT IN ('hidden', 'deleted')"
	}
	query += " ORDER BY published_at DESC, id DESC"
	rows, err := s.query(ctx, query, feedID)
	if err != nil {
		return nil, errors.Wrapf(err, "query items of feed %d", feedID)
	}
	items, err := scanItems(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}
	if err := s.loadLabels(ctx, items); err != nil {
		return nil, err
	}
	out := make([]model.Item, len(items))
	for i, it := range items {
		out[i] = *it
	}
	return out, nil
}

// GetItemByID returns one item or ErrNotFound.
func (s *sqlStore) GetItemByID(ctx context.Context, itemID int64) (*model.Item, error) {
	rows, err := s.query(ctx, "SELECT "+itemColumns+" FROM items WHERE id = ?", itemID)
	if err != nil {
		return nil, errors.Wrapf(err, "query item %d", itemID)
	}
	items, err := scanItems(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, errors.Wrapf(ErrNotFound, "item %d", itemID)
	}
	if err := s.loadLabels(ctx, items); err != nil {
		return nil, err
	}
	return items[0], nil
}

// SetItemsState moves items to state in one transaction. With propagate,
// stored copies of the same items in other feeds (same GUID) follow.
func (s *sqlStore) SetItemsState(ctx context.Context, itemIDs []int64, state model.ItemState, propagate bool) error {
	if len(itemIDs) == 0 {
		return nil
	}
	if _, err := model.ParseState(state.String()); err != nil {
		return err
	}
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback()

	for start := 0; start < len(itemIDs); start += maxBatch {
		end := min(start+maxBatch, len(itemIDs))
		in := placeholders(end - start)
		ids := make([]interface{}, 0, end-start)
		for _, id := range itemIDs[start:end] {
			ids = append(ids, id)
		}

		query := "UPDATE items SET state = ? WHERE id IN (" + in + ")"
		args := append([]interface{}{state.String()}, ids...)
		if propagate {
			query += " OR guid IN (SELECT guid FROM items WHERE id IN (" + in + "))"
			args = append(args, ids...)
		}
		if _, err := tx.ExecContext(ctx, s.rebind(query), args...); err != nil {
			return errors.Wrapf(err, "set %d items %s", end-start, state)
		}
	}
	return errors.Wrap(tx.Commit(), "commit")
}

// SetItemPinned pins or unpins an item.
func (s *sqlStore) SetItemPinned(ctx context.Context, itemID int64, pinned bool) error {
	res, err := s.exec(ctx, "UPDATE items SET pinned = ? WHERE id = ?", pinned, itemID)
	if err != nil {
		return errors.Wrapf(err, "pin item %d", itemID)
	}
	return requireRow(res, "item", itemID)
}

// SetItemLabels replaces the labels of an item.
func (s *sqlStore) SetItemLabels(ctx context.Context, itemID int64, labels []string) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, s.rebind("SELECT COUNT(*) FROM items WHERE id = ?"), itemID).Scan(&exists)
	if err != nil {
		return errors.Wrapf(err, "query item %d", itemID)
	}
	if exists == 0 {
		return errors.Wrapf(ErrNotFound, "item %d", itemID)
	}
	if _, err := tx.ExecContext(ctx, s.rebind("DELETE FROM item_labels WHERE item_id = ?"), itemID); err != nil {
		return errors.Wrapf(err, "clear labels of item %d", itemID)
	}
	if err := insertLabels(ctx, tx, s.rebind, itemID, labels); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "commit")
}

func insertLabels(ctx context.Context, tx *sql.Tx, rebind func(string) string, itemID int64, labels []string) error {
	for _, l := range normalizeLabels(labels) {
		if _, err := tx.ExecContext(ctx,
			rebind("INSERT INTO item_labels (item_id, label) VALUES (?, ?) ON CONFLICT DO NOTHING"), itemID, l); err != nil {
			return errors.Wrapf(err, "label item %d", itemID)
		}
	}
	return nil
}

// normalizeLabels trims, drops empty and duplicate labels, and sorts.
func normalizeLabels(labels []string) []string {
	seen := make(map[string]bool, len(labels))
	var out []string
	for _, l := range labels {
		l = strings.TrimSpace(l)
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

func (s *sqlStore) loadLabels(ctx context.Context, items []*model.Item) error {
	byID := make(map[int64]*model.Item, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}
	for start := 0; start < len(items); start += maxBatch {
		end := min(start+maxBatch, len(items))
		args := make([]interface{}, 0, end-start)
		for _, it := range items[start:end] {
			args = append(args, it.ID)
		}
		rows, err := s.query(ctx,
			"SELECT item_id, label FROM item_labels WHERE item_id IN ("+placeholders(end-start)+") ORDER BY label", args...)
		if err != nil {
			return errors.Wrap(err, "query labels")
		}
		for rows.Next() {
			var (
				id    int64
				label string
			)
			if err := rows.Scan(&id, &label); err != nil {
				rows.Close()
				return errors.Wrap(err, "scan label")
			}
			if it := byID[id]; it != nil {
				it.Labels = append(it.Labels, label)
			}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return errors.Wrap(err, "query labels")
		}
	}
	return nil
}

// --- Preference Methods ---

// Preference reads one value of a scope. The global scope lives in the
// settings table, feed scopes in feed_preferences.
func (s *sqlStore) Preference(ctx context.Context, scope model.Scope, key string) (string, bool, error) {
	var (
		val string
		err error
	)
	if scope.IsGlobal() {
		err = s.queryRow(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&val)
	} else {
		err = s.queryRow(ctx, "SELECT value FROM feed_preferences WHERE feed_id = ? AND key = ?", scope.FeedID, key).Scan(&val)
	}
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "query %s of %s", key, scope)
	}
	return val, true, nil
}

// Preferences returns every value stored in a scope.
func (s *sqlStore) Preferences(ctx context.Context, scope model.Scope) (map[string]string, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if scope.IsGlobal() {
		rows, err = s.query(ctx, "SELECT key, value FROM settings")
	} else {
		rows, err = s.query(ctx, "SELECT key, value FROM feed_preferences WHERE feed_id = ?", scope.FeedID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "query preferences of %s", scope)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, errors.Wrap(err, "scan preference")
		}
		out[k] = v
	}
	return out, errors.Wrap(rows.Err(), "query preferences")
}

// SetPreference saves a value in a scope. Feed scopes require the feed to
// exist.
func (s *sqlStore) SetPreference(ctx context.Context, scope model.Scope, key, value string) error {
	if scope.IsGlobal() {
		_, err := s.exec(ctx,
			"INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT (key) DO UPDATE SET value = excluded.value",
			key, value)
		return errors.Wrapf(err, "set %s", key)
	}
	if _, err := s.GetFeedByID(ctx, scope.FeedID); err != nil {
		return err
	}
	_, err := s.exec(ctx,
		"INSERT INTO feed_preferences (feed_id, key, value) VALUES (?, ?, ?) ON CONFLICT (feed_id, key) DO UPDATE SET value = excluded.value",
		scope.FeedID, key, value)
	return errors.Wrapf(err, "set %s of %s", key, scope)
}

// SetPreferences saves several values of a scope in one transaction: either
// all of them are written or none.
func (s *sqlStore) SetPreferences(ctx context.Context, scope model.Scope, values map[string]string) error {
	if !scope.IsGlobal() {
		if _, err := s.GetFeedByID(ctx, scope.FeedID); err != nil {
			return err
		}
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback()

	for _, k := range keys {
		if scope.IsGlobal() {
			_, err = tx.ExecContext(ctx, s.rebind(
				"INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT (key) DO UPDATE SET value = excluded.value"),
				k, values[k])
		} else {
			_, err = tx.ExecContext(ctx, s.rebind(
				"INSERT INTO feed_preferences (feed_id, key, value) VALUES (?, ?, ?) ON CONFLICT (feed_id, key) DO UPDATE SET value = excluded.value"),
				scope.FeedID, k, values[k])
		}
		if err != nil {
			return errors.Wrapf(err, "set %s of %s", k, scope)
		}
	}
	return errors.Wrap(tx.Commit(), "commit preferences")
}

// DeletePreferences drops the overrides of a feed scope. On the global scope
// it only drops the retention keys, leaving other settings alone.
func (s *sqlStore) DeletePreferences(ctx context.Context, scope model.Scope) error {
	if !scope.IsGlobal() {
		_, err := s.exec(ctx, "DELETE FROM feed_preferences WHERE feed_id = ?", scope.FeedID)
		return errors.Wrapf(err, "delete preferences of %s", scope)
	}
	args := make([]interface{}, len(model.RetentionKeys))
	for i, k := range model.RetentionKeys {
		args[i] = k
	}
	_, err := s.exec(ctx, "DELETE FROM settings WHERE key IN ("+placeholders(len(args))+")", args...)
	return errors.Wrap(err, "delete global retention preferences")
}

// SeedPreferences writes values to the global scope for every key it does
// not hold yet, and returns how many were written.
func (s *sqlStore) SeedPreferences(ctx context.Context, values map[string]string) (int, error) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	n := 0
	for _, k := range keys {
		res, err := s.exec(ctx, "INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT (key) DO NOTHING", k, values[k])
		if err != nil {
			return n, errors.Wrapf(err, "seed %s", k)
		}
		if affected, _ := res.RowsAffected(); affected > 0 {
			n++
		}
	}
	return n, nil
}

// --- Settings Methods ---

// DefaultPollingInterval is used while no interval is stored, and is also
// the floor of stored values.
const DefaultPollingInterval = 15

// GetPollingInterval returns the polling interval in minutes, with a minimum of 15.
func (s *sqlStore) GetPollingInterval(ctx context.Context) (int, error) {
	val, ok, err := s.Preference(ctx, model.GlobalScope, model.SettingPollingInterval)
	if err != nil {
		return DefaultPollingInterval, err
	}
	mins, convErr := strconv.Atoi(val)
	if !ok || convErr != nil || mins < DefaultPollingInterval {
		return DefaultPollingInterval, nil
	}
	return mins, nil
}

// --- Helper functions ---

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

// rebindDollar turns ? placeholders into $1, $2, ... for PostgreSQL.
func rebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func requireRow(res sql.Result, kind string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if n == 0 {
		return errors.Wrapf(ErrNotFound, "%s %d", kind, id)
	}
	return nil
}

func scanFolders(rows *sql.Rows) ([]model.Folder, error) {
	var folders []model.Folder
	for rows.Next() {
		var f model.Folder
		if err := rows.Scan(&f.ID, &f.Name, &f.ParentID); err != nil {
			return nil, errors.Wrap(err, "scan folder")
		}
		folders = append(folders, f)
	}
	return folders, errors.Wrap(rows.Err(), "scan folders")
}

func scanFeeds(rows *sql.Rows) ([]model.Feed, error) {
	var feeds []model.Feed
	for rows.Next() {
		var f model.Feed
		var lastFetched sql.NullTime
		var iconURL, lastError sql.NullString
		if err := rows.Scan(&f.ID, &f.FolderID, &f.Title, &f.URL, &iconURL, &lastFetched, &lastError, &f.ItemCount); err != nil {
			return nil, errors.Wrap(err, "scan feed")
		}
		if lastFetched.Valid {
			f.LastFetched = lastFetched.Time
		}
		f.IconURL = iconURL.String
		f.LastError = lastError.String
		feeds = append(feeds, f)
	}
	return feeds, errors.Wrap(rows.Err(), "scan feeds")
}

func scanItems(rows *sql.Rows) ([]*model.Item, error) {
	var items []*model.Item
	for rows.Next() {
		it := &model.Item{}
		var publishedAt, fetchedAt sql.NullTime
		var content, link sql.NullString
		var state string
		if err := rows.Scan(&it.ID, &it.FeedID, &it.GUID, &it.Title, &content, &link,
			&publishedAt, &fetchedAt, &state, &it.Pinned); err != nil {
			return nil, errors.Wrap(err, "scan item")
		}
		if publishedAt.Valid {
			it.PublishedAt = publishedAt.Time
		}
		if fetchedAt.Valid {
			it.FetchedAt = fetchedAt.Time
		}
		it.Content = content.String
		it.Link = link.String
		st, err := model.ParseState(state)
		if err != nil {
			return nil, errors.Wrapf(err, "item %d", it.ID)
		}
		it.State = st
		items = append(items, it)
	}
	return items, errors.Wrap(rows.Err(), "scan items")
}
