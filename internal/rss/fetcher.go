// Package rss provides feed fetching and parsing.
package rss

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/bryan-buckman/gleaner/internal/database"
	"github.com/bryan-buckman/gleaner/internal/model"
)

// Concurrency settings
const (
	// MaxConcurrencyPostgres is the number of parallel fetches for PostgreSQL
	MaxConcurrencyPostgres = 10
	// MaxConcurrencySQLite is the number of parallel fetches for SQLite (limited due to locking)
	MaxConcurrencySQLite = 1
	// MaxConcurrencyPerDomain limits parallel requests to any single domain
	MaxConcurrencyPerDomain = 2
	// DelayBetweenDomainRequests is the minimum delay between requests to the same domain
	DelayBetweenDomainRequests = 500 * time.Millisecond
)

// maxErrorLen bounds the fetch error kept on the feed.
const maxErrorLen = 200

// domainLimiter controls rate limiting per domain to avoid overwhelming hosts.
type domainLimiter struct {
	mu          sync.Mutex
	semaphores  map[string]chan struct{}
	lastRequest map[string]time.Time
	delay       time.Duration
}

func newDomainLimiter(delay time.Duration) *domainLimiter {
	return &domainLimiter{
		semaphores:  make(map[string]chan struct{}),
		lastRequest: make(map[string]time.Time),
		delay:       delay,
	}
}

// acquire gets a slot for the domain, blocking if necessary.
// It also enforces the minimum delay between requests to the same domain.
func (dl *domainLimiter) acquire(ctx context.Context, domain string) error {
	dl.mu.Lock()
	sem, ok := dl.semaphores[domain]
	if !ok {
		sem = make(chan struct{}, MaxConcurrencyPerDomain)
		dl.semaphores[domain] = sem
	}
	dl.mu.Unlock()

	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	dl.mu.Lock()
	lastReq := dl.lastRequest[domain]
	dl.mu.Unlock()

	if !lastReq.IsZero() {
		if elapsed := time.Since(lastReq); elapsed < dl.delay {
			select {
			case <-time.After(dl.delay - elapsed):
			case <-ctx.Done():
				<-sem
				return ctx.Err()
			}
		}
	}
	return nil
}

// release returns a slot for the domain and records the request time.
func (dl *domainLimiter) release(domain string) {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	dl.lastRequest[domain] = time.Now()
	if sem, ok := dl.semaphores[domain]; ok {
		<-sem
	}
}

// extractDomain gets the host from a URL.
func extractDomain(feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil {
		return feedURL
	}
	return u.Host
}

// Retainer runs merge-mode retention over freshly fetched items. It returns
// the purged items (stored ones carry an ID, unstored ones come back Hidden)
// followed by the unstored survivors.
type Retainer interface {
	ProcessIncoming(ctx context.Context, feed model.Feed, incoming []*model.Item) ([]*model.Item, error)
}

// IngestRecorder counts the fate of fetched items that were new to the store.
type IngestRecorder interface {
	RecordIngest(persisted, dropped int)
}

// Fetcher handles RSS feed fetching.
type Fetcher struct {
	db            database.Store
	parser        *gofeed.Parser
	concurrency   int
	domainLimiter *domainLimiter
	retainer      Retainer
	recorder      IngestRecorder
	logger        *logrus.Entry
	now           func() time.Time
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithRetainer runs retention on every fetched feed before storing its new
// items.
func WithRetainer(r Retainer) Option {
	return func(f *Fetcher) { f.retainer = r }
}

// WithIngestRecorder reports persisted and dropped item counts.
func WithIngestRecorder(r IngestRecorder) Option {
	return func(f *Fetcher) { f.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(l *logrus.Entry) Option {
	return func(f *Fetcher) { f.logger = l }
}

// WithDomainDelay overrides DelayBetweenDomainRequests.
func WithDomainDelay(d time.Duration) Option {
	return func(f *Fetcher) { f.domainLimiter = newDomainLimiter(d) }
}

// NewFetcher creates a new fetcher with concurrency based on database type.
func NewFetcher(db database.Store, opts ...Option) *Fetcher {
	concurrency := MaxConcurrencySQLite
	if db.SupportsHighConcurrency() {
		concurrency = MaxConcurrencyPostgres
	}
	f := &Fetcher{
		db:            db,
		parser:        gofeed.NewParser(),
		concurrency:   concurrency,
		domainLimiter: newDomainLimiter(DelayBetweenDomainRequests),
		logger:        logrus.NewEntry(logrus.StandardLogger()),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.WithField("component", "fetcher")
	return f
}

// FetchFeed fetches and parses a single feed and stores the items that are
// new to it. With a retainer, the new items first go through merge-mode
// retention and only the survivors are stored.
// Returns the number of new items added.
func (f *Fetcher) FetchFeed(ctx context.Context, feed model.Feed) (int, error) {
	log := f.logger.WithField("feed_id", feed.ID)

	domain := extractDomain(feed.URL)
	if err := f.domainLimiter.acquire(ctx, domain); err != nil {
		return 0, errors.Wrapf(err, "rate limit cancelled for %s", feed.URL)
	}
	defer f.domainLimiter.release(domain)

	parsed, err := f.parser.ParseURLWithContext(feed.URL, ctx)
	if err != nil {
		errMsg := err.Error()
		if len(errMsg) > maxErrorLen {
			errMsg = errMsg[:maxErrorLen]
		}
		if uerr := f.db.UpdateFeedError(ctx, feed.ID, errMsg); uerr != nil {
			log.WithError(uerr).Warn("failed to record fetch error")
		}
		return 0, errors.Wrapf(err, "parse feed %s", feed.URL)
	}

	// Update feed title from the feed if it is still just the URL.
	if parsed.Title != "" && parsed.Title != feed.Title && feed.Title == feed.URL {
		if err := f.db.UpdateFeedTitle(ctx, feed.ID, parsed.Title); err != nil {
			log.WithError(err).Warn("failed to update feed title")
		} else {
			log.WithField("title", parsed.Title).Info("updated feed title")
			feed.Title = parsed.Title
		}
	}

	now := f.now()
	fetched := buildItems(feed.ID, parsed.Items, now)
	fresh, err := f.unseen(ctx, feed.ID, fetched)
	if err != nil {
		return 0, err
	}

	toStore, dropped := fresh, 0
	if f.retainer != nil {
		toStore, dropped, err = f.retain(ctx, feed, fresh)
		if err != nil {
			// Keep everything rather than lose items; the next run catches up.
			log.WithError(err).Warn("retention failed, storing every new item")
			toStore, dropped = fresh, 0
		}
	}

	newCount := 0
	for _, it := range toStore {
		_, isNew, err := f.db.AddItem(ctx, it)
		if err != nil {
			log.WithError(err).WithField("guid", it.GUID).Error("failed to add item")
			continue
		}
		if isNew {
			newCount++
		}
	}
	if f.recorder != nil {
		f.recorder.RecordIngest(newCount, dropped)
	}

	if err := f.db.UpdateFeedLastFetched(ctx, feed.ID, now); err != nil {
		log.WithError(err).Warn("failed to update last fetched time")
	}
	log.WithFields(logrus.Fields{
		"fetched": len(fetched),
		"new":     newCount,
		"dropped": dropped,
	}).Debug("feed fetched")
	return newCount, nil
}

// buildItems converts parsed entries into unstored items, skipping entries
// without identity and repeated GUIDs.
func buildItems(feedID int64, entries []*gofeed.Item, now time.Time) []*model.Item {
	seen := make(map[string]bool, len(entries))
	items := make([]*model.Item, 0, len(entries))
	for _, entry := range entries {
		guid := entry.GUID
		if guid == "" {
			guid = entry.Link
		}
		if guid == "" || seen[guid] {
			continue
		}
		seen[guid] = true

		pubDate := now
		if entry.PublishedParsed != nil {
			pubDate = *entry.PublishedParsed
		} else if entry.UpdatedParsed != nil {
			pubDate = *entry.UpdatedParsed
		}
		it := &model.Item{
			FeedID:      feedID,
			GUID:        guid,
			Title:       entry.Title,
			Content:     entry.Content,
			Link:        entry.Link,
			PublishedAt: pubDate,
			FetchedAt:   now,
			State:       model.StateUnread,
		}
		if it.Content == "" {
			it.Content = entry.Description
		}
		items = append(items, it)
	}
	return items
}

// unseen drops the items whose GUID is already stored for the feed.
func (f *Fetcher) unseen(ctx context.Context, feedID int64, items []*model.Item) ([]*model.Item, error) {
	if len(items) == 0 {
		return nil, nil
	}
	guids := make([]string, len(items))
	for i, it := range items {
		guids[i] = it.GUID
	}
	existing, err := f.db.ExistingGUIDs(ctx, feedID, guids)
	if err != nil {
		return nil, errors.Wrapf(err, "check stored items of feed %d", feedID)
	}
	fresh := items[:0:0]
	for _, it := range items {
		if !existing[it.GUID] {
			fresh = append(fresh, it)
		}
	}
	return fresh, nil
}

// retain runs merge-mode retention and splits its result into the items to
// store and the number of fetched items dropped.
func (f *Fetcher) retain(ctx context.Context, feed model.Feed, fresh []*model.Item) ([]*model.Item, int, error) {
	affected, err := f.retainer.ProcessIncoming(ctx, feed, fresh)
	if err != nil {
		return nil, 0, err
	}
	var (
		toStore []*model.Item
		dropped int
	)
	for _, it := range affected {
		switch {
		case it.Persisted():
			// Stored item hidden by the run.
		case it.State == model.StateHidden:
			dropped++
		default:
			toStore = append(toStore, it)
		}
	}
	return toStore, dropped, nil
}

// FetchResult holds the result of fetching a single feed.
type FetchResult struct {
	FeedID   int64
	NewItems int
	Error    error
}

// FetchAll fetches all feeds with configurable concurrency.
// Uses parallel workers for PostgreSQL, sequential for SQLite.
// Returns a map of feed ID -> new item count.
func (f *Fetcher) FetchAll(ctx context.Context) (map[int64]int, error) {
	feeds, err := f.db.GetAllFeeds(ctx)
	if err != nil {
		return nil, err
	}

	if len(feeds) == 0 {
		return make(map[int64]int), nil
	}

	f.logger.WithFields(logrus.Fields{
		"feeds":       len(feeds),
		"concurrency": f.concurrency,
	}).Info("fetching feeds")

	if f.concurrency <= 1 {
		return f.fetchSequential(ctx, feeds)
	}
	return f.fetchParallel(ctx, feeds)
}

// fetchSequential fetches feeds one at a time (for SQLite).
func (f *Fetcher) fetchSequential(ctx context.Context, feeds []model.Feed) (map[int64]int, error) {
	results := make(map[int64]int)

	for i, feed := range feeds {
		select {
		case <-ctx.Done():
			f.logger.Warnf("fetch cancelled after %d/%d feeds", i, len(feeds))
			return results, ctx.Err()
		default:
		}

		count, err := f.FetchFeed(ctx, feed)
		if err != nil {
			f.logger.WithError(err).WithField("url", feed.URL).Warn("failed to fetch feed")
			continue
		}
		results[feed.ID] = count

		if (i+1)%50 == 0 {
			f.logger.Infof("progress: %d/%d feeds fetched", i+1, len(feeds))
		}
	}

	return results, nil
}

// fetchParallel fetches feeds using a worker pool (for PostgreSQL).
func (f *Fetcher) fetchParallel(ctx context.Context, feeds []model.Feed) (map[int64]int, error) {
	var wg sync.WaitGroup

	results := make(map[int64]int)
	feedChan := make(chan model.Feed, len(feeds))
	resultChan := make(chan FetchResult, len(feeds))

	for i := 0; i < f.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for feed := range feedChan {
				if ctx.Err() != nil {
					return
				}
				count, err := f.FetchFeed(ctx, feed)
				resultChan <- FetchResult{FeedID: feed.ID, NewItems: count, Error: err}
			}
		}()
	}

	go func() {
		defer close(feedChan)
		for _, feed := range feeds {
			select {
			case <-ctx.Done():
				return
			case feedChan <- feed:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	completed := 0
	for result := range resultChan {
		if result.Error != nil {
			f.logger.WithError(result.Error).WithField("feed_id", result.FeedID).Warn("failed to fetch feed")
			continue
		}
		results[result.FeedID] = result.NewItems
		completed++
		if completed%50 == 0 {
			f.logger.Infof("progress: %d/%d feeds fetched", completed, len(feeds))
		}
	}

	return results, ctx.Err()
}
