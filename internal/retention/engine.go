package retention

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/bryan-buckman/gleaner/internal/model"
)

// Tree enumerates the subscription tree. Children of a nil folder are the
// root folders and the feeds outside any folder.
type Tree interface {
	Children(ctx context.Context, folderID *int64) ([]model.Node, error)
	// FeedItems returns the stored visible items of a feed, oldest first.
	FeedItems(ctx context.Context, feedID int64) ([]*model.Item, error)
}

// Observer is notified after every feed run.
type Observer interface {
	ObserveRun(report *Report, elapsed time.Duration, err error)
}

// Decision is the outcome of Decide.
type Decision struct {
	// Hide holds every item to purge, in collection order.
	Hide []*model.Item
	// Persist holds the unstored items that survived.
	Persist []*model.Item
	// Candidates counts the candidates of each enabled criterion.
	Candidates map[Criterion]int
}

// Decide computes which of items to purge under cfg. It has no side effects.
func Decide(cfg Config, items []*model.Item, now time.Time) Decision {
	c := newCollection(items, cfg)
	d := Decision{Candidates: make(map[Criterion]int)}

	marked := make(map[*model.Item]bool)
	mark := func(crit Criterion, candidates []*model.Item) {
		d.Candidates[crit] = len(candidates)
		for _, it := range candidates {
			marked[it] = true
		}
	}
	if cfg.ageActive() {
		mark(CriterionAge, c.age(cfg, now))
	}
	if cfg.countActive() {
		mark(CriterionCount, c.count(cfg))
	}
	if cfg.readActive() {
		mark(CriterionRead, c.read(cfg))
	}

	for _, it := range items {
		switch {
		case marked[it]:
			d.Hide = append(d.Hide, it)
		case !it.Persisted():
			d.Persist = append(d.Persist, it)
		}
	}
	return d
}

// Report describes one feed run.
type Report struct {
	RunID      string            `json:"run_id"`
	FeedID     int64             `json:"feed_id"`
	Config     Config            `json:"config"`
	Candidates map[Criterion]int `json:"candidates"`
	// Hidden holds the stored items moved to Hidden by the run.
	Hidden []*model.Item `json:"hidden"`
	// Dropped counts fetched items purged before ever being stored.
	Dropped    int           `json:"dropped"`
	Persist    []*model.Item `json:"-"`
	Transition Transition    `json:"transition"`

	// purged holds every item of the decision, stored or not, in collection
	// order. It is only set once the run succeeded.
	purged []*model.Item
}

// Affected returns the items the caller has to act on: the purged ones
// followed by the unstored survivors.
func (r *Report) Affected() []*model.Item {
	out := make([]*model.Item, 0, len(r.purged)+len(r.Persist))
	out = append(out, r.purged...)
	out = append(out, r.Persist...)
	return out
}

// Summary aggregates the reports of a tree walk.
type Summary struct {
	Feeds   int       `json:"feeds"`
	Hidden  int       `json:"hidden"`
	Reports []*Report `json:"reports"`
}

// addPartial keeps a failed run whose first batches were already written,
// so they can still be reverted.
func (s *Summary) addPartial(r *Report) {
	if r != nil && !r.Transition.Empty() {
		s.add(r)
	}
}

func (s *Summary) add(r *Report) {
	s.Feeds++
	s.Hidden += len(r.Hidden)
	if len(r.Hidden) > 0 {
		s.Reports = append(s.Reports, r)
	}
}

// Engine runs retention over feeds.
type Engine struct {
	tree     Tree
	store    NewsStore
	resolver *Resolver
	observer Observer
	logger   *logrus.Entry
	now      func() time.Time

	locks sync.Map // feed id -> *sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithObserver registers an observer for feed runs.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// WithLogger sets the logger.
func WithLogger(l *logrus.Entry) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an engine. The same store usually serves all three roles.
func NewEngine(tree Tree, prefs Preferences, store NewsStore, opts ...Option) *Engine {
	e := &Engine{
		tree:   tree,
		store:  store,
		now:    time.Now,
		logger: logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.WithField("component", "retention")
	e.resolver = NewResolver(prefs, e.logger)
	return e
}

// Resolver returns the resolver used by the engine.
func (e *Engine) Resolver() *Resolver { return e.resolver }

// ProcessAll runs retention on every feed of the tree.
func (e *Engine) ProcessAll(ctx context.Context) (*Summary, error) {
	return e.walk(ctx, nil)
}

// ProcessFolder runs retention on every feed below folder.
func (e *Engine) ProcessFolder(ctx context.Context, folder model.Folder) (*Summary, error) {
	id := folder.ID
	return e.walk(ctx, &id)
}

// ProcessNode runs retention on a folder subtree or a single feed.
func (e *Engine) ProcessNode(ctx context.Context, n model.Node) (*Summary, error) {
	if n.IsLeaf() {
		s := &Summary{}
		r, err := e.ProcessFeed(ctx, *n.Feed)
		if err != nil {
			s.addPartial(r)
			return s, err
		}
		s.add(r)
		return s, nil
	}
	if n.Folder == nil {
		return nil, errors.New("empty tree node")
	}
	return e.ProcessFolder(ctx, *n.Folder)
}

// walk processes the subtree under root with an explicit stack. Feeds are
// processed one at a time, each to completion.
func (e *Engine) walk(ctx context.Context, root *int64) (*Summary, error) {
	summary := &Summary{}
	stack := []*int64{root}
	seen := make(map[int64]bool)
	for len(stack) > 0 {
		parent := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		children, err := e.tree.Children(ctx, parent)
		if err != nil {
			return summary, errors.Wrap(err, "list children")
		}
		for _, child := range children {
			if !child.IsLeaf() {
				if child.Folder == nil || seen[child.Folder.ID] {
					continue
				}
				seen[child.Folder.ID] = true
				id := child.Folder.ID
				stack = append(stack, &id)
				continue
			}
			if err := ctx.Err(); err != nil {
				return summary, err
			}
			report, err := e.ProcessFeed(ctx, *child.Feed)
			if err != nil {
				summary.addPartial(report)
				return summary, errors.Wrapf(err, "feed %d", child.Feed.ID)
			}
			summary.add(report)
		}
	}
	return summary, nil
}

// ProcessFeed runs retention on the stored items of feed.
func (e *Engine) ProcessFeed(ctx context.Context, feed model.Feed) (*Report, error) {
	return e.run(ctx, feed, nil)
}

// ProcessIncoming runs retention on the stored items of feed merged with
// freshly fetched ones. Items of incoming that already carry an ID are
// ignored. It returns the purged items followed by the fetched items that
// survived: purged stored items are already hidden in the store, purged
// fetched items come back in the Hidden state and must be dropped, surviving
// fetched items still have to be stored by the caller.
func (e *Engine) ProcessIncoming(ctx context.Context, feed model.Feed, incoming []*model.Item) ([]*model.Item, error) {
	r, err := e.run(ctx, feed, incoming)
	if err != nil {
		return nil, err
	}
	return r.Affected(), nil
}

// RunIncoming is ProcessIncoming returning the full report.
func (e *Engine) RunIncoming(ctx context.Context, feed model.Feed, incoming []*model.Item) (*Report, error) {
	return e.run(ctx, feed, incoming)
}

func (e *Engine) run(ctx context.Context, feed model.Feed, incoming []*model.Item) (report *Report, err error) {
	unlock := e.lock(feed.ID)
	defer unlock()

	start := time.Now()
	report = &Report{RunID: uuid.NewString(), FeedID: feed.ID}
	log := e.logger.WithFields(logrus.Fields{"run_id": report.RunID, "feed_id": feed.ID})
	defer func() {
		if e.observer != nil {
			e.observer.ObserveRun(report, time.Since(start), err)
		}
		if err != nil {
			log.WithError(err).Error("retention run failed")
		}
	}()

	cfg, err := e.resolver.Resolve(ctx, feed.ID)
	if err != nil {
		return report, errors.Wrap(err, "resolve config")
	}
	report.Config = cfg

	stored, err := e.tree.FeedItems(ctx, feed.ID)
	if err != nil {
		return report, errors.Wrap(err, "load items")
	}
	items := make([]*model.Item, 0, len(stored)+len(incoming))
	items = append(items, stored...)
	for _, it := range incoming {
		if !it.Persisted() {
			items = append(items, it)
		}
	}

	d := Decide(cfg, items, e.now())
	report.Candidates = d.Candidates
	report.Persist = d.Persist
	log.WithFields(logrus.Fields{
		"items":      len(items),
		"incoming":   len(items) - len(stored),
		"candidates": d.Candidates,
		"hide":       len(d.Hide),
	}).Debug("retention decision")

	var toStore, toDrop []*model.Item
	for _, it := range d.Hide {
		if it.Persisted() {
			toStore = append(toStore, it)
		} else {
			toDrop = append(toDrop, it)
		}
	}

	report.Transition, err = hide(ctx, e.store, feed.ID, toStore)
	for _, it := range toStore {
		if it.State == model.StateHidden {
			report.Hidden = append(report.Hidden, it)
		}
	}
	if err != nil {
		// Fetched items stay as they came in so the caller can still store them.
		return report, err
	}
	for _, it := range toDrop {
		it.State = model.StateHidden
	}
	report.Dropped = len(toDrop)
	report.purged = d.Hide
	if len(d.Hide) > 0 {
		log.WithFields(logrus.Fields{
			"hidden":  report.Transition.Len(),
			"dropped": report.Dropped,
		}).Info("retention applied")
	}
	return report, nil
}

// lock serializes runs on the same feed.
func (e *Engine) lock(feedID int64) func() {
	v, _ := e.locks.LoadOrStore(feedID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
