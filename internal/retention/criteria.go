package retention

import (
	"sort"
	"time"

	"github.com/bryan-buckman/gleaner/internal/model"
)

// Criterion names one deletion rule.
type Criterion string

const (
	CriterionAge   Criterion = "age"
	CriterionCount Criterion = "count"
	CriterionRead  Criterion = "read"
)

// IsProtected reports whether it can never be deleted under cfg. Pinned and
// New items are always protected.
func IsProtected(it *model.Item, cfg Config) bool {
	switch {
	case it.Pinned:
		return true
	case it.State == model.StateNew:
		return true
	case it.State == model.StateUnread && cfg.ProtectUnread:
		return true
	case len(it.Labels) > 0 && cfg.ProtectLabeled:
		return true
	}
	return false
}

// collection is the set of items of one run with their protection computed
// once.
type collection struct {
	items     []*model.Item
	protected []bool
}

func newCollection(items []*model.Item, cfg Config) *collection {
	c := &collection{items: items, protected: make([]bool, len(items))}
	for i, it := range items {
		c.protected[i] = IsProtected(it, cfg)
	}
	return c
}

// eligible reports whether item i is visible and unprotected.
func (c *collection) eligible(i int) bool {
	return c.items[i].Visible() && !c.protected[i]
}

func (c *collection) age(cfg Config, now time.Time) []*model.Item {
	if !cfg.ageActive() {
		return nil
	}
	cutoff := now.AddDate(0, 0, -cfg.AgeDays)
	var out []*model.Item
	for i, it := range c.items {
		if c.eligible(i) && it.PublishedAt.Before(cutoff) {
			out = append(out, it)
		}
	}
	return out
}

func (c *collection) read(cfg Config) []*model.Item {
	if !cfg.readActive() {
		return nil
	}
	var out []*model.Item
	for i, it := range c.items {
		if c.eligible(i) && it.State == model.StateRead {
			out = append(out, it)
		}
	}
	return out
}

// count bounds against every visible item, protected ones included, but only
// takes from the unprotected pool.
func (c *collection) count(cfg Config) []*model.Item {
	if !cfg.countActive() {
		return nil
	}
	total := 0
	var pool []*model.Item
	for i, it := range c.items {
		if !it.Visible() {
			continue
		}
		total++
		if !c.protected[i] {
			pool = append(pool, it)
		}
	}
	excess := total - cfg.CountMax
	if excess <= 0 || len(pool) == 0 {
		return nil
	}
	sort.SliceStable(pool, func(a, b int) bool {
		return pool[a].PublishedAt.Before(pool[b].PublishedAt)
	})
	if excess > len(pool) {
		excess = len(pool)
	}
	return pool[:excess]
}

// AgeCandidates returns the items the age criterion would delete.
func AgeCandidates(items []*model.Item, cfg Config, now time.Time) []*model.Item {
	return newCollection(items, cfg).age(cfg, now)
}

// ReadCandidates returns the items the read-state criterion would delete.
func ReadCandidates(items []*model.Item, cfg Config) []*model.Item {
	return newCollection(items, cfg).read(cfg)
}

// CountCandidates returns the items the count criterion would delete.
func CountCandidates(items []*model.Item, cfg Config) []*model.Item {
	return newCollection(items, cfg).count(cfg)
}
