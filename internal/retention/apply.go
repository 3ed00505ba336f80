package retention

import (
	"context"

	"github.com/pkg/errors"

	"github.com/bryan-buckman/gleaner/internal/model"
)

// NewsStore changes item states in batches. propagate asks the store to
// apply the change to copies of the same item in other feeds as well.
type NewsStore interface {
	SetItemsState(ctx context.Context, itemIDs []int64, state model.ItemState, propagate bool) error
}

// StateGroup is a batch of items that shared the same state before a
// transition.
type StateGroup struct {
	Prior   model.ItemState `json:"prior"`
	ItemIDs []int64         `json:"item_ids"`
}

// Transition records one batched state change so it can be undone.
type Transition struct {
	FeedID int64           `json:"feed_id"`
	To     model.ItemState `json:"to"`
	Groups []StateGroup    `json:"groups,omitempty"`
}

// Empty reports whether the transition touched no item.
func (t Transition) Empty() bool { return len(t.Groups) == 0 }

// Len returns the number of items in the transition.
func (t Transition) Len() int {
	n := 0
	for _, g := range t.Groups {
		n += len(g.ItemIDs)
	}
	return n
}

// Revert restores every group to its prior state, one call per group.
func (t Transition) Revert(ctx context.Context, store NewsStore) error {
	for _, g := range t.Groups {
		if err := store.SetItemsState(ctx, g.ItemIDs, g.Prior, false); err != nil {
			return errors.Wrapf(err, "restore %d items of feed %d to %s", len(g.ItemIDs), t.FeedID, g.Prior)
		}
	}
	return nil
}

// groupByPriorState buckets stored items by their current state, in state
// declaration order.
func groupByPriorState(items []*model.Item) []StateGroup {
	buckets := make(map[model.ItemState][]int64)
	for _, it := range items {
		buckets[it.State] = append(buckets[it.State], it.ID)
	}
	var groups []StateGroup
	for _, s := range model.AllStates {
		if ids, ok := buckets[s]; ok {
			groups = append(groups, StateGroup{Prior: s, ItemIDs: ids})
		}
	}
	return groups
}

// hide moves stored items to Hidden, one batch per prior state. Items of a
// batch are only marked hidden in memory once their batch has been written.
// The returned transition holds the batches written so far.
func hide(ctx context.Context, store NewsStore, feedID int64, items []*model.Item) (Transition, error) {
	t := Transition{FeedID: feedID, To: model.StateHidden}
	if len(items) == 0 {
		return t, nil
	}
	byID := make(map[int64]*model.Item, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}
	for _, g := range groupByPriorState(items) {
		if err := store.SetItemsState(ctx, g.ItemIDs, model.StateHidden, false); err != nil {
			return t, errors.Wrapf(err, "hide %d %s items", len(g.ItemIDs), g.Prior)
		}
		for _, id := range g.ItemIDs {
			byID[id].State = model.StateHidden
		}
		t.Groups = append(t.Groups, g)
	}
	return t, nil
}
