package model

import (
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseState(t *testing.T) {
	for _, s := range AllStates {
		got, err := ParseState(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}

	_, err := ParseState("archived")
	assert.True(t, errors.Is(err, ErrInvalidState))
	assert.Contains(t, err.Error(), `"archived"`)
}

func TestStateVisibility(t *testing.T) {
	visible := map[ItemState]bool{
		StateNew:     true,
		StateUnread:  true,
		StateRead:    true,
		StateUpdated: true,
		StateHidden:  false,
		StateDeleted: false,
	}
	for s, want := range visible {
		assert.Equal(t, want, s.Visible(), s.String())
	}
	assert.Equal(t, "state(42)", ItemState(42).String())
}

func TestItemJSON(t *testing.T) {
	data, err := json.Marshal(Item{ID: 3, State: StateHidden})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"state":"hidden"`)

	var it Item
	require.NoError(t, json.Unmarshal([]byte(`{"id":3,"state":"read","pinned":true}`), &it))
	assert.Equal(t, StateRead, it.State)
	assert.True(t, it.Persisted())
	assert.True(t, it.Visible())

	err = json.Unmarshal([]byte(`{"state":"gone"}`), &it)
	assert.True(t, errors.Is(err, ErrInvalidState))
}

func TestScope(t *testing.T) {
	assert.True(t, GlobalScope.IsGlobal())
	assert.Equal(t, "global", GlobalScope.String())
	assert.Equal(t, "feed:7", FeedScope(7).String())
	assert.False(t, FeedScope(7).IsGlobal())
}

func TestIsRetentionKey(t *testing.T) {
	for _, k := range RetentionKeys {
		assert.True(t, IsRetentionKey(k), k)
	}
	assert.False(t, IsRetentionKey(SettingPollingInterval))
}

func TestNode(t *testing.T) {
	assert.True(t, FeedNode(Feed{ID: 1}).IsLeaf())
	assert.False(t, FolderNode(Folder{ID: 1}).IsLeaf())
}
