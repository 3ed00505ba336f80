package rss

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPollerFetchesOnStart(t *testing.T) {
	body := rssBody("Blog", entry{"a", day}, entry{"b", day.Add(time.Hour)})
	srv := serveFeed(t, &body)
	db := newTestDB(t)
	feed := addFeed(t, db, srv.URL)

	p := NewPoller(NewFetcher(db, WithDomainDelay(0)))
	p.Start()

	assert.Eventually(t, func() bool {
		items, err := db.FeedItems(context.Background(), feed.ID)
		return err == nil && len(items) == 2
	}, 5*time.Second, 20*time.Millisecond)

	done := make(chan struct{})
	go func() {
		p.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		require.FailNow(t, "poller did not stop")
	}
}

func TestPollerStopCancelsRunningRound(t *testing.T) {
	entered := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case entered <- struct{}{}:
		default:
		}
		select {
		case <-r.Context().Done():
		case <-time.After(10 * time.Second):
		}
	}))
	defer srv.Close()
	db := newTestDB(t)
	addFeed(t, db, srv.URL)

	p := NewPoller(NewFetcher(db, WithDomainDelay(0)))
	p.Start()
	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		require.FailNow(t, "feed was never requested")
	}

	start := time.Now()
	p.Stop()
	assert.Less(t, time.Since(start), 2*time.Second)
}
