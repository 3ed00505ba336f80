package rss

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// fetchTimeout bounds one polling round.
const fetchTimeout = 10 * time.Minute

// Poller runs continuous polling.
type Poller struct {
	fetcher *Fetcher
	logger  *logrus.Entry
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPoller creates a background poller around fetcher. The interval is read
// from the store before every round.
func NewPoller(fetcher *Fetcher) *Poller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		fetcher: fetcher,
		logger:  fetcher.logger.WithField("component", "poller"),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start begins the polling loop.
func (p *Poller) Start() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			interval, err := p.fetcher.db.GetPollingInterval(p.ctx)
			if err != nil {
				p.logger.WithError(err).Warn("failed to read polling interval")
			}
			p.logger.WithField("interval_minutes", interval).Info("fetching all feeds")

			ctx, cancel := context.WithTimeout(p.ctx, fetchTimeout)
			results, err := p.fetcher.FetchAll(ctx)
			cancel()

			if p.ctx.Err() != nil {
				return
			}
			if err != nil {
				p.logger.WithError(err).Error("polling round failed")
			} else {
				total := 0
				for _, c := range results {
					total += c
				}
				p.logger.WithFields(logrus.Fields{"new_items": total, "feeds": len(results)}).Info("polling round completed")
			}

			select {
			case <-p.ctx.Done():
				return
			case <-time.After(time.Duration(interval) * time.Minute):
			}
		}
	}()
}

// Stop cancels the running round and waits for the loop to exit.
func (p *Poller) Stop() {
	p.cancel()
	p.wg.Wait()
}
