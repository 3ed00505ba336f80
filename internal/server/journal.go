package server

import (
	"sync"

	"github.com/bryan-buckman/gleaner/internal/retention"
)

const defaultJournalSize = 256

// journal keeps the most recent retention runs that hid something, so they
// can be undone. The oldest run is evicted once the limit is reached.
type journal struct {
	mu      sync.Mutex
	limit   int
	order   []string
	reports map[string]*retention.Report
}

func newJournal(limit int) *journal {
	if limit < 1 {
		limit = 1
	}
	return &journal{
		limit:   limit,
		reports: make(map[string]*retention.Report),
	}
}

func (j *journal) record(reports ...*retention.Report) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, r := range reports {
		if r == nil || r.Transition.Empty() {
			continue
		}
		if _, ok := j.reports[r.RunID]; !ok {
			j.order = append(j.order, r.RunID)
		}
		j.reports[r.RunID] = r
	}
	for len(j.order) > j.limit {
		delete(j.reports, j.order[0])
		j.order = j.order[1:]
	}
}

// take removes and returns the run with the given id.
func (j *journal) take(runID string) (*retention.Report, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	r, ok := j.reports[runID]
	if !ok {
		return nil, false
	}
	delete(j.reports, runID)
	for i, id := range j.order {
		if id == runID {
			j.order = append(j.order[:i], j.order[i+1:]...)
			break
		}
	}
	return r, true
}

func (j *journal) len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.order)
}
