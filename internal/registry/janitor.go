package registry

import (
	"log/slog"
	"sort"
	"time"

	"github.com/vodarr/vodarr/internal/models"
)

// Janitor evicts stale terminal records and enforces the retention
// caps. The scheduler runs it every minute. Returns the number of
// records evicted.
//
// A terminal record expires when now - max(finished_at, last_access)
// exceeds the retention window, so a stream that is still being watched
// survives past its completion.
func (r *Registry) Janitor() int {
	now := time.Now().UTC()

	r.mu.Lock()
	var evict []string

	for id, e := range r.jobs {
		if !e.job.Status.IsTerminal() {
			continue
		}
		if now.Sub(terminalRef(e.job)) > r.retention {
			evict = append(evict, id)
			delete(r.jobs, id)
		}
	}

	terminals := r.terminalsOldestFirstLocked()
	for len(terminals) > r.maxTerminal {
		id := terminals[0]
		terminals = terminals[1:]
		evict = append(evict, id)
		delete(r.jobs, id)
	}

	// Only terminal records are ever evictable; live jobs over the
	// total cap is a submit-side bug, not something to clean up here.
	for len(r.jobs) > r.maxTotal && len(terminals) > 0 {
		id := terminals[0]
		terminals = terminals[1:]
		evict = append(evict, id)
		delete(r.jobs, id)
	}
	r.mu.Unlock()

	r.removeDirs(evict)
	if len(evict) > 0 {
		r.logger.Info("janitor evicted jobs", slog.Int("count", len(evict)))
	}
	return len(evict)
}

// evictOldestTerminalLocked removes up to n oldest terminal records and
// returns their IDs so the caller can remove the working directories
// outside the lock.
func (r *Registry) evictOldestTerminalLocked(n int) []string {
	terminals := r.terminalsOldestFirstLocked()
	if len(terminals) > n {
		terminals = terminals[:n]
	}
	for _, id := range terminals {
		delete(r.jobs, id)
	}
	return terminals
}

// terminalsOldestFirstLocked returns the IDs of terminal records,
// oldest completion first.
func (r *Registry) terminalsOldestFirstLocked() []string {
	type aged struct {
		id  string
		ref time.Time
	}
	var list []aged
	for id, e := range r.jobs {
		if e.job.Status.IsTerminal() {
			list = append(list, aged{id: id, ref: terminalRef(e.job)})
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].ref.Equal(list[j].ref) {
			return list[i].id < list[j].id
		}
		return list[i].ref.Before(list[j].ref)
	})
	ids := make([]string, len(list))
	for i, a := range list {
		ids[i] = a.id
	}
	return ids
}

// terminalRef is the retention reference time of a terminal record.
func terminalRef(j *models.Job) time.Time {
	ref := j.LastAccess
	if j.FinishedAt != nil && j.FinishedAt.After(ref) {
		ref = *j.FinishedAt
	}
	return ref
}
