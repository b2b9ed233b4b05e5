package jobs

import (
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// FailedJob is an exhausted job kept for inspection.
type FailedJob struct {
	Job      Job       `json:"job"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failedAt"`
}

// FailureLog retains the most recent failures per job type.
type FailureLog struct {
	mu     sync.Mutex
	byType map[Type]*lru.Cache[string, FailedJob]
}

func NewFailureLog() *FailureLog {
	return &FailureLog{byType: map[Type]*lru.Cache[string, FailedJob]{}}
}

// Add records a failure, evicting the oldest entry of the type beyond keep.
func (f *FailureLog) Add(job Job, err error, keep int) {
	if keep <= 0 {
		return
	}
	f.mu.Lock()
	cache, ok := f.byType[job.Type]
	if !ok {
		cache, _ = lru.New[string, FailedJob](keep)
		f.byType[job.Type] = cache
	}
	f.mu.Unlock()

	cache.Add(job.ID, FailedJob{Job: job, Error: err.Error(), FailedAt: time.Now().UTC()})
}

// List returns failures of t, oldest first.
func (f *FailureLog) List(t Type) []FailedJob {
	f.mu.Lock()
	cache, ok := f.byType[t]
	f.mu.Unlock()
	if !ok {
		return nil
	}
	return cache.Values()
}

// Snapshot returns every retained failure grouped by type.
func (f *FailureLog) Snapshot() map[Type][]FailedJob {
	f.mu.Lock()
	types := make([]Type, 0, len(f.byType))
	for t := range f.byType {
		types = append(types, t)
	}
	f.mu.Unlock()
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	out := make(map[Type][]FailedJob, len(types))
	for _, t := range types {
		out[t] = f.List(t)
	}
	return out
}
