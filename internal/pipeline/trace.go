package pipeline

import (
	"sync"
	"time"
)

// TraceEntry is a stored run trace.
type TraceEntry struct {
	RunID      string        `json:"run_id"`
	StoredAt   time.Time     `json:"stored_at"`
	Success    bool          `json:"success"`
	Status     string        `json:"status"`
	Warnings   []string      `json:"warnings,omitempty"`
	StageTrace []StageResult `json:"stage_trace"`
	Debug      Debug         `json:"debug"`
}

// TraceStore keeps the traces of recent runs in a bounded in-memory ring.
// Image bytes are never stored. Safe for concurrent use.
type TraceStore struct {
	mu      sync.Mutex
	max     int
	order   []string
	entries map[string]*TraceEntry
}

// NewTraceStore creates a store retaining at most max traces.
func NewTraceStore(max int) *TraceStore {
	if max <= 0 {
		max = 64
	}
	return &TraceStore{
		max:     max,
		entries: make(map[string]*TraceEntry),
	}
}

// Put stores the trace of a finished run, evicting the oldest at capacity.
func (s *TraceStore) Put(runID string, result *Result) {
	if result == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[runID]; !exists {
		s.order = append(s.order, runID)
	}
	s.entries[runID] = &TraceEntry{
		RunID:      runID,
		StoredAt:   time.Now(),
		Success:    result.Success,
		Status:     result.Status,
		Warnings:   result.Warnings,
		StageTrace: result.StageTrace,
		Debug:      result.Debug,
	}

	for len(s.order) > s.max {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.entries, oldest)
	}
}

// Get returns the trace for a run, or nil when unknown or evicted.
func (s *TraceStore) Get(runID string) *TraceEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[runID]
}
