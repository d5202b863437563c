package search

import "sync"

// DefaultCollectorLimit bounds how many results a single intent can
// accumulate before further results are dropped.
const DefaultCollectorLimit = 100

// Collector accumulates search results produced by tool executions
// during a single intent-processing call. It is append-only and
// bounded; the orchestrator creates a fresh collector per intent.
type Collector struct {
	mu      sync.Mutex
	limit   int
	results []Result
}

// NewCollector creates a collector with the given result limit.
// A non-positive limit falls back to DefaultCollectorLimit.
func NewCollector(limit int) *Collector {
	if limit <= 0 {
		limit = DefaultCollectorLimit
	}
	return &Collector{limit: limit}
}

// Add appends results, dropping anything past the collector limit.
func (c *Collector) Add(results ...Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, r := range results {
		if len(c.results) >= c.limit {
			return
		}
		c.results = append(c.results, r)
	}
}

// Snapshot returns a copy of the accumulated results in append order.
func (c *Collector) Snapshot() []Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Result, len(c.results))
	copy(out, c.results)
	return out
}

// Len returns the number of accumulated results.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.results)
}
