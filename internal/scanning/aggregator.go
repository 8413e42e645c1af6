package scanning

import "sync"

// ResultAggregator collects probe results from concurrent workers. It only
// appends; completion order is kept but callers must not rely on it.
type ResultAggregator struct {
	mu         sync.Mutex
	results    []ProbeResult
	notScanned []ScanTarget
}

// NewResultAggregator creates an aggregator sized for expected results.
func NewResultAggregator(expected int) *ResultAggregator {
	if expected < 0 {
		expected = 0
	}
	return &ResultAggregator{
		results: make([]ProbeResult, 0, expected),
	}
}

// Add appends one result.
func (a *ResultAggregator) Add(result ProbeResult) {
	a.mu.Lock()
	a.results = append(a.results, result)
	a.mu.Unlock()
}

// AddAll appends a batch of results.
func (a *ResultAggregator) AddAll(results []ProbeResult) {
	if len(results) == 0 {
		return
	}
	a.mu.Lock()
	a.results = append(a.results, results...)
	a.mu.Unlock()
}

// MarkNotScanned records targets that were never probed.
func (a *ResultAggregator) MarkNotScanned(targets ...ScanTarget) {
	if len(targets) == 0 {
		return
	}
	a.mu.Lock()
	a.notScanned = append(a.notScanned, targets...)
	a.mu.Unlock()
}

// Results returns a copy of the collected results.
func (a *ResultAggregator) Results() []ProbeResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]ProbeResult, len(a.results))
	copy(out, a.results)
	return out
}

// NotScanned returns a copy of the targets that were never probed.
func (a *ResultAggregator) NotScanned() []ScanTarget {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]ScanTarget, len(a.notScanned))
	copy(out, a.notScanned)
	return out
}

// Len returns the number of collected results.
func (a *ResultAggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.results)
}
