// Package prefetch predicts the next page a caller is about to navigate to
// from its recent transition history and opportunistically warms the
// tables that page reads from, suppressed whenever a sync is already
// in-flight. Prefetch is a heuristic: nothing in the read path depends on
// it having run, and its results land through the same replicated-table
// write path as any other sync.
package prefetch

import "sync"

// successors tracks observed destinations from one starting page: counts
// keyed by destination, plus the order destinations were first seen in, so
// that Predict can break ties deterministically instead of depending on Go's
// randomized map iteration order.
type successors struct {
	counts map[string]int
	order  []string
}

// Predictor tracks (fromPage, toPage) transition frequencies and predicts
// the most likely successors of a given page.
type Predictor struct {
	mu          sync.Mutex
	transitions map[string]*successors
}

// NewPredictor creates an empty transition predictor.
func NewPredictor() *Predictor {
	return &Predictor{transitions: make(map[string]*successors)}
}

// Record registers one observed navigation from -> to.
func (p *Predictor) Record(from, to string) {
	if from == "" || to == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.transitions[from]
	if !ok {
		s = &successors{counts: make(map[string]int)}
		p.transitions[from] = s
	}
	if _, seen := s.counts[to]; !seen {
		s.order = append(s.order, to)
	}
	s.counts[to]++
}

// Predict returns up to topN pages most likely to follow from, ordered by
// observed frequency (highest first). Ties break by first-seen order to
// keep results deterministic across calls.
func (p *Predictor) Predict(from string, topN int) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.transitions[from]
	if !ok || topN <= 0 {
		return nil
	}

	pages := make([]string, len(s.order))
	copy(pages, s.order)

	// Stable insertion sort by descending count; pages retains first-seen
	// order as the tiebreak since insertion sort is stable.
	for i := 1; i < len(pages); i++ {
		j := i
		for j > 0 && s.counts[pages[j]] > s.counts[pages[j-1]] {
			pages[j], pages[j-1] = pages[j-1], pages[j]
			j--
		}
	}

	if topN > len(pages) {
		topN = len(pages)
	}
	return pages[:topN]
}
