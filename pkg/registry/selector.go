package registry

import "math/rand"

// Selector picks one eligible worker according to the registry's current
// algorithm. It is pure with respect to the registry's snapshot inputs,
// except for round-robin, which advances a shared cursor.
//
// Grounded on the teacher's pkg/router.pickBestWorker / Score, generalized
// from "weighted-random among top-3 GPU scores" to the four named
// policies of spec.md §4.2.
type Selector struct {
	registry *Registry
}

// NewSelector builds a Selector bound to the given Registry.
func NewSelector(r *Registry) *Selector {
	return &Selector{registry: r}
}

// Select returns the chosen worker, or nil if none is eligible.
func (s *Selector) Select() *Worker {
	switch s.registry.Algorithm() {
	case "round-robin":
		return s.selectRoundRobin()
	case "least-connections":
		return s.selectLeastConnections()
	case "weighted":
		return s.selectWeighted()
	case "random":
		return s.selectRandom()
	default:
		return s.selectRoundRobin()
	}
}

// selectRoundRobin atomically advances the cursor, then scans the full
// worker list (not just the eligible subset) starting at cursor mod N,
// returning the first eligible worker. The scan is bounded by N.
func (s *Selector) selectRoundRobin() *Worker {
	all := s.registry.Workers()
	n := len(all)
	if n == 0 {
		return nil
	}
	start := int(s.registry.NextRoundRobinCursor() % uint64(n))
	for i := 0; i < n; i++ {
		w := all[(start+i)%n]
		if w.Eligible(s.registry.isEnabled(w)) {
			return w
		}
	}
	return nil
}

// selectLeastConnections scans the eligible set once and returns the
// worker with the minimum currentLoad. Ties break by first-encountered
// (stable registration order).
func (s *Selector) selectLeastConnections() *Worker {
	eligible := s.registry.EligibleWorkers()
	if len(eligible) == 0 {
		return nil
	}
	best := eligible[0]
	bestLoad := best.CurrentLoad()
	for _, w := range eligible[1:] {
		if load := w.CurrentLoad(); load < bestLoad {
			best = w
			bestLoad = load
		}
	}
	return best
}

// selectWeighted draws uniformly from [0, W) over the eligible set's
// summed weight and walks the list subtracting each worker's weight. If
// the total eligible weight is zero, it falls back to the first eligible
// worker (spec.md §4.2, §9 open question resolution).
func (s *Selector) selectWeighted() *Worker {
	eligible := s.registry.EligibleWorkers()
	if len(eligible) == 0 {
		return nil
	}

	var total int64
	weights := make([]int64, len(eligible))
	for i, w := range eligible {
		weights[i] = s.registry.WorkerWeight(w)
		total += weights[i]
	}
	if total <= 0 {
		return eligible[0]
	}

	r := rand.Int63n(total)
	for i, w := range eligible {
		r -= weights[i]
		if r < 0 {
			return w
		}
	}
	return eligible[len(eligible)-1]
}

// selectRandom picks uniformly from the eligible set.
func (s *Selector) selectRandom() *Worker {
	eligible := s.registry.EligibleWorkers()
	if len(eligible) == 0 {
		return nil
	}
	return eligible[rand.Intn(len(eligible))]
}

// isEnabled reads the structural enabled flag under the registry's lock,
// used only by round-robin's full-list scan (the eligible-set helpers
// already fold this in).
func (r *Registry) isEnabled(w *Worker) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return w.enabled
}
