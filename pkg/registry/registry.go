// Package registry owns the canonical list of backend workers and their
// mutable operational state.
package registry

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Worker is one backend entity known to the dispatcher.
//
// Name, URL, Color and MaxLoad are set once by AddWorker and never
// change. The structural fields weight and enabled are guarded by the
// owning Registry's mutex. The operational counters are atomics so the
// hot forwarding path never contends on that mutex.
type Worker struct {
	Name    string
	URL     string
	Color   string
	MaxLoad int

	weight  int64 // guarded by Registry.mu
	enabled bool  // guarded by Registry.mu

	healthy        atomic.Bool
	circuitOpen    atomic.Bool
	currentLoad    atomic.Int64
	totalRequests  atomic.Int64
	failedRequests atomic.Int64
	consecFailures atomic.Int64
}

// Eligible reports whether the worker may currently be selected.
func (w *Worker) Eligible(enabled bool) bool {
	return enabled && w.healthy.Load() && !w.circuitOpen.Load()
}

// CurrentLoad returns the live in-flight forward count.
func (w *Worker) CurrentLoad() int64 { return w.currentLoad.Load() }

// BeginForward marks the start of one dispatched task. Pairs with EndForward.
func (w *Worker) BeginForward() {
	w.currentLoad.Add(1)
	w.totalRequests.Add(1)
}

// EndForward marks the end of one dispatched task, success or failure.
func (w *Worker) EndForward() { w.currentLoad.Add(-1) }

// MarkFailedRequest increments the failure counter for a forward outcome.
func (w *Worker) MarkFailedRequest() { w.failedRequests.Add(1) }

// WorkerView is an immutable value copy of a worker's externally
// observable state, safe to serialize without further locking.
type WorkerView struct {
	Name           string `json:"name"`
	URL            string `json:"url"`
	Color          string `json:"color"`
	Weight         int    `json:"weight"`
	MaxLoad        int    `json:"maxLoad"`
	Healthy        bool   `json:"healthy"`
	CurrentLoad    int64  `json:"currentLoad"`
	Enabled        bool   `json:"enabled"`
	TotalRequests  int64  `json:"totalRequests"`
	FailedRequests int64  `json:"failedRequests"`
	CircuitOpen    bool   `json:"circuitOpen"`
}

// Snapshot is the immutable `{ algorithm, workers: [...] }` value copy
// returned by Registry.Snapshot and broadcast to push-stream subscribers.
type Snapshot struct {
	Algorithm string       `json:"algorithm"`
	Workers   []WorkerView `json:"workers"`
}

// OnChange is invoked after a state-changing registry operation, so
// callers (the dispatcher's broadcaster) can push a fresh snapshot.
type OnChange func()

// Registry is the ordered sequence of Worker plus runtime-switchable
// policy state.
type Registry struct {
	mu               sync.RWMutex
	workers          []*Worker
	byName           map[string]*Worker
	algorithm        atomic.Value // string
	roundRobinCursor atomic.Uint64

	circuitThreshold int64

	onChange OnChange
}

// New creates an empty Registry with the given initial algorithm and
// circuit-breaker threshold. Workers are added with AddWorker before the
// registry is put into service.
func New(initialAlgorithm string, circuitThreshold int64, onChange OnChange) *Registry {
	if circuitThreshold <= 0 {
		circuitThreshold = 3
	}
	r := &Registry{
		byName:           make(map[string]*Worker),
		circuitThreshold: circuitThreshold,
		onChange:         onChange,
	}
	r.algorithm.Store(initialAlgorithm)
	return r
}

// CircuitThreshold returns the configured consecutive-failure threshold.
func (r *Registry) CircuitThreshold() int64 { return r.circuitThreshold }

// AddWorker appends a new worker to the ordered list. Startup only: no
// runtime add/remove is supported (§3 Lifecycle, Non-goals).
func (r *Registry) AddWorker(name, url, color string, weight, maxLoad int) error {
	if name == "" {
		return fmt.Errorf("registry: worker name must not be empty")
	}
	if weight <= 0 {
		weight = 1
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("registry: worker %q already registered", name)
	}
	w := &Worker{
		Name:    name,
		URL:     url,
		Color:   color,
		MaxLoad: maxLoad,
		weight:  int64(weight),
		enabled: true,
	}
	w.healthy.Store(true)
	r.workers = append(r.workers, w)
	r.byName[name] = w
	return nil
}

// Algorithm returns the current selection policy name (lock-free read).
func (r *Registry) Algorithm() string {
	return r.algorithm.Load().(string)
}

// KnownAlgorithms lists the four accepted policy names.
func KnownAlgorithms() []string {
	return []string{"round-robin", "least-connections", "weighted", "random"}
}

func isKnownAlgorithm(name string) bool {
	for _, a := range KnownAlgorithms() {
		if a == name {
			return true
		}
	}
	return false
}

// SetAlgorithm switches the active selection policy. Rejects unknown
// names, returning a validation error and leaving state unchanged.
func (r *Registry) SetAlgorithm(name string) error {
	if !isKnownAlgorithm(name) {
		return fmt.Errorf("registry: unknown algorithm %q", name)
	}
	r.algorithm.Store(name)
	r.notify()
	return nil
}

// UpdateWorker applies a PATCH-style partial update. weight updates only
// if strictly positive; non-positive values are ignored, preserving the
// previous weight. enabled updates unconditionally when non-nil. Returns
// false if the worker name is unknown.
func (r *Registry) UpdateWorker(name string, enabled *bool, weight *int) bool {
	r.mu.Lock()
	w, ok := r.byName[name]
	if !ok {
		r.mu.Unlock()
		return false
	}
	if enabled != nil {
		w.enabled = *enabled
	}
	if weight != nil && *weight > 0 {
		w.weight = int64(*weight)
	}
	r.mu.Unlock()
	r.notify()
	return true
}

// Workers returns the full ordered worker list. Used by the selector and
// the health prober; callers must not mutate the returned slice's
// structural fields directly (use UpdateWorker).
func (r *Registry) Workers() []*Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Worker, len(r.workers))
	copy(out, r.workers)
	return out
}

// Get returns the worker registered under name, if any.
func (r *Registry) Get(name string) (*Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.byName[name]
	return w, ok
}

// EligibleWorkers returns the subset of the worker list that is currently
// eligible, computed under a single consistent lock acquisition so a
// worker flipping ineligible mid-scan cannot be observed half-applied.
func (r *Registry) EligibleWorkers() []*Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Worker, 0, len(r.workers))
	for _, w := range r.workers {
		if w.Eligible(w.enabled) {
			out = append(out, w)
		}
	}
	return out
}

// WorkerWeight returns the structural weight field under the registry's
// read lock (weight changes are exclusive, per §4.1's concurrency
// contract).
func (r *Registry) WorkerWeight(w *Worker) int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return w.weight
}

// NextRoundRobinCursor atomically advances and returns the round-robin
// cursor.
func (r *Registry) NextRoundRobinCursor() uint64 {
	return r.roundRobinCursor.Add(1)
}

// Snapshot returns a value copy of the full dispatcher state, safe to
// serialize without further locking. Numeric counters are read
// atomically; the worker list shape is read under the structural lock.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	workers := make([]*Worker, len(r.workers))
	copy(workers, r.workers)
	r.mu.RUnlock()

	views := make([]WorkerView, 0, len(workers))
	for _, w := range workers {
		r.mu.RLock()
		weight := w.weight
		enabled := w.enabled
		r.mu.RUnlock()
		views = append(views, WorkerView{
			Name:           w.Name,
			URL:            w.URL,
			Color:          w.Color,
			Weight:         int(weight),
			MaxLoad:        w.MaxLoad,
			Healthy:        w.healthy.Load(),
			CurrentLoad:    w.currentLoad.Load(),
			Enabled:        enabled,
			TotalRequests:  w.totalRequests.Load(),
			FailedRequests: w.failedRequests.Load(),
			CircuitOpen:    w.circuitOpen.Load(),
		})
	}

	return Snapshot{
		Algorithm: r.Algorithm(),
		Workers:   views,
	}
}

// Notify triggers the registered OnChange callback, used by the
// forwarder after a successful /task to request a broadcast (§4.6).
func (r *Registry) Notify() { r.notify() }

func (r *Registry) notify() {
	if r.onChange != nil {
		r.onChange()
	}
}

// Health, circuit and failure-counter accessors used by pkg/breaker so
// the state machine lives outside this package while only touching
// atomics exposed here.
func (w *Worker) SetHealthy(v bool)     { w.healthy.Store(v) }
func (w *Worker) SetCircuitOpen(v bool) { w.circuitOpen.Store(v) }
func (w *Worker) ConsecFailures() int64 { return w.consecFailures.Load() }
func (w *Worker) ResetFailures()        { w.consecFailures.Store(0) }
func (w *Worker) IncrFailures() int64   { return w.consecFailures.Add(1) }
func (w *Worker) IsHealthy() bool       { return w.healthy.Load() }
func (w *Worker) IsCircuitOpen() bool   { return w.circuitOpen.Load() }
