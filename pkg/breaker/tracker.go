// Package breaker implements the per-worker circuit/health state machine
// of spec.md §4.3: probe and forward outcomes converge on one failure
// counter so a worker returning 5xx under load is shed even while its
// /health endpoint still answers.
package breaker

import "github.com/arjunv/dispatchd/pkg/registry"

// Tracker translates ProbeOk/ProbeFail/ForwardOk/ForwardFail inputs into
// a worker's Healthy and CircuitOpen flags.
//
// Recovery is probe-driven only (spec.md §9's "pick one" instruction):
// the health prober unconditionally probes every registered worker every
// tick regardless of circuit state, so a worker's next successful probe
// already clears the breaker. No separate recovery timer is run.
type Tracker struct {
	threshold int64
}

// New builds a Tracker with the given consecutive-failure threshold.
func New(threshold int64) *Tracker {
	if threshold <= 0 {
		threshold = 3
	}
	return &Tracker{threshold: threshold}
}

// ProbeOk records a successful health probe.
func (t *Tracker) ProbeOk(w *registry.Worker) { t.success(w) }

// ProbeFail records a failed health probe.
func (t *Tracker) ProbeFail(w *registry.Worker) { t.failure(w) }

// ForwardOk records a successful forward.
func (t *Tracker) ForwardOk(w *registry.Worker) { t.success(w) }

// ForwardFail records a failed forward.
func (t *Tracker) ForwardFail(w *registry.Worker) { t.failure(w) }

// success moves the worker to Closed/Healthy from any prior state: the
// failure streak resets and any open circuit closes.
func (t *Tracker) success(w *registry.Worker) {
	w.ResetFailures()
	w.SetCircuitOpen(false)
	w.SetHealthy(true)
}

// failure increments the consecutive-failure counter; once it reaches
// the threshold the worker trips to Open (healthy=false, circuitOpen=true)
// and leaves the eligible set until a subsequent success is observed.
func (t *Tracker) failure(w *registry.Worker) {
	if w.IncrFailures() >= t.threshold {
		w.SetHealthy(false)
		w.SetCircuitOpen(true)
	}
}
