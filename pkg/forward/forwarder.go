// Package forward implements the /task request path: select a worker,
// account for the in-flight forward, call the worker, classify the
// outcome, and respond.
//
// Grounded on the teacher's pkg/router/router.go Infer method, which
// picked a worker, called it over gRPC, and tracked a routing
// distribution counter. This version drops the gRPC retry loop (spec.md
// §7: "Do not retry; at-most-once forward") and the call itself becomes
// plain HTTP, matching the worker contract fixed in spec.md §6.
package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/arjunv/dispatchd/pkg/breaker"
	"github.com/arjunv/dispatchd/pkg/metrics"
	"github.com/arjunv/dispatchd/pkg/registry"
)

const forwardTimeout = 30 * time.Second

// taskBody is the inbound /task request payload. Both fields are
// optional; a missing or invalid body is tolerated (§4.5 step 3).
type taskBody struct {
	ID     string  `json:"id,omitempty"`
	Weight float64 `json:"weight,omitempty"`
}

// Forwarder handles inbound /task requests.
type Forwarder struct {
	registry *registry.Registry
	selector *registry.Selector
	tracker  *breaker.Tracker
	metrics  *metrics.Metrics
	client   *http.Client
}

// New builds a Forwarder.
func New(r *registry.Registry, s *registry.Selector, t *breaker.Tracker, m *metrics.Metrics) *Forwarder {
	return &Forwarder{
		registry: r,
		selector: s,
		tracker:  t,
		metrics:  m,
		client:   &http.Client{Timeout: forwardTimeout},
	}
}

// ServeHTTP implements the POST /task handler.
func (f *Forwarder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	worker := f.selector.Select()
	if worker == nil {
		f.metrics.ObserveRequest("none", "error")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "No healthy workers available",
		})
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		raw = nil
	}
	var body taskBody
	if err := json.Unmarshal(raw, &body); err != nil || len(raw) == 0 {
		body = taskBody{Weight: 1}
	} else if body.Weight == 0 {
		body.Weight = 1
	}
	normalized, _ := json.Marshal(body)

	worker.BeginForward()
	defer worker.EndForward()

	start := time.Now()
	outcome, respBody := f.callWorker(worker.URL, normalized)
	elapsedMs := time.Since(start).Milliseconds()
	f.metrics.ObserveLatency(worker.Name, float64(elapsedMs))

	if !outcome {
		worker.MarkFailedRequest()
		f.tracker.ForwardFail(worker)
		f.metrics.ObserveRequest(worker.Name, "error")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "Worker failed"})
		return
	}

	f.tracker.ForwardOk(worker)
	f.metrics.ObserveRequest(worker.Name, "success")

	var decoded map[string]interface{}
	if json.Unmarshal(respBody, &decoded) != nil || decoded == nil {
		decoded = map[string]interface{}{}
	}
	decoded["worker"] = worker.Name
	decoded["workerColor"] = worker.Color
	decoded["processingTimeMs"] = elapsedMs

	writeJSON(w, http.StatusOK, decoded)

	f.registry.Notify()
}

// callWorker issues POST {url}/task. Returns (true, body) on any
// response with a status below 500; (false, nil) on network error or a
// 5xx status — surfaced as a downstream failure (§7).
func (f *Forwarder) callWorker(url string, body []byte) (bool, []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), forwardTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url+"/task", bytes.NewReader(body))
	if err != nil {
		log.Printf("⚠️  forward request build failed for %s: %v", url, err)
		return false, nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return false, nil
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 500 {
		return false, nil
	}
	return true, respBody
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
