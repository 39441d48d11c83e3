// Package health drives the circuit/health tracker on a periodic tick by
// calling each registered worker's /health endpoint.
//
// Grounded on the teacher's pkg/router/poller.go, which fans a
// fixed-interval tick out to all workers via a per-tick sync.WaitGroup.
// Generalized from gRPC GetMetrics calls to plain HTTP GET /health, and
// extended with the bounded in-flight-per-worker gate spec.md §4.4
// requires (the teacher's own poller lacks it — a slow worker there gets
// a fresh goroutine every tick).
package health

import (
	"context"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arjunv/dispatchd/pkg/breaker"
	"github.com/arjunv/dispatchd/pkg/registry"
)

const probeTimeout = 2 * time.Second

// Prober periodically issues GET {worker.url}/health for every
// registered worker.
type Prober struct {
	registry *registry.Registry
	tracker  *breaker.Tracker
	interval time.Duration
	client   *http.Client

	inFlight sync.Map // worker name -> *atomic.Bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Prober. interval is the tick period (default 5s, §4.4).
func New(r *registry.Registry, t *breaker.Tracker, interval time.Duration) *Prober {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Prober{
		registry: r,
		tracker:  t,
		interval: interval,
		client:   &http.Client{Timeout: probeTimeout},
		stopCh:   make(chan struct{}),
	}
}

// Start begins the probing loop in a background goroutine.
func (p *Prober) Start() {
	p.wg.Add(1)
	go p.loop()
	log.Printf("📡 Health prober started: interval=%v", p.interval)
}

// Stop gracefully shuts down the prober, blocking until its loop exits.
func (p *Prober) Stop() {
	close(p.stopCh)
	p.wg.Wait()
}

func (p *Prober) loop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.probeAll()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.probeAll()
		}
	}
}

func (p *Prober) probeAll() {
	for _, w := range p.registry.Workers() {
		flagVal, _ := p.inFlight.LoadOrStore(w.Name, new(atomic.Bool))
		flag := flagVal.(*atomic.Bool)
		if !flag.CompareAndSwap(false, true) {
			// Previous probe for this worker hasn't completed yet; skip
			// this tick rather than stacking a new goroutine (§4.4).
			continue
		}
		go func(w *registry.Worker, flag *atomic.Bool) {
			defer flag.Store(false)
			p.probeOne(w)
		}(w, flag)
	}
}

func (p *Prober) probeOne(w *registry.Worker) {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.URL+"/health", nil)
	if err != nil {
		p.tracker.ProbeFail(w)
		return
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.tracker.ProbeFail(w)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		p.tracker.ProbeOk(w)
	} else {
		p.tracker.ProbeFail(w)
	}
}
