// Command dispatchd runs the L7 request dispatcher: it accepts client
// tasks over HTTP, selects a backend worker, forwards the task, and
// streams live state to dashboard clients over a websocket.
//
// Composition follows cmd/router/main.go's shape (config load, component
// wiring, background starts, signal-driven graceful shutdown), adapted
// from a gRPC+dashboard-embed process into a single HTTP surface.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arjunv/dispatchd/pkg/breaker"
	"github.com/arjunv/dispatchd/pkg/broadcast"
	"github.com/arjunv/dispatchd/pkg/config"
	"github.com/arjunv/dispatchd/pkg/forward"
	"github.com/arjunv/dispatchd/pkg/health"
	"github.com/arjunv/dispatchd/pkg/httpapi"
	"github.com/arjunv/dispatchd/pkg/metrics"
	"github.com/arjunv/dispatchd/pkg/registry"
)

func main() {
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	cfg := config.Load()
	log.Printf("🧠 Dispatcher starting on port %d", cfg.Port)
	log.Printf("   Algorithm: %s", cfg.Algorithm)
	log.Printf("   Workers: %d configured", len(cfg.Workers))

	if len(cfg.Workers) == 0 {
		log.Printf("⚠️  No worker URL variables set — starting with an empty registry")
	}

	m := metrics.New()

	var bcaster *broadcast.Broadcaster
	reg := registry.New(cfg.Algorithm, cfg.CircuitThresh, func() {
		if bcaster != nil {
			bcaster.Broadcast()
		}
	})

	for _, w := range cfg.Workers {
		if err := reg.AddWorker(w.Name, w.URL, w.Color, w.Weight, w.MaxLoad); err != nil {
			log.Fatalf("❌ Failed to register worker %s: %v", w.Name, err)
		}
		log.Printf("✅ Registered worker %s at %s (weight=%d)", w.Name, w.URL, w.Weight)
	}

	bcaster = broadcast.New(reg, cfg.BroadcastTick)
	selector := registry.NewSelector(reg)
	tracker := breaker.New(cfg.CircuitThresh)
	prober := health.New(reg, tracker, cfg.HealthInterval)
	forwarder := forward.New(reg, selector, tracker, m)
	server := httpapi.New(reg, bcaster, forwarder, m, cfg.AllowedOrigins)

	bcaster.Start()
	prober.Start()
	stopGauges := startGaugeLoop(reg, m, cfg.HealthInterval)

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: server,
	}

	go func() {
		log.Printf("🚀 HTTP surface listening on %s", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ HTTP server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("🛑 Shutting down dispatcher...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		log.Printf("⚠️  HTTP server shutdown error: %v", err)
	}

	close(stopGauges)
	prober.Stop()
	bcaster.Stop()
	log.Println("✅ Dispatcher stopped")
}

// startGaugeLoop keeps the worker_health and worker_active_connections
// gauges current without putting metric writes on the hot forwarding
// path.
func startGaugeLoop(r *registry.Registry, m *metrics.Metrics, interval time.Duration) chan struct{} {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				for _, w := range r.Workers() {
					m.SetWorkerHealth(w.Name, w.IsHealthy())
					m.SetActiveConnections(w.Name, w.CurrentLoad())
				}
			}
		}
	}()
	return stop
}
