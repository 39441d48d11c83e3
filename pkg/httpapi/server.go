// Package httpapi composes the dispatcher's six core components into the
// HTTP surface described in spec.md §6.
//
// Grounded on the teacher's pkg/router/router.go RegisterHTTP /
// pkg/worker/server.go RegisterMetricsHTTP, which each built one
// http.ServeMux and hung a handful of HandleFunc calls off it. This
// version uses Go's method+wildcard ServeMux patterns (go1.22+) for the
// path-parameterized worker routes instead of introducing a third-party
// router — see DESIGN.md for why gorilla/mux wasn't pulled in despite
// appearing in the retrieval pack.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/arjunv/dispatchd/pkg/broadcast"
	"github.com/arjunv/dispatchd/pkg/forward"
	"github.com/arjunv/dispatchd/pkg/metrics"
	"github.com/arjunv/dispatchd/pkg/registry"
)

const configProxyTimeout = 5 * time.Second

// Server wires the registry, selector, tracker, forwarder, broadcaster
// and metrics into one http.Handler.
type Server struct {
	registry       *registry.Registry
	broadcaster    *broadcast.Broadcaster
	forwarder      *forward.Forwarder
	metrics        *metrics.Metrics
	allowedOrigins []string
	client         *http.Client

	mux *http.ServeMux
}

// New builds the HTTP surface. allowedOrigins empty means allow all
// (the development default, §6).
func New(r *registry.Registry, b *broadcast.Broadcaster, f *forward.Forwarder, m *metrics.Metrics, allowedOrigins []string) *Server {
	s := &Server{
		registry:       r,
		broadcaster:    b,
		forwarder:      f,
		metrics:        m,
		allowedOrigins: allowedOrigins,
		client:         &http.Client{Timeout: configProxyTimeout},
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /status", s.handleStatus)
	s.mux.HandleFunc("/task", s.forwarder.ServeHTTP)
	s.mux.HandleFunc("/algorithm", s.handleAlgorithm)
	s.mux.HandleFunc("/workers/{name}", s.handleWorkerPatch)
	s.mux.HandleFunc("/workers/{name}/config", s.handleWorkerConfig)
	s.mux.Handle("GET /metrics", s.metrics.Handler())
	s.mux.HandleFunc("GET /ws", s.broadcaster.HandleWS)
}

// ServeHTTP implements http.Handler, applying CORS to every request
// before delegating to the route mux (§6).
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.applyCORS(w, r)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	s.mux.ServeHTTP(w, r)
}

func (s *Server) applyCORS(w http.ResponseWriter, r *http.Request) {
	if len(s.allowedOrigins) == 0 {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	} else {
		reqOrigin := r.Header.Get("Origin")
		for _, o := range s.allowedOrigins {
			if o == reqOrigin {
				w.Header().Set("Access-Control-Allow-Origin", reqOrigin)
				break
			}
		}
	}
	w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.registry.Snapshot())
}

type algorithmBody struct {
	Algorithm string `json:"algorithm"`
}

func (s *Server) handleAlgorithm(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"algorithm": s.registry.Algorithm(),
			"available": registry.KnownAlgorithms(),
		})
	case http.MethodPut, http.MethodPost:
		var body algorithmBody
		raw, err := io.ReadAll(r.Body)
		if err != nil || json.Unmarshal(raw, &body) != nil || body.Algorithm == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
			return
		}
		if err := s.registry.SetAlgorithm(body.Algorithm); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, algorithmBody{Algorithm: body.Algorithm})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

type workerPatchBody struct {
	Enabled *bool `json:"enabled,omitempty"`
	Weight  *int  `json:"weight,omitempty"`
}

func (s *Server) handleWorkerPatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPatch {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	name := r.PathValue("name")

	var body workerPatchBody
	raw, err := io.ReadAll(r.Body)
	if err != nil || (len(raw) > 0 && json.Unmarshal(raw, &body) != nil) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}

	if !s.registry.UpdateWorker(name, body.Enabled, body.Weight) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown worker"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// handleWorkerConfig transparently proxies to the named worker's own
// /config endpoint (§6; treated as a black-box external collaborator).
func (s *Server) handleWorkerConfig(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	worker, ok := s.registry.Get(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown worker"})
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.proxyConfigGet(w, worker.URL, name)
	case http.MethodPut, http.MethodPost:
		s.proxyConfigWrite(w, r, worker.URL)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) proxyConfigGet(w http.ResponseWriter, workerURL, name string) {
	ctx, cancel := context.WithTimeout(context.Background(), configProxyTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(workerURL, "/")+"/config", nil)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "proxy request failed"})
		return
	}
	resp, err := s.client.Do(req)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "worker unreachable"})
		return
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	var decoded map[string]interface{}
	if json.Unmarshal(raw, &decoded) != nil || decoded == nil {
		decoded = map[string]interface{}{}
	}
	decoded["worker"] = name
	writeJSON(w, http.StatusOK, decoded)
}

func (s *Server) proxyConfigWrite(w http.ResponseWriter, r *http.Request, workerURL string) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "read body failed"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), configProxyTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, r.Method, strings.TrimRight(workerURL, "/")+"/config", bytes.NewReader(raw))
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "proxy request failed"})
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "worker unreachable"})
		return
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
