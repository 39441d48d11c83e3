package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arjunv/dispatchd/pkg/breaker"
	"github.com/arjunv/dispatchd/pkg/broadcast"
	"github.com/arjunv/dispatchd/pkg/forward"
	"github.com/arjunv/dispatchd/pkg/metrics"
	"github.com/arjunv/dispatchd/pkg/registry"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	r := registry.New("round-robin", 3, nil)
	require.NoError(t, r.AddWorker("a", "http://a", "red", 1, 10))

	b := broadcast.New(r, 0)
	sel := registry.NewSelector(r)
	tr := breaker.New(3)
	m := metrics.New()
	f := forward.New(r, sel, tr, m)

	return New(r, b, f, m, nil)
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusEndpointReturnsSnapshot(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var snap registry.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Len(t, snap.Workers, 1)
}

func TestAlgorithmGetAndPut(t *testing.T) {
	s := newTestServer(t)

	getReq := httptest.NewRequest(http.MethodGet, "/algorithm", nil)
	getRec := httptest.NewRecorder()
	s.ServeHTTP(getRec, getReq)
	assert.Equal(t, http.StatusOK, getRec.Code)

	body, _ := json.Marshal(map[string]string{"algorithm": "weighted"})
	putReq := httptest.NewRequest(http.MethodPut, "/algorithm", bytes.NewReader(body))
	putRec := httptest.NewRecorder()
	s.ServeHTTP(putRec, putReq)
	assert.Equal(t, http.StatusOK, putRec.Code)
}

func TestAlgorithmRejectsUnknownName(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(map[string]string{"algorithm": "bogus"})
	req := httptest.NewRequest(http.MethodPost, "/algorithm", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWorkerPatchUnknownWorkerReturns404(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(map[string]interface{}{"enabled": false})
	req := httptest.NewRequest(http.MethodPatch, "/workers/nope", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCORSPreflightReturns200(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/task", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSAllowlistOmitsHeaderForDisallowedOrigin(t *testing.T) {
	r := registry.New("round-robin", 3, nil)
	require.NoError(t, r.AddWorker("a", "http://a", "red", 1, 10))
	b := broadcast.New(r, 0)
	sel := registry.NewSelector(r)
	tr := breaker.New(3)
	m := metrics.New()
	f := forward.New(r, sel, tr, m)
	s := New(r, b, f, m, []string{"http://allowed.test"})

	req := httptest.NewRequest(http.MethodOptions, "/task", nil)
	req.Header.Set("Origin", "http://evil.test")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSAllowlistEchoesMatchingOrigin(t *testing.T) {
	r := registry.New("round-robin", 3, nil)
	require.NoError(t, r.AddWorker("a", "http://a", "red", 1, 10))
	b := broadcast.New(r, 0)
	sel := registry.NewSelector(r)
	tr := breaker.New(3)
	m := metrics.New()
	f := forward.New(r, sel, tr, m)
	s := New(r, b, f, m, []string{"http://allowed.test"})

	req := httptest.NewRequest(http.MethodOptions, "/task", nil)
	req.Header.Set("Origin", "http://allowed.test")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, "http://allowed.test", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestWorkerConfigUnknownWorkerReturns404(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/workers/nope/config", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWorkerConfigProxyGetSucceeds(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"batchSize":4}`))
	}))
	defer backend.Close()

	r := registry.New("round-robin", 3, nil)
	require.NoError(t, r.AddWorker("a", backend.URL, "red", 1, 10))
	b := broadcast.New(r, 0)
	sel := registry.NewSelector(r)
	tr := breaker.New(3)
	m := metrics.New()
	f := forward.New(r, sel, tr, m)
	s := New(r, b, f, m, nil)

	req := httptest.NewRequest(http.MethodGet, "/workers/a/config", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	assert.Equal(t, "a", decoded["worker"])
	assert.Equal(t, float64(4), decoded["batchSize"])
}

func TestWorkerConfigProxyUnreachableReturns502(t *testing.T) {
	r := registry.New("round-robin", 3, nil)
	require.NoError(t, r.AddWorker("a", "http://127.0.0.1:1", "red", 1, 10))
	b := broadcast.New(r, 0)
	sel := registry.NewSelector(r)
	tr := breaker.New(3)
	m := metrics.New()
	f := forward.New(r, sel, tr, m)
	s := New(r, b, f, m, nil)

	req := httptest.NewRequest(http.MethodGet, "/workers/a/config", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
