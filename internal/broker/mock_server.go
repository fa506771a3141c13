package broker

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockServer provides a configurable session broker mock for testing.
type MockServer struct {
	*httptest.Server
	mu         sync.Mutex
	ttl        time.Duration
	failStarts map[string]int // remaining start failures per source id
	rejected   map[string]bool
	active     map[string]string // session id -> source id
	startCalls []string          // source ids in call order
	stopCalls  []string          // session ids in call order
}

// NewMockServer creates a broker mock issuing sessions with the given TTL.
func NewMockServer(ttl time.Duration) *MockServer {
	mock := &MockServer{
		ttl:        ttl,
		failStarts: make(map[string]int),
		rejected:   make(map[string]bool),
		active:     make(map[string]string),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/demo/start", mock.handleStart)
	mux.HandleFunc("/api/demo/stop", mock.handleStop)

	mock.Server = httptest.NewServer(mux)
	return mock
}

// FailStarts makes the next n start calls for sourceID answer 503.
func (m *MockServer) FailStarts(sourceID string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failStarts[sourceID] = n
}

// Reject makes every start call for sourceID answer 403.
func (m *MockServer) Reject(sourceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected[sourceID] = true
}

// StartCalls returns the source ids of all start calls in order.
func (m *MockServer) StartCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.startCalls...)
}

// StopCalls returns the session ids of all stop calls in order.
func (m *MockServer) StopCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.stopCalls...)
}

func (m *MockServer) handleStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Category string `json:"category"`
		SourceID string `json:"source_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	m.startCalls = append(m.startCalls, req.SourceID)
	if m.rejected[req.SourceID] {
		m.mu.Unlock()
		http.Error(w, "source not eligible for demo", http.StatusForbidden)
		return
	}
	if m.failStarts[req.SourceID] > 0 {
		m.failStarts[req.SourceID]--
		m.mu.Unlock()
		http.Error(w, "no capacity", http.StatusServiceUnavailable)
		return
	}
	id := uuid.NewString()
	m.active[id] = req.SourceID
	ttl := m.ttl
	m.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"session_id": id,
		"stream_url": m.URL + "/streams/" + req.SourceID + "/index.m3u8",
		"protocol":   "hls",
		"expires_at": time.Now().Add(ttl).UTC().Format(time.RFC3339),
	})
}

func (m *MockServer) handleStop(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	m.stopCalls = append(m.stopCalls, req.SessionID)
	_, known := m.active[req.SessionID]
	delete(m.active, req.SessionID)
	m.mu.Unlock()

	if !known {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}
