package health

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultMaxHeadAge is how long a watcher may go without progress before the
// service reports not ready.
const DefaultMaxHeadAge = 60 * time.Second

type WatcherStatus struct {
	Name      string    `json:"name"`
	LastBlock uint64    `json:"last_block"`
	UpdatedAt time.Time `json:"updated_at"`
	Healthy   bool      `json:"healthy"`
}

// Tracker records watcher progress and serves the liveness and readiness
// probes.
type Tracker struct {
	isReady  int32
	maxAge   time.Duration
	now      func() time.Time
	mu       sync.RWMutex
	statuses map[string]*WatcherStatus
}

func NewTracker(maxAge time.Duration) *Tracker {
	if maxAge <= 0 {
		maxAge = DefaultMaxHeadAge
	}
	return &Tracker{
		maxAge:   maxAge,
		now:      time.Now,
		statuses: make(map[string]*WatcherStatus),
	}
}

func (t *Tracker) SetReady(ready bool) {
	if ready {
		atomic.StoreInt32(&t.isReady, 1)
	} else {
		atomic.StoreInt32(&t.isReady, 0)
	}
}

// Register adds a watcher that has not reported progress yet.
func (t *Tracker) Register(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.statuses[name]; !ok {
		t.statuses[name] = &WatcherStatus{Name: name}
	}
}

// Update records a new head for name.
func (t *Tracker) Update(name string, lastBlock uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.statuses[name] = &WatcherStatus{
		Name:      name,
		LastBlock: lastBlock,
		UpdatedAt: t.now(),
	}
}

// Touch marks name as alive without a height.
func (t *Tracker) Touch(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	status, ok := t.statuses[name]
	if !ok {
		status = &WatcherStatus{Name: name}
		t.statuses[name] = status
	}
	status.UpdatedAt = t.now()
}

// Statuses returns a snapshot ordered by name.
func (t *Tracker) Statuses() []WatcherStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := t.now()
	out := make([]WatcherStatus, 0, len(t.statuses))
	for _, s := range t.statuses {
		status := *s
		status.Healthy = !s.UpdatedAt.IsZero() && now.Sub(s.UpdatedAt) < t.maxAge
		out = append(out, status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Healthy reports whether every registered watcher made progress recently.
func (t *Tracker) Healthy() bool {
	for _, s := range t.Statuses() {
		if !s.Healthy {
			return false
		}
	}
	return true
}

func (t *Tracker) LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (t *Tracker) ReadinessHandler(w http.ResponseWriter, _ *http.Request) {
	statuses := t.Statuses()

	ready := atomic.LoadInt32(&t.isReady) == 1 && t.Healthy()
	if !ready {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":   "Not Ready",
			"watchers": statuses,
		})
		return
	}

	response := make(map[string]interface{})
	response["status"] = "Ready"
	response["watchers"] = statuses

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}
