package metrics

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
)

// Overall states reported by the health endpoints
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusReady     = "ready"
	StatusNotReady  = "not_ready"
)

// DefaultCriticalComponents must be healthy before the server reports ready
var DefaultCriticalComponents = []string{"metadata", "registry"}

// Report is the body of /health and /ready
type Report struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
	Waiting    []string          `json:"waiting,omitempty"`
}

type componentState struct {
	healthy bool
	detail  string
}

// Components tracks the health of the server's parts
type Components struct {
	mu       sync.RWMutex
	states   map[string]componentState
	critical []string
}

// NewComponents creates a tracker whose readiness depends on critical
func NewComponents(critical ...string) *Components {
	return &Components{
		states:   make(map[string]componentState),
		critical: append([]string(nil), critical...),
	}
}

// Set records the state of one component
func (c *Components) Set(name string, healthy bool, detail string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states[name] = componentState{healthy: healthy, detail: detail}
}

// Health is unhealthy as soon as any known component is
func (c *Components) Health() Report {
	c.mu.RLock()
	defer c.mu.RUnlock()

	r := Report{Status: StatusHealthy, Components: make(map[string]string, len(c.states))}
	for name, st := range c.states {
		r.Components[name] = describe(st)
		if !st.healthy {
			r.Status = StatusUnhealthy
		}
	}
	return r
}

// Readiness considers only critical components. One that never reported
// counts as not ready.
func (c *Components) Readiness() Report {
	c.mu.RLock()
	defer c.mu.RUnlock()

	r := Report{Status: StatusReady, Components: make(map[string]string, len(c.critical))}
	for _, name := range c.critical {
		st, ok := c.states[name]
		switch {
		case !ok:
			r.Components[name] = "not registered"
		case !st.healthy:
			r.Components[name] = describe(st)
		default:
			r.Components[name] = StatusReady
			continue
		}
		r.Waiting = append(r.Waiting, name)
	}
	if len(r.Waiting) > 0 {
		r.Status = StatusNotReady
		sort.Strings(r.Waiting)
	}
	return r
}

func describe(st componentState) string {
	if st.healthy {
		return StatusHealthy
	}
	if st.detail == "" {
		return StatusUnhealthy
	}
	return StatusUnhealthy + ": " + st.detail
}

var components = NewComponents(DefaultCriticalComponents...)

// Reset forgets every component and restores the default critical set
func Reset() {
	fresh := NewComponents(DefaultCriticalComponents...)

	components.mu.Lock()
	defer components.mu.Unlock()
	components.states = fresh.states
	components.critical = fresh.critical
}

// SetCriticalComponents replaces the components readiness waits for
func SetCriticalComponents(names ...string) {
	components.mu.Lock()
	defer components.mu.Unlock()
	components.critical = append([]string(nil), names...)
}

// MarkHealthy records a working component; detail is informational
func MarkHealthy(name, detail string) {
	components.Set(name, true, detail)
}

// MarkUnhealthy records a failed component
func MarkUnhealthy(name string, err error) {
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	components.Set(name, false, detail)
}

// HealthHandler serves /health
func HealthHandler() http.HandlerFunc {
	return reportHandler(components.Health, StatusHealthy)
}

// ReadyHandler serves /ready
func ReadyHandler() http.HandlerFunc {
	return reportHandler(components.Readiness, StatusReady)
}

// LivenessHandler serves /live; it answers whenever the process does
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
	}
}

func reportHandler(report func() Report, ok string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep := report()
		code := http.StatusOK
		if rep.Status != ok {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, rep)
	}
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
