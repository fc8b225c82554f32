package metrics

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComponentsHealth(t *testing.T) {
	tests := []struct {
		name   string
		set    map[string]bool
		status string
	}{
		{"nothing registered", nil, StatusHealthy},
		{"all healthy", map[string]bool{"admin": true, "metadata": true}, StatusHealthy},
		{"one unhealthy", map[string]bool{"admin": true, "metadata": false}, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewComponents()
			for name, healthy := range tt.set {
				c.Set(name, healthy, "no leader")
			}
			rep := c.Health()
			assert.Equal(t, tt.status, rep.Status)
			assert.Len(t, rep.Components, len(tt.set))
		})
	}
}

func TestComponentsHealthDetail(t *testing.T) {
	c := NewComponents()
	c.Set("metadata", false, "no leader")
	c.Set("rpc", false, "")
	c.Set("admin", true, "127.0.0.1:8080")

	rep := c.Health()
	assert.Equal(t, "unhealthy: no leader", rep.Components["metadata"])
	assert.Equal(t, "unhealthy", rep.Components["rpc"])
	assert.Equal(t, "healthy", rep.Components["admin"])
}

func TestComponentsReadiness(t *testing.T) {
	c := NewComponents("metadata", "registry", "rpc")

	rep := c.Readiness()
	assert.Equal(t, StatusNotReady, rep.Status)
	assert.Equal(t, []string{"metadata", "registry", "rpc"}, rep.Waiting)
	assert.Equal(t, "not registered", rep.Components["rpc"])

	c.Set("metadata", false, "leader not elected")
	c.Set("registry", true, "")
	c.Set("admin", false, "ignored")

	rep = c.Readiness()
	assert.Equal(t, []string{"metadata", "rpc"}, rep.Waiting)
	assert.Equal(t, "unhealthy: leader not elected", rep.Components["metadata"])
	assert.NotContains(t, rep.Components, "admin")

	c.Set("metadata", true, "")
	c.Set("rpc", true, "")
	rep = c.Readiness()
	assert.Equal(t, StatusReady, rep.Status)
	assert.Empty(t, rep.Waiting)
}

func TestMarkComponents(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	MarkHealthy("metadata", "bolt")
	MarkUnhealthy("registry", errors.New("recover failed"))
	assert.Equal(t, StatusNotReady, components.Readiness().Status)

	MarkHealthy("registry", "recovered")
	assert.Equal(t, StatusReady, components.Readiness().Status)

	SetCriticalComponents("metadata", "registry", "rpc")
	assert.Equal(t, []string{"rpc"}, components.Readiness().Waiting)

	Reset()
	assert.Empty(t, components.Health().Components)
	assert.Equal(t, []string{"metadata", "registry"}, components.Readiness().Waiting)
}

func TestHealthEndpoints(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	serve := func(h http.HandlerFunc) (int, Report) {
		w := httptest.NewRecorder()
		h(w, httptest.NewRequest(http.MethodGet, "/", nil))
		var rep Report
		require.NoError(t, json.NewDecoder(w.Body).Decode(&rep))
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		return w.Code, rep
	}

	MarkHealthy("metadata", "memory")
	code, rep := serve(ReadyHandler())
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, StatusNotReady, rep.Status)

	MarkHealthy("registry", "recovered")
	code, rep = serve(ReadyHandler())
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusReady, rep.Status)

	code, _ = serve(HealthHandler())
	assert.Equal(t, http.StatusOK, code)

	MarkUnhealthy("rpc", errors.New("listener closed"))
	code, rep = serve(HealthHandler())
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, StatusUnhealthy, rep.Status)
}

func TestLivenessHandler(t *testing.T) {
	w := httptest.NewRecorder()
	LivenessHandler()(w, httptest.NewRequest(http.MethodGet, "/live", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "alive", body["status"])
}
