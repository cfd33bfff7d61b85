package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// resetChecker gives each test a fresh process-wide health state.
func resetChecker() {
	checker = &healthChecker{
		components: make(map[string]ComponentHealth),
		startTime:  time.Now(),
	}
}

func registerCritical(healthy bool) {
	for _, name := range criticalComponents {
		RegisterComponent(name, healthy, "")
	}
}

func TestRegisterComponent(t *testing.T) {
	resetChecker()

	RegisterComponent("executor", true, "running")

	require.Len(t, checker.components, 1)
	comp := checker.components["executor"]
	require.True(t, comp.Healthy)
	require.Equal(t, "running", comp.Message)
}

func TestGetHealthAllHealthy(t *testing.T) {
	resetChecker()
	SetVersion("1.0.0")

	RegisterComponent("store", true, "")
	RegisterComponent("bridge", true, "")

	health := GetHealth()
	require.Equal(t, "healthy", health.Status)
	require.Len(t, health.Components, 2)
	require.Equal(t, "1.0.0", health.Version)
}

func TestGetHealthOneUnhealthy(t *testing.T) {
	resetChecker()

	RegisterComponent("store", true, "")
	RegisterComponent("bridge", false, "not wired")

	health := GetHealth()
	require.Equal(t, "unhealthy", health.Status)
	require.Equal(t, "unhealthy: not wired", health.Components["bridge"])
}

func TestGetReadinessAllReady(t *testing.T) {
	resetChecker()
	registerCritical(true)

	require.Equal(t, "ready", GetReadiness().Status)
}

func TestGetReadinessMissingCriticalComponent(t *testing.T) {
	resetChecker()
	RegisterComponent("store", true, "")
	// bridge never registers

	readiness := GetReadiness()
	require.Equal(t, "not_ready", readiness.Status)
	require.NotEmpty(t, readiness.Message)
}

func TestGetReadinessCriticalComponentUnhealthy(t *testing.T) {
	resetChecker()
	RegisterComponent("store", false, "db file locked")
	RegisterComponent("bridge", true, "")

	require.Equal(t, "not_ready", GetReadiness().Status)
}

func TestGetReadinessIgnoresNonCriticalComponents(t *testing.T) {
	resetChecker()
	registerCritical(true)
	RegisterComponent("scratch-index", false, "rebuilding")

	require.Equal(t, "ready", GetReadiness().Status)
}

func TestHealthHandler(t *testing.T) {
	resetChecker()
	SetVersion("test")
	RegisterComponent("store", true, "")

	w := httptest.NewRecorder()
	HealthHandler()(w, httptest.NewRequest("GET", "/health", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var health HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&health))
	require.Equal(t, "healthy", health.Status)
	require.Equal(t, "test", health.Version)
}

func TestHealthHandlerUnhealthy(t *testing.T) {
	resetChecker()
	RegisterComponent("store", false, "broken")

	w := httptest.NewRecorder()
	HealthHandler()(w, httptest.NewRequest("GET", "/health", nil))

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	var health HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&health))
	require.Equal(t, "unhealthy", health.Status)
}

func TestReadyHandler(t *testing.T) {
	resetChecker()
	registerCritical(true)

	w := httptest.NewRecorder()
	ReadyHandler()(w, httptest.NewRequest("GET", "/ready", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var readiness HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&readiness))
	require.Equal(t, "ready", readiness.Status)
}

func TestReadyHandlerNotReady(t *testing.T) {
	resetChecker()
	RegisterComponent("store", true, "")

	w := httptest.NewRecorder()
	ReadyHandler()(w, httptest.NewRequest("GET", "/ready", nil))

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	var readiness HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&readiness))
	require.Equal(t, "not_ready", readiness.Status)
}

func TestLivenessHandler(t *testing.T) {
	resetChecker()

	w := httptest.NewRecorder()
	LivenessHandler()(w, httptest.NewRequest("GET", "/live", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var response map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	require.Equal(t, "alive", response["status"])
	require.NotEmpty(t, response["uptime"])
}

func TestUpdateComponent(t *testing.T) {
	resetChecker()

	RegisterComponent("store", true, "ok")
	UpdateComponent("store", false, "error")

	comp := checker.components["store"]
	require.False(t, comp.Healthy)
	require.Equal(t, "error", comp.Message)
}
