package main

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// TestLogDebugf_Gating tests that debug lines only appear at debug level
func TestLogDebugf_Gating(t *testing.T) {
	// Arrange
	var buf bytes.Buffer
	log.SetOutput(&buf)
	t.Cleanup(func() {
		log.SetOutput(os.Stderr)
		setLogLevel("info")
	})

	// Act
	setLogLevel("info")
	logDebugf("hidden %d", 1)
	setLogLevel("debug")
	logDebugf("shown %d", 2)

	// Assert
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "DEBUG: shown 2")
}

// TestRootCmd_Subcommands tests the command tree
func TestRootCmd_Subcommands(t *testing.T) {
	cmd := newRootCmd()

	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}

	assert.Subset(t, names, []string{"run", "tune", "routines", "check-config"})
	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
	assert.NotNil(t, cmd.PersistentFlags().Lookup("log-level"))
}

// TestCheckConfig_BuiltIn tests validating the built-in robot
func TestCheckConfig_BuiltIn(t *testing.T) {
	out, err := executeCommand(t, "check-config")

	require.NoError(t, err)
	assert.Contains(t, out, "config ok: 5 actuators, 1 routines, backend sim, operator sim")
}

// TestCheckConfig_File tests validating a config file
func TestCheckConfig_File(t *testing.T) {
	// Arrange
	tmpFile := createTempConfig(t, `
server:
  log_level: warn
hardware:
  backend: can
`)

	// Act
	out, err := executeCommand(t, "check-config", "--config", tmpFile)

	// Assert
	require.NoError(t, err)
	assert.Contains(t, out, "backend can")
}

// TestCheckConfig_InvalidLogLevelOverride tests that the override is validated
func TestCheckConfig_InvalidLogLevelOverride(t *testing.T) {
	_, err := executeCommand(t, "check-config", "--log-level", "verbose")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level must be one of")
}

// TestRoutinesCmd tests the routine listing
func TestRoutinesCmd(t *testing.T) {
	out, err := executeCommand(t, "routines")

	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "grab-and-score")
}

// TestTuneCmd_UnknownActuator tests argument validation
func TestTuneCmd_UnknownActuator(t *testing.T) {
	_, err := executeCommand(t, "tune", "turret", "--dry-run")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown actuator turret")
}

// TestTuneCmd_ApplyUnknownPosition tests that --apply is checked before tuning
func TestTuneCmd_ApplyUnknownPosition(t *testing.T) {
	_, err := executeCommand(t, "tune", "arm", "--dry-run", "--apply", "sideways")

	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown position "sideways"`)
}

// TestRunRobot_UnknownRoutine tests that a bad routine fails before startup
func TestRunRobot_UnknownRoutine(t *testing.T) {
	_, err := executeCommand(t, "run", "--dry-run", "--routine", "missing")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown routine missing")
}

// TestRouter_Endpoints tests health, metrics and the actuator API
func TestRouter_Endpoints(t *testing.T) {
	// Arrange
	robot, _ := newTestRobot(t)
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	metrics.ObserveStatus(robot.Statuses()[1])
	router := NewRouter(reg, robot, time.Now())

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	// Act & Assert - health
	rec := get("/health")
	require.Equal(t, http.StatusOK, rec.Code)
	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)

	// Act & Assert - metrics
	rec = get("/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "robot_actuator_locked")

	// Act & Assert - all actuators
	rec = get("/api/actuators")
	require.Equal(t, http.StatusOK, rec.Code)
	var statuses []ActuatorStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &statuses))
	assert.Len(t, statuses, 6)

	// Act & Assert - one actuator
	rec = get("/api/actuators/claw")
	require.Equal(t, http.StatusOK, rec.Code)
	var claw ActuatorStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &claw))
	assert.Equal(t, "claw", claw.Name)
	assert.True(t, claw.Locked)

	// Act & Assert - unknown actuator
	rec = get("/api/actuators/turret")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown actuator turret")
}
