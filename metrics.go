package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the robot. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	// Actuator metrics
	MotorCommand *prometheus.GaugeVec // Last command per motor
	SensorValue  *prometheus.GaugeVec // Pot readings
	Locked       *prometheus.GaugeVec // 1 while the control loop owns the actuator

	// PID metrics
	PIDTarget       *prometheus.GaugeVec
	PIDError        *prometheus.GaugeVec
	PIDProportional *prometheus.GaugeVec
	PIDIntegral     *prometheus.GaugeVec
	PIDDerivative   *prometheus.GaugeVec
	PIDEnabled      *prometheus.GaugeVec

	// Autotune results
	AutotuneResult *prometheus.GaugeVec

	// System metrics
	ErrorsTotal  *prometheus.CounterVec // Error counters
	StepsTotal   *prometheus.CounterVec // Autonomous steps completed
	TickDuration *prometheus.HistogramVec
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime"`
}

// StatusProvider exposes actuator snapshots to the HTTP API
type StatusProvider interface {
	Statuses() []ActuatorStatus
	StatusOf(name string) (ActuatorStatus, bool)
}

// NewMetrics creates all metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	loopLabels := []string{"actuator", "loop"}

	m := &Metrics{
		MotorCommand: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "robot_motor_command",
				Help: "Last command written to a motor (-127..127)",
			},
			[]string{"actuator", "motor"},
		),
		SensorValue: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "robot_sensor_value",
				Help: "Potentiometer reading",
			},
			[]string{"actuator", "sensor"},
		),
		Locked: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "robot_actuator_locked",
				Help: "Control loop ownership (1=locked, 0=scripted)",
			},
			[]string{"actuator"},
		),

		PIDTarget: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "robot_pid_target",
				Help: "PID target sensor value",
			},
			loopLabels,
		),
		PIDError: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "robot_pid_error",
				Help: "PID error in sensor counts",
			},
			loopLabels,
		),
		PIDProportional: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "robot_pid_proportional",
				Help: "PID proportional term in motor units",
			},
			loopLabels,
		),
		PIDIntegral: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "robot_pid_integral",
				Help: "PID integral term in motor units",
			},
			loopLabels,
		),
		PIDDerivative: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "robot_pid_derivative",
				Help: "PID derivative term in motor units",
			},
			loopLabels,
		),
		PIDEnabled: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "robot_pid_enabled",
				Help: "PID hold status (1=holding, 0=manual)",
			},
			loopLabels,
		),

		AutotuneResult: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "robot_autotune_result",
				Help: "Last autotune result by parameter (ku, pu, kp, ki, kd)",
			},
			[]string{"actuator", "param"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "robot_errors_total",
				Help: "Total number of errors by type",
			},
			[]string{"type"},
		),
		StepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "robot_autonomous_steps_total",
				Help: "Autonomous steps completed by routine",
			},
			[]string{"routine"},
		),
		TickDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "robot_tick_duration_seconds",
				Help:    "Control cycle execution time in seconds",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05},
			},
			[]string{"actuator"},
		),
	}

	// Register all metrics
	reg.MustRegister(
		m.MotorCommand,
		m.SensorValue,
		m.Locked,
		m.PIDTarget,
		m.PIDError,
		m.PIDProportional,
		m.PIDIntegral,
		m.PIDDerivative,
		m.PIDEnabled,
		m.AutotuneResult,
		m.ErrorsTotal,
		m.StepsTotal,
		m.TickDuration,
	)

	return m
}

// ObserveStatus updates the actuator gauges from a snapshot
func (m *Metrics) ObserveStatus(s ActuatorStatus) {
	if m == nil {
		return
	}

	for i, cmd := range s.Commands {
		m.MotorCommand.WithLabelValues(s.Name, strconv.Itoa(i)).Set(float64(cmd))
	}
	for i, v := range s.Sensors {
		m.SensorValue.WithLabelValues(s.Name, strconv.Itoa(i)).Set(float64(v))
	}
	m.Locked.WithLabelValues(s.Name).Set(boolGauge(s.Locked))

	// Update PID metrics
	for i, loop := range s.Loops {
		idx := strconv.Itoa(i)
		m.PIDTarget.WithLabelValues(s.Name, idx).Set(loop["target"])
		m.PIDError.WithLabelValues(s.Name, idx).Set(loop["error"])
		m.PIDProportional.WithLabelValues(s.Name, idx).Set(loop["p_term"])
		m.PIDIntegral.WithLabelValues(s.Name, idx).Set(loop["i_term"])
		m.PIDDerivative.WithLabelValues(s.Name, idx).Set(loop["d_term"])
		m.PIDEnabled.WithLabelValues(s.Name, idx).Set(loop["enabled"])
	}
}

// ObserveTick records how long one control cycle took
func (m *Metrics) ObserveTick(actuator string, d time.Duration) {
	if m == nil {
		return
	}
	m.TickDuration.WithLabelValues(actuator).Observe(d.Seconds())
}

// ObserveAutotune records the result of a tuning session
func (m *Metrics) ObserveAutotune(actuator string, r TuneResult) {
	if m == nil {
		return
	}
	m.AutotuneResult.WithLabelValues(actuator, "ku").Set(r.Ku)
	m.AutotuneResult.WithLabelValues(actuator, "pu").Set(r.Pu)
	m.AutotuneResult.WithLabelValues(actuator, "kp").Set(r.Kp)
	m.AutotuneResult.WithLabelValues(actuator, "ki").Set(r.Ki)
	m.AutotuneResult.WithLabelValues(actuator, "kd").Set(r.Kd)
}

// RecordStep increments the completed step counter for a routine
func (m *Metrics) RecordStep(routine string) {
	if m == nil {
		return
	}
	m.StepsTotal.WithLabelValues(routine).Inc()
}

// RecordError increments the error counter for the specified type
func (m *Metrics) RecordError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// NewRouter builds the HTTP routes: health, Prometheus metrics and the
// actuator debug API
func NewRouter(gatherer prometheus.Gatherer, robot StatusProvider, started time.Time) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", healthHandler(started)).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/actuators", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, robot.Statuses())
	}).Methods(http.MethodGet)
	api.HandleFunc("/actuators/{name}", func(w http.ResponseWriter, req *http.Request) {
		name := mux.Vars(req)["name"]
		status, ok := robot.StatusOf(name)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": fmt.Sprintf("unknown actuator %s", name)})
			return
		}
		writeJSON(w, http.StatusOK, status)
	}).Methods(http.MethodGet)

	return r
}

// StartMetricsServer serves handler on port until ctx is canceled
func StartMetricsServer(ctx context.Context, port int, handler http.Handler) {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handlers.LoggingHandler(os.Stdout, handler),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("Starting metrics server on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Metrics server error: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Metrics server shutdown error: %v", err)
		}
	}()
}

// healthHandler provides a health check endpoint
func healthHandler(started time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, HealthResponse{
			Status:    "ok",
			Timestamp: time.Now(),
			Uptime:    time.Since(started).String(),
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}
