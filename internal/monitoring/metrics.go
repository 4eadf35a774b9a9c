package monitoring

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"respirosync/internal/models"
	"respirosync/internal/sensor"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Session metrics
	SessionsStarted prometheus.Counter
	SessionsActive  prometheus.Gauge
	SessionDuration prometheus.Histogram

	// Sensor metrics
	SamplesTotal   *prometheus.CounterVec
	SensorFailures *prometheus.CounterVec

	// Classifier metrics
	BreathsTotal  prometheus.Counter
	BreathingRate prometheus.Gauge
	Confidence    prometheus.Gauge
	SleepStage    *prometheus.GaugeVec
	ApneaActive   prometheus.Gauge
	ApneaEvents   prometheus.Counter

	// Poller metrics
	PollsTotal *prometheus.CounterVec
}

// NewMetrics creates a new metrics collector registered on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SessionsStarted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "respirosync_sessions_started_total",
				Help: "Total number of sensing sessions started",
			},
		),
		SessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "respirosync_sessions_active",
				Help: "Number of running sensing sessions",
			},
		),
		SessionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "respirosync_session_duration_seconds",
				Help:    "Sensing session duration in seconds",
				Buckets: []float64{60, 300, 900, 1800, 3600, 7200, 14400, 28800, 43200},
			},
		),

		SamplesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "respirosync_samples_total",
				Help: "Total number of motion samples ingested",
			},
			[]string{"kind"},
		),
		SensorFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "respirosync_sensor_failures_total",
				Help: "Total number of sensor failures reported during sessions",
			},
			[]string{"reason"},
		),

		BreathsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "respirosync_breaths_total",
				Help: "Total number of breath cycles detected",
			},
		),
		BreathingRate: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "respirosync_breathing_rate_bpm",
				Help: "Latest breathing rate in breaths per minute",
			},
		),
		Confidence: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "respirosync_stage_confidence",
				Help: "Latest sleep stage confidence (0-1)",
			},
		),
		SleepStage: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "respirosync_sleep_stage",
				Help: "Current sleep stage (1 for the active stage, 0 otherwise)",
			},
			[]string{"stage"},
		),
		ApneaActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "respirosync_possible_apnea",
				Help: "1 while a possible apnea is flagged",
			},
		),
		ApneaEvents: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "respirosync_apnea_events_total",
				Help: "Total number of possible apnea episodes",
			},
		),

		PollsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "respirosync_polls_total",
				Help: "Total number of presentation polls",
			},
			[]string{"result"},
		),
	}
}

// SessionStarted implements engine.Observer
func (m *Metrics) SessionStarted() {
	m.SessionsStarted.Inc()
	m.SessionsActive.Inc()
}

// SessionStopped implements engine.Observer
func (m *Metrics) SessionStopped(duration time.Duration) {
	m.SessionsActive.Dec()
	m.SessionDuration.Observe(duration.Seconds())
	m.resetLive()
}

// SampleIngested implements engine.Observer
func (m *Metrics) SampleIngested(kind models.SampleKind) {
	m.SamplesTotal.WithLabelValues(string(kind)).Inc()
}

// BreathDetected implements engine.Observer
func (m *Metrics) BreathDetected() {
	m.BreathsTotal.Inc()
}

// SensorFailed implements engine.Observer
func (m *Metrics) SensorFailed(err error) {
	m.SensorFailures.WithLabelValues(FailureReason(err)).Inc()
}

// ApneaEvent counts one apnea episode
func (m *Metrics) ApneaEvent(*models.ApneaEvent) {
	m.ApneaEvents.Inc()
}

// Handle implements poller.Sink
func (m *Metrics) Handle(_ context.Context, s *models.SleepMetrics, err error) {
	if err != nil || s == nil {
		m.PollsTotal.WithLabelValues("idle").Inc()
		return
	}

	m.PollsTotal.WithLabelValues("ok").Inc()
	m.BreathingRate.Set(s.BreathingRateBPM)
	m.Confidence.Set(s.Confidence)
	for _, st := range models.AllStages {
		v := 0.0
		if st == s.SleepStage {
			v = 1
		}
		m.SleepStage.WithLabelValues(st.String()).Set(v)
	}
	if s.PossibleApnea {
		m.ApneaActive.Set(1)
	} else {
		m.ApneaActive.Set(0)
	}
}

func (m *Metrics) resetLive() {
	m.BreathingRate.Set(0)
	m.Confidence.Set(0)
	m.ApneaActive.Set(0)
	m.SleepStage.Reset()
}

// FailureReason maps sensor errors to a bounded label set
func FailureReason(err error) string {
	switch {
	case errors.Is(err, sensor.ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, sensor.ErrSensorUnavailable):
		return "sensor_unavailable"
	default:
		return "other"
	}
}
