package metrics

import (
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gpuwatchhq/gpuwatch/internal/events"
	"github.com/gpuwatchhq/gpuwatch/pkg/types"
)

const namespace = "gpuwatch"

// Store owns a private Prometheus registry fed from engine events.
type Store struct {
	registry *prometheus.Registry

	polls            *prometheus.CounterVec
	notifications    *prometheus.CounterVec
	reloads          *prometheus.CounterVec
	eventCount       *prometheus.CounterVec
	eligible         prometheus.Gauge
	engineState      *prometheus.GaugeVec
	lastPoll         prometheus.Gauge
	ready            prometheus.Gauge
	readyTransitions *prometheus.CounterVec

	mu          sync.Mutex
	readyState  atomic.Int64
	readyReason atomic.Value
}

// NewStore constructs a Store with every collector registered.
func NewStore() *Store {
	s := &Store{
		registry: prometheus.NewRegistry(),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Inventory polls by outcome.",
		}, []string{"outcome"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Per-recipient notification deliveries by outcome.",
		}, []string{"outcome"}),
		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_reloads_total",
			Help:      "Configuration reloads by outcome.",
		}, []string{"outcome"}),
		eventCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Engine events by type.",
		}, []string{"type"}),
		eligible: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "eligible_resources",
			Help:      "Resources that satisfied the availability predicate on the last successful poll.",
		}),
		engineState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "engine_state",
			Help:      "Current trigger engine state (1 for the active state).",
		}, []string{"state"}),
		lastPoll: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_poll_timestamp_seconds",
			Help:      "Unix time of the last successful poll.",
		}),
		ready: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ready",
			Help:      "Whether the daemon considers itself ready (1=ready).",
		}),
		readyTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ready_transitions_total",
			Help:      "Readiness transitions by resulting state.",
		}, []string{"state"}),
	}
	s.readyReason.Store("")
	s.registry.MustRegister(
		s.polls,
		s.notifications,
		s.reloads,
		s.eventCount,
		s.eligible,
		s.engineState,
		s.lastPoll,
		s.ready,
		s.readyTransitions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return s
}

// Record implements events.Recorder.
func (s *Store) Record(event types.Event) {
	s.eventCount.WithLabelValues(string(event.Type)).Inc()

	switch event.Type {
	case types.EventPollSucceeded:
		s.polls.WithLabelValues("success").Inc()
		s.lastPoll.Set(float64(event.Timestamp.UnixNano()) / 1e9)
		if n, ok := intDetail(event.Details, events.DetailEligibleCount); ok {
			s.eligible.Set(float64(n))
		}
	case types.EventPollFailed:
		s.polls.WithLabelValues("failure").Inc()
	case types.EventNotified:
		s.notifications.WithLabelValues("sent").Inc()
	case types.EventDeliveryFailed:
		s.notifications.WithLabelValues("failed").Inc()
	case types.EventConfigReloaded:
		s.reloads.WithLabelValues("success").Inc()
	case types.EventConfigReloadFailed:
		s.reloads.WithLabelValues("failure").Inc()
	case types.EventStateChanged:
		state, _ := event.Details[events.DetailState].(string)
		if state == "" {
			return
		}
		s.mu.Lock()
		s.engineState.Reset()
		s.engineState.WithLabelValues(state).Set(1)
		s.mu.Unlock()
	}
}

// ObserveReadiness records the outcome of a readiness evaluation.
func (s *Store) ObserveReadiness(ready bool, reason string) {
	var next int64
	if ready {
		next = 1
		reason = ""
	}
	prev := s.readyState.Swap(next)
	if prev != next {
		if ready {
			s.readyTransitions.WithLabelValues("ready").Inc()
		} else {
			s.readyTransitions.WithLabelValues("not_ready").Inc()
		}
	}
	s.ready.Set(float64(next))
	s.readyReason.Store(strings.TrimSpace(reason))
}

// Ready returns the last observed readiness and its reason.
func (s *Store) Ready() (bool, string) {
	reason, _ := s.readyReason.Load().(string)
	return s.readyState.Load() == 1, reason
}

// Handler serves the registry in the Prometheus exposition format.
func (s *Store) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry})
}

func intDetail(details map[string]any, key string) (int, bool) {
	switch v := details[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
