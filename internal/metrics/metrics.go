package metrics

import (
	"context"
	"errors"
	"sync"

	"github.com/Wyydra/ya-call/internal/core/domain"
	"github.com/Wyydra/ya-call/internal/core/port"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the call client's Prometheus collectors.
type Metrics struct {
	callsTotal       *prometheus.CounterVec
	callsActive      prometheus.Gauge
	callsConnected   prometheus.Counter
	callsDuration    prometheus.Histogram
	callsEndedTotal  *prometheus.CounterVec
	signalsSent      *prometheus.CounterVec
	signalsReceived  *prometheus.CounterVec
	signalSendErrors *prometheus.CounterVec

	mu    sync.Mutex
	phase domain.Phase
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		callsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "calls_total",
			Help: "Call attempts by direction",
		}, []string{"direction"}),
		callsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "calls_active",
			Help: "1 while a call attempt is in progress",
		}),
		callsConnected: f.NewCounter(prometheus.CounterOpts{
			Name: "calls_connected_total",
			Help: "Calls that reached the connected phase",
		}),
		callsDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "call_duration_seconds",
			Help:    "Duration of connected calls",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}),
		callsEndedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "calls_ended_total",
			Help: "Ended calls by reason",
		}, []string{"reason"}),
		signalsSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "signals_sent_total",
			Help: "Signal messages written to the relay by kind",
		}, []string{"kind"}),
		signalsReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "signals_received_total",
			Help: "Signal messages delivered by the relay by kind",
		}, []string{"kind"}),
		signalSendErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "signal_send_errors_total",
			Help: "Failed relay writes by kind",
		}, []string{"kind"}),
		phase: domain.PhaseIdle,
	}
}

// CallEvents is the event surface of the call facade.
type CallEvents interface {
	OnStateChange(fn func(domain.CallState))
	OnCallEnded(fn func(domain.CallEnded))
}

// Observe records call metrics from the facade's events.
func (m *Metrics) Observe(ev CallEvents) {
	ev.OnStateChange(m.stateChanged)
	ev.OnCallEnded(m.callEnded)
}

func (m *Metrics) stateChanged(st domain.CallState) {
	m.mu.Lock()
	prev := m.phase
	m.phase = st.Phase
	m.mu.Unlock()

	if prev == st.Phase {
		return
	}
	switch st.Phase {
	case domain.PhasePlacing, domain.PhaseRinging:
		m.callsTotal.WithLabelValues(string(st.Direction)).Inc()
		m.callsActive.Set(1)
	case domain.PhaseConnected:
		m.callsConnected.Inc()
	case domain.PhaseIdle, domain.PhaseEnded:
		m.callsActive.Set(0)
	}
}

func (m *Metrics) callEnded(ev domain.CallEnded) {
	m.callsEndedTotal.WithLabelValues(string(ev.Reason)).Inc()
	if ev.Duration > 0 {
		m.callsDuration.Observe(ev.Duration.Seconds())
	}
}

// InstrumentRelay counts signals flowing through r.
func (m *Metrics) InstrumentRelay(r port.Relay) port.Relay {
	return &instrumentedRelay{Relay: r, m: m}
}

type instrumentedRelay struct {
	port.Relay
	m *Metrics
}

func (r *instrumentedRelay) Send(ctx context.Context, msg domain.SignalMessage) error {
	err := r.Relay.Send(ctx, msg)
	if err != nil && !errors.Is(err, context.Canceled) {
		r.m.signalSendErrors.WithLabelValues(string(msg.Kind)).Inc()
		return err
	}
	if err == nil {
		r.m.signalsSent.WithLabelValues(string(msg.Kind)).Inc()
	}
	return err
}

func (r *instrumentedRelay) Subscribe(ctx context.Context, id domain.SessionID, onMessage func(domain.SignalMessage)) (port.Subscription, error) {
	return r.Relay.Subscribe(ctx, id, func(msg domain.SignalMessage) {
		r.m.signalsReceived.WithLabelValues(string(msg.Kind)).Inc()
		onMessage(msg)
	})
}
