package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pwm_relay"

// NewRegistry creates a Prometheus registry with Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler returns an http.Handler that serves Prometheus metrics.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// RelayMetrics covers the WebSocket side.
type RelayMetrics struct {
	ConnectedClients prometheus.Gauge
	MessagesReceived prometheus.Counter
	MessagesRejected prometheus.Counter
	FanoutSends      *prometheus.CounterVec
}

func NewRelayMetrics(reg prometheus.Registerer) *RelayMetrics {
	m := &RelayMetrics{
		ConnectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "connected_clients",
			Help:      "Number of registered WebSocket clients.",
		}),
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "messages_received_total",
			Help:      "Setpoint messages accepted from clients.",
		}),
		MessagesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "messages_rejected_total",
			Help:      "Inbound messages that failed to parse as a number.",
		}),
		FanoutSends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "fanout_sends_total",
			Help:      "Per-peer fan-out sends by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(m.ConnectedClients, m.MessagesReceived, m.MessagesRejected, m.FanoutSends)
	return m
}

// ActuatorMetrics covers the actuation loop.
type ActuatorMetrics struct {
	DutyPercent  prometheus.Gauge
	Setpoint     prometheus.Gauge
	Applies      prometheus.Counter
	DriverErrors prometheus.Counter
}

func NewActuatorMetrics(reg prometheus.Registerer) *ActuatorMetrics {
	m := &ActuatorMetrics{
		DutyPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "actuator",
			Name:      "duty_percent",
			Help:      "Last duty cycle applied to the output (0-100).",
		}),
		Setpoint: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "actuator",
			Name:      "setpoint",
			Help:      "Last setpoint observed by the loop, before clamping.",
		}),
		Applies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "actuator",
			Name:      "applies_total",
			Help:      "Duty cycle writes issued to the driver.",
		}),
		DriverErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "actuator",
			Name:      "driver_errors_total",
			Help:      "Duty cycle writes the driver rejected.",
		}),
	}

	reg.MustRegister(m.DutyPercent, m.Setpoint, m.Applies, m.DriverErrors)
	return m
}
