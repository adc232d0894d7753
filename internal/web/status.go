package web

import (
	"sync/atomic"
	"time"

	"pwm-relay/internal/actuator"
)

// ClientCounter reports how many WebSocket peers are connected.
type ClientCounter interface {
	Len() int
}

// SetpointReader reports the latest setpoint, if any.
type SetpointReader interface {
	Load() (float64, bool)
}

// ActuatorReporter reports what the actuation loop last did.
type ActuatorReporter interface {
	Snapshot() actuator.Snapshot
}

type Status struct {
	startUnixNano int64
	listen        atomic.Value // string

	clients  ClientCounter
	setpoint SetpointReader
	actuator ActuatorReporter
}

// NewStatus builds a status view over the running components. Any of them
// may be nil; the corresponding fields are then omitted or zero.
func NewStatus(clients ClientCounter, setpoint SetpointReader, act ActuatorReporter) *Status {
	s := &Status{clients: clients, setpoint: setpoint, actuator: act}
	atomic.StoreInt64(&s.startUnixNano, time.Now().UTC().UnixNano())
	s.listen.Store("")
	return s
}

func (s *Status) SetListen(addr string) {
	s.listen.Store(addr)
}

type StatusSnapshot struct {
	Service   string             `json:"service"`
	NowUTC    string             `json:"now_utc"`
	UptimeSec int64              `json:"uptime_sec"`
	Listen    string             `json:"listen"`
	Clients   int                `json:"clients"`
	Setpoint  *float64           `json:"setpoint"`
	Actuator  *actuator.Snapshot `json:"actuator,omitempty"`
}

func (s *Status) Snapshot(nowUTC time.Time) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	start := time.Unix(0, atomic.LoadInt64(&s.startUnixNano)).UTC()

	snap := StatusSnapshot{
		Service:   "pwm-relay",
		NowUTC:    nowUTC.UTC().Format(time.RFC3339Nano),
		UptimeSec: int64(nowUTC.Sub(start).Seconds()),
		Listen:    s.listen.Load().(string),
	}
	if s.clients != nil {
		snap.Clients = s.clients.Len()
	}
	if s.setpoint != nil {
		if v, ok := s.setpoint.Load(); ok {
			snap.Setpoint = &v
		}
	}
	if s.actuator != nil {
		a := s.actuator.Snapshot()
		snap.Actuator = &a
	}
	return snap
}
