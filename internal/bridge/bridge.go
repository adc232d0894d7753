// Package bridge owns the process lifecycle: it brings up the actuator and
// the auxiliary SPI handle, runs the WebSocket relay and the actuation loop
// side by side, and releases the hardware exactly once on the way out.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"pwm-relay/internal/actuator"
	"pwm-relay/internal/config"
	"pwm-relay/internal/metrics"
	"pwm-relay/internal/relay"
	"pwm-relay/internal/setpoint"
	"pwm-relay/internal/spi"
	"pwm-relay/internal/udp"
	"pwm-relay/internal/web"
)

// AuxHandle is the auxiliary peripheral. It is configured at startup and
// released at shutdown; nothing else drives it.
type AuxHandle interface {
	SetMaxSpeedHz(hz uint32) error
	Close() error
}

// Deps are the collaborators Run acquires or reports through. Zero values
// select the real hardware, the wall clock and the default logger.
type Deps struct {
	OpenActuator func(actuator.Config) (actuator.Driver, error)
	OpenAux      func(bus, device int) (AuxHandle, error)
	Clock        clockwork.Clock
	Logger       *slog.Logger
	// Logs, when set, is served on /api/logs.
	Logs *web.LogBuffer
	// Metrics, when set, receives the relay and actuator collectors.
	Metrics *prometheus.Registry
}

type Bridge struct {
	cfg  config.Config
	deps Deps

	ready chan struct{}
	addr  atomic.Value // string
}

func New(cfg config.Config, deps Deps) *Bridge {
	if deps.OpenActuator == nil {
		deps.OpenActuator = actuator.Open
	}
	if deps.OpenAux == nil {
		deps.OpenAux = openSPI
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewRegistry()
	}
	b := &Bridge{cfg: cfg, deps: deps, ready: make(chan struct{})}
	b.addr.Store("")
	return b
}

func openSPI(bus, device int) (AuxHandle, error) {
	h, err := spi.Open(bus, device)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Ready is closed once the listener is bound and both tasks are starting.
func (b *Bridge) Ready() <-chan struct{} { return b.ready }

// Addr is the bound listener address, or "" before Ready.
func (b *Bridge) Addr() string { return b.addr.Load().(string) }

// Run initializes the hardware and serves until ctx is cancelled or either
// task fails. Hardware acquired along the way is released before Run
// returns on every path; release errors are joined into the result.
func (b *Bridge) Run(ctx context.Context) (err error) {
	cfg := b.cfg
	log := b.deps.Logger

	rel := &releaser{logger: log}
	defer func() {
		if cerr := rel.release(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("bridge: cleanup: %w", cerr))
		}
	}()

	drv, err := b.deps.OpenActuator(actuator.Config{
		Backend:    cfg.Actuator.Backend,
		PWMChip:    cfg.Actuator.PWMChip,
		PWMChannel: cfg.Actuator.PWMChannel,
		GPIOPin:    cfg.Actuator.GPIOPin,
	})
	if err != nil {
		return fmt.Errorf("bridge: open actuator: %w", err)
	}
	rel.stopActuator = drv.Stop
	rel.closeActuator = drv.Close

	if err := drv.SetFrequencyHz(cfg.Actuator.FrequencyHz); err != nil {
		return fmt.Errorf("bridge: set frequency: %w", err)
	}
	if err := drv.SetDutyPercent(0); err != nil {
		return fmt.Errorf("bridge: start actuator: %w", err)
	}
	log.Info("actuator started", "backend", cfg.Actuator.Backend, "frequency_hz", cfg.Actuator.FrequencyHz, "duty", 0, "board", actuator.BoardModel())

	if cfg.SPI.Enabled() {
		aux, err := b.deps.OpenAux(cfg.SPI.Bus, cfg.SPI.Device)
		if err != nil {
			return fmt.Errorf("bridge: open spi: %w", err)
		}
		rel.closeAux = aux.Close
		if err := aux.SetMaxSpeedHz(cfg.SPI.MaxSpeedHz); err != nil {
			return fmt.Errorf("bridge: configure spi: %w", err)
		}
		log.Info("spi opened", "bus", cfg.SPI.Bus, "device", cfg.SPI.Device, "max_speed_hz", cfg.SPI.MaxSpeedHz)
	}

	var sink actuator.DutySink
	if dest := cfg.Telemetry.UDPDest; dest != "" {
		bc, err := udp.NewBroadcaster(dest)
		if err != nil {
			return fmt.Errorf("bridge: telemetry: %w", err)
		}
		defer bc.Close()
		sink = bc
		log.Info("duty telemetry enabled", "dest", bc.Dest())
	}

	cell := setpoint.New()
	rl := relay.New(relay.Config{
		WriteTimeout:    cfg.Relay.WriteTimeout,
		MaxMessageBytes: cfg.Relay.MaxMessageBytes,
		PingInterval:    cfg.Relay.PingInterval,
		Logger:          log,
		Metrics:         metrics.NewRelayMetrics(b.deps.Metrics),
	}, cell)
	// Close any client still connected once serving stops, even if the
	// server's own shutdown hook has not finished.
	defer rl.Shutdown()

	loop := actuator.NewLoop(actuator.LoopConfig{
		Interval:    cfg.Actuator.Interval,
		FrequencyHz: cfg.Actuator.FrequencyHz,
		Backend:     cfg.Actuator.Backend,
		Clock:       b.deps.Clock,
		Logger:      log,
		Metrics:     metrics.NewActuatorMetrics(b.deps.Metrics),
		Sink:        sink,
	}, drv, cell)

	ln, err := web.Listen(cfg.Relay.Listen)
	if err != nil {
		return fmt.Errorf("bridge: %w", err)
	}
	addr := ln.Addr().String()

	status := web.NewStatus(rl.Registry(), cell, loop)
	status.SetListen(addr)
	handler := web.Handler(web.Routes{
		Status:  status,
		Logs:    b.deps.Logs,
		Metrics: metrics.Handler(b.deps.Metrics),
		Relay:   rl,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return web.Serve(gctx, ln, handler, cfg.Web.ShutdownTimeout, rl.Shutdown)
	})
	g.Go(func() error {
		return loop.Run(gctx)
	})

	b.addr.Store(addr)
	close(b.ready)
	log.Info("relay listening", "addr", addr, "interval", cfg.Actuator.Interval)

	if err := g.Wait(); err != nil {
		log.Error("shutting down after failure", "error", err)
		return err
	}
	log.Info("shutting down")
	return nil
}
