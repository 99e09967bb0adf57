// CubeOS UPS monitor
// Watches the UPS power-fault and heartbeat lines and powers the host off
// when mains power stays lost past the grace period.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"cubeos-upsmon/internal/config"
	"cubeos-upsmon/internal/devices"
	"cubeos-upsmon/internal/handlers"
	"cubeos-upsmon/internal/logging"
	"cubeos-upsmon/internal/metrics"
	"cubeos-upsmon/internal/monitor"
	"cubeos-upsmon/internal/poweroff"
)

const defaultConfigPath = "/etc/cubeos/upsmon.yaml"

func main() {
	path := os.Getenv("UPSMON_CONFIG")
	if path == "" {
		path = defaultConfigPath
	}
	configPath := flag.String("config", path, "path to the YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "cubeos-upsmon: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, warnings, err := config.Load(configPath)
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "cubeos-upsmon: %s\n", w)
	}
	if err != nil {
		return err
	}

	log, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer closeLog()

	log.Info().Str("config", configPath).Msg("CubeOS UPS monitor starting...")

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	clock := clockwork.NewRealClock()
	m, err := metrics.New(reg, clock)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	action, err := poweroff.New(cfg.Shutdown.Method, cfg.Shutdown.Command, log)
	if err != nil {
		return err
	}

	lines, err := openLines(cfg, log)
	if err != nil {
		return err
	}

	ctrl := monitor.NewController(cfg.Monitor(), action, monitor.Options{
		Clock:    clock,
		Logger:   log,
		Observer: m,
	})
	if err := ctrl.Attach(lines); err != nil {
		closeInputs(log, lines.PowerFault, lines.Heartbeat)
		return fmt.Errorf("attach monitor: %w", err)
	}

	srvErr := make(chan error, 1)
	var srv *http.Server
	if cfg.HTTP.Enabled {
		r := chi.NewRouter()
		handlers.SetupRoutes(r, handlers.NewUPSHandler(ctrl, log), reg)

		srv = &http.Server{
			Addr:         cfg.Addr(),
			Handler:      r,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			log.Info().Str("addr", srv.Addr).Msg("HTTP API listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				srvErr <- err
			}
		}()
	}

	notify(log, daemon.SdNotifyReady)
	stopWatchdog := startWatchdog(ctrl, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down UPS monitor...")
	case err := <-srvErr:
		log.Error().Err(err).Msg("HTTP server failed")
		runErr = fmt.Errorf("http server: %w", err)
	}

	notify(log, daemon.SdNotifyStopping)
	stopWatchdog()

	if err := ctrl.Detach(); err != nil {
		log.Error().Err(err).Msg("detach failed")
		runErr = errors.Join(runErr, err)
	}
	closeInputs(log, lines.PowerFault, lines.Heartbeat)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown failed")
		}
	}

	log.Info().Msg("UPS monitor stopped")
	return runErr
}

func openLines(cfg *config.Config, log zerolog.Logger) (monitor.Lines, error) {
	power, err := devices.OpenInput(cfg.PowerFault.Line, cfg.EdgePollInterval, log)
	if err != nil {
		return monitor.Lines{}, fmt.Errorf("power fault line: %w", err)
	}
	heartbeat, err := devices.OpenInput(cfg.Heartbeat.Line, cfg.EdgePollInterval, log)
	if err != nil {
		closeInputs(log, power)
		return monitor.Lines{}, fmt.Errorf("heartbeat line: %w", err)
	}
	// Start at the stopping level; Attach drives it to alive.
	alive := bool(cfg.Monitor().StatusAlive)
	status, err := devices.OpenOutput(cfg.Status.Line, !alive, log)
	if err != nil {
		closeInputs(log, power, heartbeat)
		return monitor.Lines{}, fmt.Errorf("status line: %w", err)
	}
	return monitor.Lines{PowerFault: power, Heartbeat: heartbeat, Status: status}, nil
}

func closeInputs(log zerolog.Logger, lines ...monitor.SignalSource) {
	for _, l := range lines {
		c, ok := l.(io.Closer)
		if !ok {
			continue
		}
		if err := c.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to release input line")
		}
	}
}

func notify(log zerolog.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		log.Warn().Err(err).Str("state", state).Msg("sd_notify failed")
		return
	}
	if sent {
		log.Debug().Str("state", state).Msg("sd_notify sent")
	}
}

// startWatchdog pings the systemd watchdog at half its interval while the
// monitor stays attached. The returned func stops the pinger.
func startWatchdog(ctrl *monitor.Controller, log zerolog.Logger) func() {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		log.Warn().Err(err).Msg("systemd watchdog misconfigured")
		return func() {}
	}
	if interval <= 0 {
		return func() {}
	}

	log.Info().Dur("interval", interval).Msg("systemd watchdog enabled")
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(interval / 2)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if ctrl.Lifecycle() != monitor.Attached {
					continue
				}
				if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
					log.Warn().Err(err).Msg("watchdog ping failed")
				}
			}
		}
	}()
	return func() {
		close(done)
		<-stopped
	}
}
