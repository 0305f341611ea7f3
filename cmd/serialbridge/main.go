// Command serialbridge owns the scanner and scale connections of a weigh
// station and serves them to the rest of the application:
//
//   - GET  /api/status                         : connection state of both devices
//   - GET  /api/ports                          : serial ports present on the host
//   - POST /api/{scanner|scale}/{connect|disconnect|toggle}
//   - GET  /ws                                 : scanner-data, scale-data and serial-status events
//   - GET  /metrics                            : Prometheus metrics
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	serial "github.com/luhtfiimanal/go-livestock-serial"
	"github.com/luhtfiimanal/go-livestock-serial/internal/logging"
)

func main() {
	cfgPath := flag.String("config", "configs/serial.yml", "path to config file")
	connect := flag.Bool("connect", false, "connect both devices on start")
	flag.Parse()

	log := logging.New("serialbridge")
	if err := run(*cfgPath, *connect, log); err != nil {
		log.Fatal().Err(err).Msg("serialbridge stopped")
	}
}

func run(cfgPath string, connect bool, log zerolog.Logger) error {
	cfg, err := serial.LoadConfig(cfgPath)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	mgr, err := serial.NewManager(
		serial.WithLogger(log),
		serial.WithRegisterer(reg),
		serial.WithWeightCeiling(cfg.WeightCeiling),
		serial.WithBufferLimit(cfg.BufferLimit),
		serial.WithStatusSink(auditSink(log)),
	)
	if err != nil {
		return err
	}
	defer mgr.Close()

	if !mgr.IsSupported() {
		log.Warn().Msg("serial i/o not supported on this host; connect requests will fail")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if connect {
		if err := mgr.ConnectScanner(ctx, cfg.Scanner); err != nil {
			log.Error().Err(err).Msg("scanner")
		}
		if err := mgr.ConnectScale(ctx, cfg.Scale); err != nil {
			log.Error().Err(err).Msg("scale")
		}
	}

	srv := &http.Server{Addr: cfg.Listen, Handler: newBridge(mgr, cfg, log, reg).routes()}
	errs := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Listen).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
		close(errs)
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// close the manager first so websocket writers see their subscriptions end
	if err := mgr.Close(); err != nil {
		log.Warn().Err(err).Msg("close manager")
	}
	return srv.Shutdown(shutdownCtx)
}

// auditSink records every connect and disconnect as an action/detail pair.
func auditSink(log zerolog.Logger) serial.StatusSink {
	return serial.StatusFunc(func(s serial.Status) {
		ev := log.Info()
		if s.Unexpected || s.Err != nil {
			ev = log.Warn().Err(s.Err)
		}
		ev.Str("action", s.Action()).Str("channel", string(s.Channel)).Msg(s.Detail())
	})
}
