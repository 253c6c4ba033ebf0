package main

import (
	"context"
	"flag"
	"os"
	ossignal "os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/acqctl/internal/config"
	"github.com/danmuck/acqctl/internal/device"
	"github.com/danmuck/acqctl/internal/observability"
	"github.com/danmuck/acqctl/internal/protocol/session"
	"github.com/danmuck/acqctl/internal/signal"
)

func main() {
	configPath := flag.String("config", "cmd/iocsim/config.toml", "path to iocsim config.toml")
	flag.Parse()

	cfg, err := loadIOCConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load iocsim config")
	}
	observability.InitLogger(cfg.ID)

	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := newIOC(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build simulated ioc")
	}
	ln, err := srv.Listen(cfg.ListenAddr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.ListenAddr).Msg("listen failed")
	}
	if err := srv.Serve(ctx, ln); err != nil {
		log.Fatal().Err(err).Msg("iocsim stopped")
	}
}

// newIOC simulates every detector in the acquisition config and hosts its
// records behind a session server.
func newIOC(ctx context.Context, cfg iocConfig) (*session.Server, error) {
	acq, err := config.LoadAcquisitionConfig(cfg.AcquisitionConfig)
	if err != nil {
		return nil, err
	}
	reg, dets, err := config.BuildRegistry(signal.Sim(), acq)
	if err != nil {
		return nil, err
	}
	if err := device.Collect(ctx, 0, reg.Devices()); err != nil {
		return nil, err
	}
	if _, err := config.SimulateDetectors(acq, dets); err != nil {
		return nil, err
	}

	host := signal.NewHost()
	for _, entry := range acq.Detectors {
		if err := host.Serve(dets[entry.ID]); err != nil {
			return nil, err
		}
		log.Info().Str("detector", entry.ID).Str("kind", entry.Kind).Str("prefix", entry.Prefix).Msg("hosting detector")
	}
	log.Info().Int("pvs", len(host.PVs())).Msg("simulated ioc ready")
	return session.NewServer(cfg.ID, host, cfg.Session), nil
}
