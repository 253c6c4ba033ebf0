package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/acqctl/internal/areadetector"
	"github.com/danmuck/acqctl/internal/auth"
	"github.com/danmuck/acqctl/internal/config"
	"github.com/danmuck/acqctl/internal/detector"
	"github.com/danmuck/acqctl/internal/docstore"
	"github.com/danmuck/acqctl/internal/observability"
	"github.com/danmuck/acqctl/internal/plan"
	"github.com/danmuck/acqctl/internal/protocol/session"
	"github.com/danmuck/acqctl/internal/registry"
	"github.com/danmuck/acqctl/internal/server"
	"github.com/danmuck/acqctl/internal/signal"
)

var errNoIOC = errors.New("ioc_addr is required when simulate = false")

// station is everything one acqctl process owns.
type station struct {
	registry  *registry.Registry
	detectors map[string]*areadetector.Detector
	store     *docstore.Store
	client    *session.Client
}

func (s *station) Close() error {
	if s.client != nil {
		_ = s.client.Close()
	}
	return s.store.Close()
}

func run(ctx context.Context, cfg serviceConfig) error {
	observability.InitLogger(cfg.ID)

	st, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	var opts []server.Option
	if cfg.AdminToken != "" {
		opts = append(opts, server.WithToken(auth.StaticToken{Token: cfg.AdminToken}))
	}
	srv := server.New(cfg.ID, cfg.AdminAddr, st.registry, st.store, cfg.CorsOrigins, opts...)
	if cfg.AdminAddr != "" {
		return srv.Serve(ctx)
	}

	uid, err := srv.Count(ctx, cfg.Detectors, cfg.Count)
	if err != nil {
		return err
	}
	log.Info().Str("run", uid).Str("db", cfg.DBPath).Msg("run recorded")
	return nil
}

func build(ctx context.Context, cfg serviceConfig) (*station, error) {
	acq, err := config.LoadAcquisitionConfig(cfg.AcquisitionConfig)
	if err != nil {
		return nil, err
	}

	provider := signal.Sim()
	var client *session.Client
	if !acq.Simulate {
		if cfg.IOCAddr == "" {
			return nil, errNoIOC
		}
		client, err = session.Dial(ctx, cfg.IOCAddr, cfg.ID, cfg.Session)
		if err != nil {
			return nil, fmt.Errorf("dial ioc %s: %w", cfg.IOCAddr, err)
		}
		provider = signal.Remote(client)
	}
	st, err := assemble(ctx, cfg, acq, provider)
	if err != nil {
		if client != nil {
			_ = client.Close()
		}
		return nil, err
	}
	st.client = client
	return st, nil
}

func assemble(ctx context.Context, cfg serviceConfig, acq config.AcquisitionConfig, provider signal.Provider) (*station, error) {
	reg, dets, err := config.BuildRegistry(provider, acq, detector.WithRecorder(observability.DetectorMetrics{}))
	if err != nil {
		return nil, err
	}
	if err := plan.ConnectWithRetry(ctx, reg.Devices(), cfg.ConnectTimeout, cfg.ConnectAttempts, plan.DefaultBackoff()); err != nil {
		return nil, err
	}
	if provider.IsSim() {
		if _, err := config.SimulateDetectors(acq, dets); err != nil {
			return nil, err
		}
	}

	for _, entry := range acq.Detectors {
		det := dets[entry.ID]
		if exposure := entry.ExposureDuration(); exposure > 0 {
			if err := det.Drv.AcquireTime.Set(ctx, exposure.Seconds()).Wait(ctx); err != nil {
				return nil, fmt.Errorf("set exposure on %s: %w", entry.ID, err)
			}
		}
		log.Info().Str("detector", entry.ID).Str("kind", entry.Kind).Str("prefix", entry.Prefix).Msg("detector ready")
	}

	store := docstore.New(cfg.DBPath)
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	return &station{registry: reg, detectors: dets, store: store}, nil
}
