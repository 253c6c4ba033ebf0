package main

import (
	"flag"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/acqctl/internal/config"
	"github.com/danmuck/acqctl/internal/logging"
)

func main() {
	logging.ConfigureRuntime()

	kind := flag.String("kind", "acquisition", "config kind: acquisition|service|iocsim")
	output := flag.String("output", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing acquisition config file")
	input := flag.String("input", "cmd/acqctl/acquisition.toml", "acquisition config path for validation")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		cfg, err := config.LoadAcquisitionConfig(*input)
		if err != nil {
			log.Fatal().Err(err).Msg("validation failed")
		}
		log.Info().Str("path", *input).Int("detectors", len(cfg.Detectors)).Msg("validated acquisition config")
		return
	}

	target := *output
	if target == "" {
		switch *kind {
		case "acquisition":
			target = "cmd/acqctl/acquisition.toml"
		case "service":
			target = "cmd/acqctl/config.toml"
		case "iocsim":
			target = "cmd/iocsim/config.toml"
		default:
			log.Fatal().Str("kind", *kind).Msg("unknown kind")
		}
	}

	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		log.Fatal().Err(err).Msg("write template")
	}
	log.Info().Str("kind", *kind).Str("path", target).Msg("wrote config template")
}
