package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"
)

func main() {
	configPath := flag.String("config", "cmd/acqctl/config.toml", "path to acqctl config.toml")
	flag.Parse()

	cfg, err := loadServiceConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "acqctl: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "acqctl: %v\n", err)
		os.Exit(1)
	}
}
