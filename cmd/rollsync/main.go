package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"rollsync/internal/app"
	"rollsync/internal/config"
	"rollsync/internal/telemetry"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a JSON session config")
		mode       = flag.String("mode", "", "loopback, listen or dial (overrides config)")
		runTicks   = flag.Int("ticks", -1, "stop after this many ticks (overrides config, 0 runs forever)")
	)
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("%v", err)
		}
		cfg = loaded
	}
	if *mode != "" {
		cfg.Mode = config.Mode(*mode)
	}
	if *runTicks >= 0 {
		cfg.RunTicks = *runTicks
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := app.Run(ctx, app.Options{
		Config: cfg,
		Logger: telemetry.WrapLogger(log.Default()),
	})
	if err != nil {
		log.Fatalf("%v", err)
	}
}
