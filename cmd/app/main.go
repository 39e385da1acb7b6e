package main

import (
	"flag"
	"log"
	"os"

	"OTCDesk/internal/di"
	"OTCDesk/pkg/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	log.Printf("env=%s symbols=%d backend=%q notifications=%s",
		cfg.Environment, len(cfg.Engine.Symbols), cfg.Backend.Type, cfg.Notifications.Backend)

	app, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}

	if err := app.Run(); err != nil {
		log.Printf("app error: %v", err)
		os.Exit(1)
	}
}
