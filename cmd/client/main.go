package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/iliyamo/machine-treatments/internal/client"
	"github.com/iliyamo/machine-treatments/internal/logger"
)

func main() {
	_ = godotenv.Load()

	cfg := client.LoadConfig()
	log := logger.New(logger.Config{Env: "development", Level: cfg.LogLevel, Out: os.Stderr})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := client.NewAPIClient(cfg.APIURL, cfg.Timeout)
	app := client.NewApp(api, os.Stdin, os.Stdout, log)

	log.Debug().Str("api", cfg.APIURL).Msg("client started")
	app.Run(ctx)
}
