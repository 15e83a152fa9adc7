package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/arashpm/leech-relay-bot/internal/bot"
	"github.com/arashpm/leech-relay-bot/internal/config"
)

func main() {
	cfgPath := flag.String("config", config.DefaultConfigPath(), "path to config.json")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	app, err := bot.New(cfg)
	if err != nil {
		log.Fatalf("init error: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("received %s, stopping", sig)
		app.Stop()
	}()

	if err := app.Run(); err != nil {
		log.Fatalf("run error: %v", err)
	}
	app.Close()
}
