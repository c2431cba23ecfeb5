package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"fapchat/app/server"
	"fapchat/config"
	"fapchat/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("error loading config: %v", err)
	}
	lg, err := logger.New(cfg.LogMode, cfg.LogRedact)
	if err != nil {
		log.Fatalf("error creating logger: %v", err)
	}
	defer lg.Sync()

	s := server.NewServer(cfg, lg)

	go s.Run()

	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, os.Interrupt, syscall.SIGTERM)
	<-sigch
	lg.Info("received shutdown signal, shutting down server")
	s.Stop()
}
