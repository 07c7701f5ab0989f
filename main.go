package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/gommon/log"

	"github.com/ramon2115/negotiation-game2/server"
)

func main() {
	configPath := flag.String("config", "config/config.json", "path to the config file")
	addr := flag.String("addr", ":8080", "listen address")
	flag.Parse()

	s := server.NewServer(*configPath)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.Shutdown(ctx); err != nil {
			log.Error("Shutdown error: ", err)
		}
	}()

	s.Start(*addr)
}
