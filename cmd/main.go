package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/halcyonsky/astropipe-backend/internal/app"
)

func main() {
	a, err := app.New()
	if err != nil {
		fmt.Printf("Failed to start: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	a.Start()

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		a.Log.Info("Shutdown signal received")
		a.Close()
		os.Exit(0)
	}()

	a.Log.Info("Server listening", "addr", a.Cfg.HTTPAddr)
	if err := a.Router.Run(a.Cfg.HTTPAddr); err != nil {
		a.Log.Error("Server failed", "error", err)
	}
}
