package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"carelink/internal/app"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	a, err := app.New(app.Options{ConfigPath: *cfgPath})
	if err != nil {
		fmt.Fprintf(os.Stderr, "notifyd: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "notifyd: start: %v\n", err)
		os.Exit(1)
	}

	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := a.Stop(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "notifyd: shutdown: %v\n", err)
		os.Exit(1)
	}
}
