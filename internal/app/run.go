package app

import (
	"context"
	"os/signal"
	"syscall"
)

// Run wires config, logging, and the app together and blocks until the
// server stops or the process receives SIGINT/SIGTERM. cmd/ideamart maps
// the returned error to an exit code, which keeps defers effective.
func Run() error {
	cfg := LoadConfig()
	log := NewLogger(cfg.LogLevel, cfg.LogFormat)

	a, err := New(cfg, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return a.Run(ctx)
}
