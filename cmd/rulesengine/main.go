// Command rulesengine starts the rules engine core as a standalone process:
// load configuration, wire the engine, start it, and run until a shutdown
// signal arrives. It carries no transport of its own — §1's "no CLI"
// non-goal means this binary exists to host the engine, not to expose it.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"rulesengine/engconfig"
	"rulesengine/engine"
	"rulesengine/enginelog"
)

func main() {
	cfg := engconfig.Load("RULES")
	if err := engconfig.Validate(cfg); err != nil {
		os.Stderr.WriteString("rulesengine: invalid configuration: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := enginelog.New(enginelog.Config{
		Level:      enginelog.Level(cfg.LogLevel),
		Format:     cfg.LogFormat,
		EngineName: cfg.EngineName,
	})
	log := enginelog.EngineLogger(logger, cfg.EngineName)

	e := engine.New(engine.Options{Config: cfg, Logger: logger})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := e.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start engine")
		os.Exit(1)
	}

	<-ctx.Done()
	log.Info("shutdown signal received")
	e.WaitForProcessingQueue()
	e.Stop()
}
