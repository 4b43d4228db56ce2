package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/expiryx/internal/buildinfo"
	"github.com/dmitrijs2005/expiryx/internal/logging"
	"github.com/dmitrijs2005/expiryx/internal/node"
	"github.com/dmitrijs2005/expiryx/internal/node/config"
)

func main() {

	buildinfo.PrintBuildData(os.Stdout)

	cfg, err := config.LoadConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	log := logging.New(os.Stdout, cfg.LogFormat, cfg.LogLevel)
	app, err := node.NewApp(ctx, cfg, log)
	if err != nil {
		log.Error(ctx, "startup failed", "error", err)
		os.Exit(1)
	}

	if err := app.Run(ctx); err != nil {
		log.Error(ctx, "exited with error", "error", err)
		os.Exit(1)
	}
}
