/*
This is an example of application that will use the
engine package to stream the testbed assets
*/
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/spaghettifunk/anima-rhi/engine"
	"github.com/spaghettifunk/anima-rhi/engine/config"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/testbed"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML engine configuration")
	quitWhenLoaded := flag.Bool("exit-when-loaded", false, "quit as soon as every asset streamed in")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			panic(err)
		}
	}

	if err := os.MkdirAll(cfg.Assets.Directory, 0o755); err != nil {
		panic(err)
	}
	n, err := testbed.GenerateSampleAssets(cfg.Assets.Directory)
	if err != nil {
		panic(err)
	}

	tb, err := testbed.NewTestGame(*quitWhenLoaded)
	if err != nil {
		panic(err)
	}

	e, err := engine.New(cfg, tb.Game)
	if err != nil {
		panic(err)
	}
	core.LogDebug("%d sample assets generated", n)

	if err := e.Initialize(); err != nil {
		panic(err)
	}

	// capture sigterm and other system calls here
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	defer stop()

	runErr := e.Run(ctx)
	if err := e.Shutdown(); err != nil {
		core.LogError("engine shutdown failed: %s", err)
	}
	if runErr != nil {
		panic(runErr)
	}
}
