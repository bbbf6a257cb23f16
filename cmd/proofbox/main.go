package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Agrid-Dev/proofbox/cmd/app"
	"github.com/Agrid-Dev/proofbox/internal/ui"
)

func main() {
	var (
		configPath  string
		debug       bool
		printConfig bool
	)
	flag.StringVar(&configPath, "config", "config.yaml", "path to config file (.yaml/.yml/.json)")
	flag.BoolVar(&debug, "debug", false, "enable debug output")
	flag.BoolVar(&printConfig, "print-config", false, "print the effective config and exit")
	flag.Parse()

	ui.SetDebug(debug)

	cfg, err := app.LoadConfig(configPath)
	if err != nil {
		ui.Fatal("Config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		ui.Fatal("Config: %v", err)
	}

	if printConfig {
		out, err := cfg.YAML()
		if err != nil {
			ui.Fatal("Config: %v", err)
		}
		fmt.Print(string(out))
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := app.Run(ctx, cfg); err != nil {
		ui.Error("%v", err)
		os.Exit(1)
	}
	ui.Info("Done.")
}
