package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/meshwork-io/consortiumd/internal/config"
	"github.com/meshwork-io/consortiumd/internal/daemon"
	"github.com/meshwork-io/consortiumd/internal/logging"
)

func main() {
	configPath := flag.String("config", "consortiumd.toml", "path to the daemon config file")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	logging.Configure(logging.ProfileRuntime)
	if *verbose {
		logging.ForceDebug()
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "consortiumd: %v\n", err)
		os.Exit(1)
	}

	svc := daemon.New(cfg)
	if err := svc.Run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "consortiumd: %v\n", err)
		os.Exit(1)
	}
}
