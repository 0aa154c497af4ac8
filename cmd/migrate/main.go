package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/rickgao/tradeflow/internal/config"
	"github.com/rickgao/tradeflow/internal/database"
)

func main() {
	configPath := flag.String("config", "configs/tradeflow.yaml", "path to config file")
	envPath := flag.String("env", ".env", "optional env file loaded before the config")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] up|down|status\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	direction := "up"
	if flag.NArg() > 0 {
		direction = flag.Arg(0)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	if err := config.LoadDotEnv(*envPath); err != nil {
		logger.Error("failed to load env file", "error", err)
		os.Exit(1)
	}
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("running migrations",
		"direction", direction,
		"host", cfg.Database.Host,
		"database", cfg.Database.Name,
	)
	if err := database.Migrate(database.BuildConnString(cfg.Database), direction, logger); err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}
}
