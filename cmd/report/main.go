// Command report inspects the ledger, the stored strategies and the engine
// switch.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/your-org/adx-trend-bot/internal/config"
	"github.com/your-org/adx-trend-bot/internal/datastore"
	"github.com/your-org/adx-trend-bot/pkg/logger"
)

func main() {
	root := newRootCmd(openFromConfig)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// openFromConfig loads the config file and opens the database it names.
func openFromConfig(ctx context.Context, path string) (datastore.Store, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger.SetGlobalLogLevel(cfg.App.LogLevel)
	return datastore.Open(ctx, cfg.Database, logger.Zap())
}
