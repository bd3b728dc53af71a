// Package exchange builds the broker adapter selected by configuration.
package exchange

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/your-org/adx-trend-bot/internal/broker"
	"github.com/your-org/adx-trend-bot/internal/config"
	"github.com/your-org/adx-trend-bot/internal/exchange/alpaca"
	"github.com/your-org/adx-trend-bot/internal/exchange/paper"
	"github.com/your-org/adx-trend-bot/pkg/logger"
)

// Open returns the adapter named by cfg.Kind.
func Open(cfg config.BrokerConfig) (broker.Broker, error) {
	switch cfg.Kind {
	case "alpaca":
		if cfg.APIKey == "" || cfg.APISecret == "" {
			return nil, fmt.Errorf("alpaca broker needs ALPACA_API_KEY and ALPACA_SECRET_KEY")
		}
		logger.Infof("Using Alpaca %s endpoint %s", cfg.Mode, cfg.BaseURL)
		return alpaca.NewClient(alpaca.Config{
			BaseURL:     cfg.BaseURL,
			DataURL:     cfg.DataURL,
			APIKey:      cfg.APIKey,
			APISecret:   cfg.APISecret,
			Feed:        cfg.Feed,
			RateLimit:   cfg.RateLimit,
			RateBurst:   cfg.RateBurst,
			HTTPTimeout: cfg.CallTimeout,
		}), nil
	case "paper":
		return OpenPaper(cfg)
	default:
		return nil, fmt.Errorf("unknown broker kind %q", cfg.Kind)
	}
}

// OpenPaper creates a paper broker holding cfg.PaperCash and loads every
// <SYMBOL>.csv file in cfg.PaperDataDir.
func OpenPaper(cfg config.BrokerConfig) (*paper.Broker, error) {
	b, err := paper.NewBroker(cfg.PaperCash)
	if err != nil {
		return nil, err
	}
	if cfg.PaperDataDir == "" {
		return b, nil
	}
	files, err := filepath.Glob(filepath.Join(cfg.PaperDataDir, "*.csv"))
	if err != nil {
		return nil, fmt.Errorf("list paper data: %w", err)
	}
	for _, f := range files {
		symbol := strings.ToUpper(strings.TrimSuffix(filepath.Base(f), filepath.Ext(f)))
		if err := b.LoadCSV(symbol, f); err != nil {
			return nil, err
		}
	}
	logger.Infof("Paper broker ready with %.2f cash and %d symbols", cfg.PaperCash, len(files))
	return b, nil
}
