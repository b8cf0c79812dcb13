package dataset

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"turtle-backtest/services/clickhouse"
	"turtle-backtest/services/config"
	"turtle-backtest/services/engine"
)

// Open builds a Loader for cfg.Data.Source. For the clickhouse source the
// returned Store is also used to persist results; the caller closes it.
func Open(ctx context.Context, cfg *config.Config, specs map[string]engine.InstrumentSpec, logger *zap.Logger) (*Loader, *clickhouse.Store, error) {
	switch cfg.Data.Source {
	case "", "csv":
		return NewLoader(CSVSource{Dir: cfg.Data.Dir}, cfg.Rolls, specs, logger), nil, nil
	case "clickhouse":
		store, err := clickhouse.Open(ctx, cfg.ClickHouse, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, nil, err
		}
		return NewLoader(store, cfg.Rolls, specs, logger), store, nil
	default:
		return nil, nil, fmt.Errorf("unknown data source %q", cfg.Data.Source)
	}
}
