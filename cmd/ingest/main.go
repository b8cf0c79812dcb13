package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"turtle-backtest/services/clickhouse"
	"turtle-backtest/services/config"
	"turtle-backtest/services/csvfeed"
)

// Stages daily bar CSV files into ClickHouse and rebuilds the canonical table.

func main() {
	configPath := flag.String("config", "", "Path to YAML config")
	dir := flag.String("dir", "", "Directory of <INSTRUMENT>.csv files (default: data.dir)")
	source := flag.String("source", "csv", "Source label recorded with staged rows")
	direct := flag.Bool("direct", false, "Insert straight into the canonical table over the native protocol")
	validate := flag.Bool("validate", false, "run validation suite")
	flag.Parse()

	var paths []string
	if *configPath != "" {
		paths = append(paths, *configPath)
	}
	cfg, err := config.Load(paths...)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger, err := cfg.Logging.NewLogger()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()
	store, err := clickhouse.Open(ctx, cfg.ClickHouse, logger)
	if err != nil {
		logger.Fatal("ClickHouse unavailable", zap.Error(err))
	}
	defer store.Close()
	if err := store.EnsureSchema(ctx); err != nil {
		logger.Fatal("Schema setup failed", zap.Error(err))
	}

	if *validate {
		suite := NewValidationSuite(store, logger)
		if err := suite.RunAllValidations(ctx); err != nil {
			logger.Fatal("Validation failed", zap.Error(err))
		}
		return
	}

	root := *dir
	if root == "" {
		root = cfg.Data.Dir
	}
	files, err := csvFiles(root)
	if err != nil {
		logger.Fatal("List input files", zap.Error(err))
	}

	pipeline := clickhouse.NewIngestPipeline(cfg.ClickHouse, logger)
	var staged, skipped, failed int
	for _, path := range files {
		inst := csvfeed.InstrumentName(path)
		bars, sha, err := csvfeed.LoadBarsFile(path)
		if err != nil {
			fmt.Printf("Parse error for %s: %v\n", path, err)
			failed++
			continue
		}

		if *direct {
			if err := store.InsertBars(ctx, inst, bars); err != nil {
				fmt.Printf("Insert error for %s: %v\n", inst, err)
				failed++
				continue
			}
			staged++
			fmt.Printf("✅ %s: %d bars inserted\n", inst, len(bars))
			continue
		}

		ok, err := pipeline.StageFile(ctx, inst, sha, *source, bars)
		if err != nil {
			fmt.Printf("Stage error for %s: %v\n", inst, err)
			failed++
			continue
		}
		if !ok {
			skipped++
			fmt.Printf("⏭  %s: file already staged (%s)\n", inst, sha[:12])
			continue
		}
		staged++
		fmt.Printf("✅ %s: %d bars staged\n", inst, len(bars))
	}

	if !*direct && staged > 0 {
		if err := pipeline.Canonicalize(ctx); err != nil {
			logger.Fatal("Canonicalize failed", zap.Error(err))
		}
	}

	fmt.Printf("🎉 Ingestion complete: %d staged, %d skipped, %d failed\n", staged, skipped, failed)
	if failed > 0 {
		os.Exit(1)
	}
}

func csvFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}
