package main

import (
	"context"
	"flag"
	"os"
	"time"

	"checkout-engine/internal/config"
	"checkout-engine/internal/db"
	"checkout-engine/internal/importer"
	"checkout-engine/internal/logging"
	productrepo "checkout-engine/internal/repository/product"
)

func main() {
	var filePath string
	flag.StringVar(&filePath, "file", "", "Path to a product CSV (key,name,description,price_cents,stock)")
	flag.Parse()

	if filePath == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.Load()
	logger := logging.New("importer", cfg.LogLevel)
	ctx := context.Background()

	pool, err := db.Connect(ctx, cfg.DBConnString)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect db")
	}
	defer pool.Close()

	f, err := os.Open(filePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("open file")
	}
	defer f.Close()

	imp := importer.NewCSVImporter(f, productrepo.NewPostgres(pool, &logger))

	start := time.Now()
	count, err := imp.Run(ctx)
	if err != nil {
		logger.Fatal().Err(err).Int("imported", count).Msg("import failed")
	}
	logger.Info().Int("imported", count).Dur("took", time.Since(start).Truncate(time.Millisecond)).Msg("import finished")
}
