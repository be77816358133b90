package main

import (
	"context"

	"checkout-engine/internal/config"
	"checkout-engine/internal/db"
	"checkout-engine/internal/logging"
	productrepo "checkout-engine/internal/repository/product"
	"checkout-engine/internal/seed"
)

func main() {
	cfg := config.Load()
	logger := logging.New("seed", cfg.LogLevel)

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.DBConnString)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect db")
	}
	defer pool.Close()

	n, err := seed.Apply(ctx, productrepo.NewPostgres(pool, &logger))
	if err != nil {
		logger.Fatal().Err(err).Msg("seed apply")
	}
	logger.Info().Int("products", n).Msg("seed applied")
}
