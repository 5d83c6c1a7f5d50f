// Package main реализует одноразовый импорт точек забора воды из CSV.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/BigCrunchTheory/watermap-service/internal/importer"
	"github.com/BigCrunchTheory/watermap-service/internal/repository"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	var (
		databaseURI string
		csvPath     string
	)
	flag.StringVar(&databaseURI, "d", "", "database URI")
	flag.StringVar(&csvPath, "f", "water_ufa.csv", "path to CSV file")
	flag.Parse()

	if env := os.Getenv("DATABASE_URI"); env != "" {
		databaseURI = env
	}
	if databaseURI == "" {
		sugar.Fatal("database URI is required")
	}

	f, err := os.Open(csvPath)
	if err != nil {
		sugar.Fatalw("open csv", "error", err.Error())
	}
	defer f.Close()

	points, err := importer.ParseCSV(f)
	if err != nil {
		sugar.Fatalw("parse csv", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(databaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	inserted, err := repo.BulkInsertWaterPoints(ctx, points)
	if err != nil {
		sugar.Fatalw("import error", "error", err.Error())
	}

	sugar.Infow("import finished", "inserted", inserted, "file", csvPath)
}
