// Package main реализует утилиту обслуживания, удаляющую все
// административные записи. HTTP-поверхность такой путь не открывает.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/BigCrunchTheory/watermap-service/internal/repository"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	var databaseURI string
	flag.StringVar(&databaseURI, "d", "", "database URI")
	flag.Parse()

	if env := os.Getenv("DATABASE_URI"); env != "" {
		databaseURI = env
	}
	if databaseURI == "" {
		sugar.Fatal("database URI is required")
	}

	repo, err := repository.NewPostgresRepository(databaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	deleted, err := repo.DeleteAllAdmins(ctx)
	if err != nil {
		sugar.Fatalw("delete admins error", "error", err.Error())
	}

	sugar.Infow("admins deleted", "count", deleted)
}
