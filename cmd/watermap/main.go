// Package main запускает HTTP-сервер сервиса WaterMap.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BigCrunchTheory/watermap-service/internal/auth"
	"github.com/BigCrunchTheory/watermap-service/internal/config"
	"github.com/BigCrunchTheory/watermap-service/internal/handler"
	"github.com/BigCrunchTheory/watermap-service/internal/middleware"
	"github.com/BigCrunchTheory/watermap-service/internal/repository"
	"github.com/BigCrunchTheory/watermap-service/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	svc := service.NewService(repo, service.BootstrapCredentials{
		Username: cfg.AdminUsername,
		Password: cfg.AdminPassword,
	})
	defer svc.Close()

	// Первичный администратор создаётся один раз при старте, если его нет.
	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 10*time.Second)
	if err := svc.EnsureBootstrapAdmin(startupCtx); err != nil {
		cancelStartup()
		sugar.Fatalw("bootstrap admin error", "error", err.Error())
	}
	cancelStartup()

	tokens := auth.NewTokenManager(cfg.JWTSecret)
	authMiddleware := middleware.NewAuthMiddleware(tokens)
	h := handler.NewHandler(svc, logger, tokens, authMiddleware)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting watermap server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
