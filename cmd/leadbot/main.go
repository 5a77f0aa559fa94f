package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"remont-lead-bot/internal/app"
	"remont-lead-bot/internal/infra/config"
	applog "remont-lead-bot/internal/infra/log"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("leadbot: запуск невозможен")
		os.Exit(1)
	}
	logger.Info().Str("env", cfg.AppEnv).Msg("leadbot: запущен")
	if err := a.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("leadbot: остановлен с ошибкой")
		os.Exit(1)
	}
	logger.Info().Msg("leadbot: остановлен")
}
