package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"remont-lead-bot/internal/adapters/mtproto"
	"remont-lead-bot/internal/adapters/repo"
	"remont-lead-bot/internal/infra/config"
	"remont-lead-bot/internal/infra/db"
	applog "remont-lead-bot/internal/infra/log"
)

func main() {
	var (
		filePath    string
		sessionName string
		dryRun      bool
	)
	flag.StringVar(&filePath, "file", "", "файл сессии: JSON gotd, строка Telethon или выгрузка таблицы sessions")
	flag.StringVar(&sessionName, "name", "", "имя сессии (по умолчанию MTPROTO_SESSION_NAME)")
	flag.BoolVar(&dryRun, "dry-run", false, "только проверить и сконвертировать, не сохраняя")
	flag.Parse()

	cfg := config.Load()
	log := applog.Component(applog.NewLogger(cfg.AppEnv), "mtproto-importer")

	if filePath == "" {
		log.Fatal().Msg("mtproto-importer: не указан файл сессии (-file)")
	}
	if sessionName == "" {
		sessionName = cfg.MTProto.SessionName
	}

	raw, err := os.ReadFile(filePath)
	if err != nil {
		log.Fatal().Err(err).Msg("mtproto-importer: не удалось прочитать файл")
	}
	data, converted, err := mtproto.NormalizeSessionBytes(raw)
	if err != nil {
		log.Fatal().Err(err).Msg("mtproto-importer: формат сессии не распознан")
	}
	if dryRun {
		fmt.Printf("Сессия распознана (%d байт, конвертация: %t)\n", len(data), converted)
		return
	}

	if cfg.Store.PGDSN == "" {
		log.Fatal().Msg("mtproto-importer: не задан PG_DSN")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.Connect(ctx, cfg.Store.PGDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("mtproto-importer: нет подключения к БД")
	}
	defer pool.Close()
	if err := db.Migrate(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("mtproto-importer: миграция не выполнена")
	}

	store := mtproto.NewSessionStore(repo.NewPostgres(pool), sessionName)
	if err := store.StoreSession(ctx, data); err != nil {
		log.Fatal().Err(err).Msg("mtproto-importer: сессия не сохранена")
	}
	if converted {
		fmt.Println("Сессия сконвертирована в формат gotd")
	}
	fmt.Printf("Сессия %q сохранена (%d байт)\n", sessionName, len(data))
}
