// Package app инициализирует все компоненты приложения.
// app.go — точка сборки: выбирает хранилище ledger, создаёт сервисы аркады,
// бота, HTTP API и планировщик и запускает их вместе.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mymmrac/telego"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/ruby-arcade/internal/admin"
	"serotonyl.ru/ruby-arcade/internal/arcade"
	"serotonyl.ru/ruby-arcade/internal/bot"
	"serotonyl.ru/ruby-arcade/internal/common"
	"serotonyl.ru/ruby-arcade/internal/config"
	"serotonyl.ru/ruby-arcade/internal/db/postgres"
	"serotonyl.ru/ruby-arcade/internal/httpapi"
	"serotonyl.ru/ruby-arcade/internal/jobs"
	"serotonyl.ru/ruby-arcade/internal/ledger"
	"serotonyl.ru/ruby-arcade/internal/players"
)

// closer — хранилище, которое нужно закрыть при остановке.
type closer interface {
	Close() error
}

// App содержит все компоненты приложения.
type App struct {
	cfg *config.Config

	Arcade    *arcade.Service
	Bot       *bot.Bot
	HTTP      *httpapi.Server
	Scheduler *jobs.Scheduler
	DB        *pgxpool.Pool

	ledger closer
}

// New создаёт и инициализирует приложение.
// Компоненты создаются в порядке зависимостей.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{cfg: cfg}

	// === 1. Хранилище ===
	l, ps, err := a.openStorage(ctx)
	if err != nil {
		return nil, err
	}

	// === 2. Каталог игр ===
	catalog, err := arcade.LoadCatalog(cfg.ArcadeCatalogPath)
	if err != nil {
		a.closeStorage()
		return nil, fmt.Errorf("ошибка каталога игр: %w", err)
	}
	if cfg.ArcadePickupChance >= 0 {
		for _, g := range catalog.List() {
			g.Rules.PickupChance = cfg.ArcadePickupChance
		}
	}
	if err := catalog.Validate(); err != nil {
		a.closeStorage()
		return nil, fmt.Errorf("ошибка каталога игр: %w", err)
	}

	// === 3. Сервисы ===
	a.Arcade = arcade.NewService(arcade.Deps{
		Ledger:  l,
		Players: ps,
		Catalog: catalog,
	})

	// === 4. Telegram ===
	if cfg.FeatureBotEnabled {
		api, err := telego.NewBot(cfg.TelegramBotToken)
		if err != nil {
			a.closeStorage()
			return nil, fmt.Errorf("ошибка создания Telegram API: %w", err)
		}
		if me, err := api.GetMe(ctx); err == nil {
			log.Infof("Авторизован как @%s", me.Username)
		} else {
			log.WithError(err).Warn("getMe не удался")
		}
		a.Bot = bot.New(api, cfg, a.Arcade, ps, admin.NewAuth(cfg.AdminPasswordHash, cfg.AdminIDs))
		a.Arcade.SetSink(a.Bot)
	}

	// === 5. HTTP API ===
	if cfg.FeatureHTTPEnabled {
		a.HTTP = httpapi.NewServer(cfg.HTTPAddr, a.Arcade)
	}

	// === 6. Планировщик задач ===
	gift := cfg.ArcadeGiftSchedule
	if !cfg.FeatureDailyGiftEnabled {
		gift = ""
	}
	a.Scheduler = jobs.NewScheduler(a.Arcade, jobs.Options{
		Location:     common.LoadLocation(cfg.AppTimezone),
		ReapSchedule: cfg.ArcadeReapSchedule,
		Idle:         cfg.ArcadeSessionIdle,
		GiftSchedule: gift,
	})

	return a, nil
}

// openStorage открывает ledger и хранилище игроков по LEDGER_BACKEND.
func (a *App) openStorage(ctx context.Context) (ledger.Ledger, *players.Service, error) {
	switch a.cfg.LedgerBackend {
	case config.BackendPostgres:
		pool, err := postgres.NewPool(ctx, a.cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("ошибка подключения к БД: %w", err)
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ошибка миграций: %w", err)
		}
		l, err := ledger.NewPostgres(ctx, pool, a.cfg.LedgerNotifyChannel)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		a.DB = pool
		a.ledger = l
		return l, players.NewService(players.NewRepository(pool)), nil

	case config.BackendSQLite:
		l, err := ledger.NewSQLite(ctx, a.cfg.LedgerSQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("ошибка открытия SQLite: %w", err)
		}
		a.ledger = l
		log.Warn("Игроки хранятся в памяти: после перезапуска id игроков изменятся")
		return l, players.NewService(players.NewMemoryStore()), nil

	default:
		log.Warn("Ledger в памяти: данные не переживут перезапуск")
		l := ledger.NewMemory()
		a.ledger = l
		return l, players.NewService(players.NewMemoryStore()), nil
	}
}

func (a *App) closeStorage() {
	if a.ledger != nil {
		if err := a.ledger.Close(); err != nil {
			log.WithError(err).Warn("Ошибка закрытия ledger")
		}
	}
	if a.DB != nil {
		a.DB.Close()
	}
}

// Run запускает бота, HTTP API и планировщик и блокируется до отмены ctx.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.Scheduler.Start(ctx); err != nil {
		return err
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2)

	if a.Bot != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.Bot.Start(ctx); err != nil {
				errs <- fmt.Errorf("бот: %w", err)
			}
		}()
	}
	if a.HTTP != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.HTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errs <- fmt.Errorf("http: %w", err)
			}
		}()
	}

	log.Info("=== Аркада готова к работе ===")

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errs:
	}

	cancel()
	a.shutdown(&wg)
	return runErr
}

// shutdown останавливает компоненты в обратном порядке: сначала входы,
// потом партии (с расчётом), потом хранилище.
func (a *App) shutdown(inputs *sync.WaitGroup) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if a.HTTP != nil {
		if err := a.HTTP.Shutdown(ctx); err != nil {
			log.WithError(err).Warn("Ошибка остановки HTTP")
		}
	}
	inputs.Wait()
	a.Scheduler.Stop()
	a.Arcade.Shutdown(ctx)
	if a.Bot != nil {
		a.Bot.Close()
	}
	a.closeStorage()
}
