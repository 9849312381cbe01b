// Package main — точка входа аркады.
// Загружает конфигурацию, собирает приложение и запускает его.
// Поддерживает graceful shutdown по SIGINT/SIGTERM: идущие партии
// при остановке рассчитываются.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/ruby-arcade/internal/app"
	"serotonyl.ru/ruby-arcade/internal/config"
)

func main() {
	setupLogging()

	log.Info("=== Аркада запускается ===")

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Не удалось загрузить конфигурацию")
	}

	if level, err := log.ParseLevel(cfg.AppLogLevel); err == nil {
		log.SetLevel(level)
	}

	// Контекст отменяется по Ctrl+C или docker stop
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("Не удалось инициализировать приложение")
	}

	if err := application.Run(ctx); err != nil {
		log.WithError(err).Error("Аркада остановлена с ошибкой")
		os.Exit(1)
	}
	log.Info("=== Аркада остановлена ===")
}

// setupLogging настраивает формат логов.
func setupLogging() {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	log.SetOutput(os.Stdout)
	log.SetLevel(log.DebugLevel)
}
