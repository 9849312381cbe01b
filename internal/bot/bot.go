// Package bot — Telegram-адаптер аркады: приём апдейтов, команды игроков
// и админов, показ событий сессий.
package bot

import (
	"context"
	"sync"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/ruby-arcade/internal/admin"
	"serotonyl.ru/ruby-arcade/internal/arcade"
	"serotonyl.ru/ruby-arcade/internal/bot/filters"
	"serotonyl.ru/ruby-arcade/internal/bot/middleware"
	"serotonyl.ru/ruby-arcade/internal/config"
	"serotonyl.ru/ruby-arcade/internal/players"
)

// Sender отправляет сообщения. *telego.Bot его реализует.
type Sender interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
}

// Bot — главная структура бота, объединяющая все компоненты.
type Bot struct {
	api    *telego.Bot
	sender Sender
	cfg    *config.Config

	arcade  *arcade.Service
	players *players.Service
	auth    *admin.Auth

	chatFilter  *filters.ChatFilter
	rateLimiter *middleware.RateLimiter
	parser      *CommandParser

	// ограничитель параллелизма обработки апдейтов
	inflight chan struct{}

	mu     sync.Mutex
	chats  map[string]int64 // user id игрока → чат, где идёт его игра
	outbox map[string]*pending
}

// New создаёт бота. api может быть nil в тестах, тогда нужен sender.
func New(api *telego.Bot, cfg *config.Config, svc *arcade.Service, ps *players.Service, auth *admin.Auth) *Bot {
	maxInFlight := cfg.BotMaxInflight
	if maxInFlight <= 0 {
		maxInFlight = 64
	}
	b := &Bot{
		api:         api,
		cfg:         cfg,
		arcade:      svc,
		players:     ps,
		auth:        auth,
		chatFilter:  filters.NewChatFilter(cfg.ArcadeChatID),
		rateLimiter: middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow),
		parser:      NewCommandParser(),
		inflight:    make(chan struct{}, maxInFlight),
		chats:       make(map[string]int64),
		outbox:      make(map[string]*pending),
	}
	if api != nil {
		b.sender = api
	}
	return b
}

// Start запускает long polling и обрабатывает апдейты до отмены ctx.
func (b *Bot) Start(ctx context.Context) error {
	updates, err := b.api.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
		Timeout: b.cfg.BotUpdateTimeoutSeconds,
	})
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"max_inflight": cap(b.inflight),
		"timeout_sec":  b.cfg.BotUpdateTimeoutSeconds,
	}).Info("Бот запущен и ожидает сообщения...")

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		select {
		case <-ctx.Done():
			log.Info("Бот останавливается (ctx done)...")
			return nil

		case update, ok := <-updates:
			if !ok {
				log.Info("Канал updates закрыт, бот остановлен")
				return nil
			}

			// лимит параллелизма
			b.inflight <- struct{}{}
			wg.Add(1)
			go func(upd telego.Update) {
				defer func() {
					<-b.inflight
					wg.Done()
				}()
				b.handleUpdate(ctx, upd)
			}(update)
		}
	}
}

// Close освобождает фоновые ресурсы.
func (b *Bot) Close() {
	b.rateLimiter.Close()
}

// handleUpdate обрабатывает одно обновление от Telegram.
func (b *Bot) handleUpdate(ctx context.Context, update telego.Update) {
	defer middleware.RecoverFromPanic(update.UpdateID)

	message := update.Message
	if message == nil || message.Text == "" {
		return
	}
	middleware.LogMessage(message)

	if !b.chatFilter.CheckAccess(message) {
		return
	}

	cmd, args, isCommand := b.parser.ParseCommand(message.Text)
	if !isCommand {
		return
	}

	from := message.From
	if !b.rateLimiter.Allow(from.ID) {
		log.WithField("telegram_id", from.ID).Debug("rate limited")
		return
	}

	player, err := b.players.EnsurePlayer(ctx, from.ID, from.Username, from.FirstName)
	if err != nil {
		log.WithError(err).WithField("telegram_id", from.ID).Warn("EnsurePlayer failed")
		b.sendMessage(ctx, message.Chat.ID, "⚠️ Сервис временно недоступен, попробуй позже")
		return
	}

	req := &request{
		chatID:     message.Chat.ID,
		telegramID: from.ID,
		player:     player,
		private:    message.Chat.Type == telego.ChatTypePrivate,
		cmd:        cmd,
		args:       args,
	}

	// События сессии, пришедшие во время команды, уходят после ответа на неё
	b.hold(player.ID)
	defer b.release(ctx, player.ID)
	b.routeCommand(ctx, req)
}

// sendMessage — утилита для отправки сообщений.
func (b *Bot) sendMessage(ctx context.Context, chatID int64, text string) {
	if b.sender == nil {
		return
	}
	sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := b.sender.SendMessage(sendCtx, tu.Message(tu.ID(chatID), text)); err != nil {
		log.WithError(err).WithField("chat_id", chatID).Error("Ошибка отправки сообщения")
	}
}
