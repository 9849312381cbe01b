package players

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Service выдаёт игрокам стабильные идентификаторы.
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// EnsurePlayer возвращает игрока по Telegram ID, создавая его при первом обращении.
// Имя и время последнего визита обновляются при каждом вызове.
func (s *Service) EnsurePlayer(ctx context.Context, telegramID int64, username, firstName string) (*Player, error) {
	candidate := &Player{
		ID:         uuid.NewString(),
		TelegramID: telegramID,
		Username:   username,
		FirstName:  firstName,
	}
	p, err := s.store.Upsert(ctx, candidate)
	if err != nil {
		return nil, fmt.Errorf("регистрация игрока %d: %w", telegramID, err)
	}
	if p.ID == candidate.ID {
		log.WithFields(log.Fields{
			"telegram_id": telegramID,
			"user_id":     p.ID,
			"username":    username,
		}).Info("Новый игрок зарегистрирован")
	}
	return p, nil
}

func (s *Service) ByID(ctx context.Context, id string) (*Player, error) {
	return s.store.GetByID(ctx, id)
}

func (s *Service) ByTelegramID(ctx context.Context, telegramID int64) (*Player, error) {
	return s.store.GetByTelegramID(ctx, telegramID)
}

// ByUsername ищет игрока по @username (с @ или без).
func (s *Service) ByUsername(ctx context.Context, username string) (*Player, error) {
	return s.store.GetByUsername(ctx, strings.TrimPrefix(username, "@"))
}

// ActiveWithin возвращает игроков, заходивших за последние d.
func (s *Service) ActiveWithin(ctx context.Context, d time.Duration) ([]*Player, error) {
	return s.store.ActiveSince(ctx, time.Now().Add(-d))
}
