package players

import (
	"context"
	"time"
)

// Store — хранилище игроков.
type Store interface {
	// Upsert создаёт игрока или обновляет имя и last_seen существующего.
	// Возвращает сохранённую запись: для существующего игрока ID не меняется.
	Upsert(ctx context.Context, p *Player) (*Player, error)
	GetByID(ctx context.Context, id string) (*Player, error)
	GetByTelegramID(ctx context.Context, telegramID int64) (*Player, error)
	GetByUsername(ctx context.Context, username string) (*Player, error)
	// ActiveSince возвращает игроков, заходивших не раньше since.
	ActiveSince(ctx context.Context, since time.Time) ([]*Player, error)
}
