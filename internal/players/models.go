// Package players связывает Telegram-аккаунт с анонимным идентификатором игрока.
// Ядро экономики знает только userID (UUID); Telegram ID, имя и username
// нужны адаптерам и админке.
package players

import "time"

// Player — игрок аркады.
type Player struct {
	ID         string    `db:"id"`          // Стабильный анонимный идентификатор (UUID)
	TelegramID int64     `db:"telegram_id"` // Telegram user ID (уникальный)
	Username   string    `db:"username"`    // @username (может быть пустым)
	FirstName  string    `db:"first_name"`
	CreatedAt  time.Time `db:"created_at"`
	LastSeen   time.Time `db:"last_seen"`
}

// DisplayName возвращает @username или, без него, имя.
func (p *Player) DisplayName() string {
	if p.Username != "" {
		return "@" + p.Username
	}
	if p.FirstName != "" {
		return p.FirstName
	}
	return "игрок"
}
