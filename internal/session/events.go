package session

import "serotonyl.ru/ruby-arcade/internal/ledger"

// EventType — дискретное событие сессии для слоя отображения.
type EventType string

const (
	EventPowerupConsumed EventType = "powerup_consumed"
	EventPowerupRefunded EventType = "powerup_refunded"
	EventWagerPlaced     EventType = "wager_placed"
	EventExtraLifeUsed   EventType = "extra_life_used"
	EventEffectExpired   EventType = "effect_expired"
	EventSessionSettled  EventType = "session_settled"
)

// Event — то, что адаптер (бот, API) показывает игроку.
type Event struct {
	Type       EventType
	SessionID  string
	UserID     string
	GameID     string
	Kind       ledger.PowerupKind
	Amount     int64
	Settlement *Settlement
}

// Sink принимает события. Вызывается вне блокировок сессии.
type Sink interface {
	Emit(Event)
}

// SinkFunc позволяет использовать функцию как Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

type discardSink struct{}

func (discardSink) Emit(Event) {}
