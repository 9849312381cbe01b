// Package ledger — единственная точка доступа к долговременной записи игрока:
// баланс рубинов, рекорды по играм и запасы усилителей.
//
// Все изменения выполняются атомарно относительно ТЕКУЩЕГО сохранённого значения
// (а не закэшированного у вызывающего), поэтому параллельные сессии одного игрока
// (две вкладки, два устройства) корректно складывают арифметику баланса и счётчиков.
//
// Реализации: Postgres (продакшен, LISTEN/NOTIFY), SQLite (один узел / разработка)
// и Memory (тесты и локальный запуск без БД).
package ledger

import (
	"context"
	"strings"
)

// PowerupKind — вид усилителя.
type PowerupKind string

// Известные виды усилителей.
const (
	Multiplier  PowerupKind = "multiplier"   // ×2 к награде до конца игры
	ExtraLife   PowerupKind = "extra_life"   // Одна отменённая смертельная ошибка
	Betting     PowerupKind = "betting"      // Открывает ставку рубинами
	SafetyNet   PowerupKind = "safety_net"   // Временно убирает срывы
	SlowGravity PowerupKind = "slow_gravity" // Временно ослабляет гравитацию
)

// Kinds — фиксированный набор видов в порядке отображения.
var Kinds = []PowerupKind{Multiplier, ExtraLife, Betting, SafetyNet, SlowGravity}

// Valid сообщает, входит ли вид в фиксированный набор.
func (k PowerupKind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// kindAliases — русские названия для команд чата.
var kindAliases = map[string]PowerupKind{
	"множитель":  Multiplier,
	"жизнь":      ExtraLife,
	"ставка":     Betting,
	"страховка":  SafetyNet,
	"гравитация": SlowGravity,
}

// ParseKind разбирает вид усилителя из строки: английский код или русское название.
func ParseKind(s string) (PowerupKind, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if k := PowerupKind(s); k.Valid() {
		return k, true
	}
	k, ok := kindAliases[s]
	return k, ok
}

// Title возвращает название усилителя для игрока.
func (k PowerupKind) Title() string {
	for title, kind := range kindAliases {
		if kind == k {
			return title
		}
	}
	return string(k)
}

// ZeroCounts возвращает карту запасов, где каждый известный вид равен 0.
func ZeroCounts() map[PowerupKind]int64 {
	m := make(map[PowerupKind]int64, len(Kinds))
	for _, k := range Kinds {
		m[k] = 0
	}
	return m
}

// Snapshot — полная запись игрока на момент чтения.
// Version монотонно растёт с каждым изменением записи; по нему подписчики
// отбрасывают уведомления, пришедшие не по порядку.
type Snapshot struct {
	UserID     string
	Rubies     int64
	HighScores map[string]int64
	Powerups   map[PowerupKind]int64
	Version    int64
}

// emptySnapshot — запись игрока, которого ещё нет в хранилище.
func emptySnapshot(userID string) Snapshot {
	return Snapshot{
		UserID:     userID,
		HighScores: make(map[string]int64),
		Powerups:   ZeroCounts(),
	}
}

// AdjustResult — результат атомарного изменения.
type AdjustResult struct {
	Value   int64 // Значение после изменения
	Applied int64 // Фактически применённая дельта
	Clamped bool  // Запрошенное уменьшение не применено полностью
	Version int64 // Версия записи после изменения
}

// HighScoreResult — результат compare-and-set рекорда.
type HighScoreResult struct {
	Updated bool
	Value   int64
}

// Ledger — операции над записью игрока, которые использует ядро экономики.
//
// Чтение отсутствующей записи — не ошибка: баланс и рекорды равны 0,
// запасы — карта с нулями для всех видов.
type Ledger interface {
	ReadBalance(ctx context.Context, userID string) (int64, error)
	ReadHighScore(ctx context.Context, userID, gameID string) (int64, error)
	ReadPowerupCounts(ctx context.Context, userID string) (map[PowerupKind]int64, error)
	ReadSnapshot(ctx context.Context, userID string) (Snapshot, error)

	// AdjustBalance меняет баланс на delta. Уменьшение ниже нуля обрезается до 0
	// с Clamped=true; Applied показывает, сколько реально списано.
	AdjustBalance(ctx context.Context, userID string, delta int64, reason string) (AdjustResult, error)

	// AdjustPowerupCount меняет запас вида на delta. Уменьшение, которое увело бы
	// запас в минус, ОТКЛОНЯЕТСЯ без изменений: Clamped=true, Applied=0.
	AdjustPowerupCount(ctx context.Context, userID string, kind PowerupKind, delta int64, reason string) (AdjustResult, error)

	// SetHighScoreIfGreater записывает candidate, только если он больше сохранённого.
	SetHighScoreIfGreater(ctx context.Context, userID, gameID string, candidate int64) (HighScoreResult, error)

	// Subscribe присылает полную запись при каждом изменении. Функцию отписки
	// нужно вызвать ровно один раз; повторные вызовы безопасны.
	Subscribe(ctx context.Context, userID string, onChange func(Snapshot)) (func(), error)

	Close() error
}

// Описания операций для истории (ledger_entries.entry_type).
const (
	EntryBalance   = "balance"
	EntryPowerup   = "powerup"
	EntryHighScore = "high_score"
)
