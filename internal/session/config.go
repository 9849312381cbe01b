package session

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"serotonyl.ru/ruby-arcade/internal/ledger"
)

// ForfeitScope — что теряет игрок, проиграв ставку.
type ForfeitScope string

const (
	ForfeitEntireReward ForfeitScope = "entire_reward" // Вся награда за сессию
	ForfeitStakeOnly    ForfeitScope = "stake_only"    // Только сама ставка, награда начисляется
)

// BettingConfig — параметры ставки для конкретной игры.
type BettingConfig struct {
	PresetCap        int64           // Верхняя граница ставки (49, 100)
	PayoutMultiplier decimal.Decimal // Выплата при выигрыше: stake * PayoutMultiplier
	PromptText       string          // Текст экрана выбора ставки
	ForfeitScope     ForfeitScope
}

// TimedEffect — временное изменение параметра игры.
type TimedEffect struct {
	Param    string        // Имя параметра в Config.Params
	Factor   float64       // Множитель значения на время действия
	Duration time.Duration // После этого значение восстанавливается
}

// Config — настройки экономики одной игры.
type Config struct {
	GameID string

	// MultiplierFactor применяется к награде при усилителе «множитель».
	MultiplierFactor decimal.Decimal

	// ExtraLifeRestore — значение ограниченного ресурса (время, здоровье),
	// которое восстанавливает «жизнь» при срабатывании.
	ExtraLifeRestore int64

	Betting BettingConfig

	// Effects — временные усилители, поддерживаемые игрой.
	Effects map[ledger.PowerupKind]TimedEffect

	// Params — базовые параметры игры (гравитация, шанс срыва ...).
	Params map[string]float64
}

// Supports сообщает, можно ли использовать вид усилителя в этой игре.
func (c Config) Supports(kind ledger.PowerupKind) bool {
	switch kind {
	case ledger.Multiplier, ledger.ExtraLife:
		return true
	case ledger.Betting:
		return c.Betting.PresetCap > 0
	default:
		_, ok := c.Effects[kind]
		return ok
	}
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	if c.GameID == "" {
		return fmt.Errorf("не задан GameID")
	}
	if c.MultiplierFactor.LessThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("%s: множитель награды должен быть >= 1", c.GameID)
	}
	if c.Betting.PresetCap < 0 {
		return fmt.Errorf("%s: отрицательный предел ставки", c.GameID)
	}
	if c.Betting.PresetCap > 0 && !c.Betting.PayoutMultiplier.IsPositive() {
		return fmt.Errorf("%s: выплата по ставке должна быть > 0", c.GameID)
	}
	switch c.Betting.ForfeitScope {
	case "", ForfeitEntireReward, ForfeitStakeOnly:
	default:
		return fmt.Errorf("%s: неизвестный forfeit scope %q", c.GameID, c.Betting.ForfeitScope)
	}
	for kind, eff := range c.Effects {
		if _, ok := c.Params[eff.Param]; !ok {
			return fmt.Errorf("%s: эффект %s меняет неизвестный параметр %q", c.GameID, kind, eff.Param)
		}
		if eff.Duration <= 0 {
			return fmt.Errorf("%s: эффект %s без длительности", c.GameID, kind)
		}
	}
	return nil
}

func (c Config) forfeitScope() ForfeitScope {
	if c.Betting.ForfeitScope == "" {
		return ForfeitEntireReward
	}
	return c.Betting.ForfeitScope
}
