// Package climb — эталонная мини-игра для чата: игрок шаг за шагом лезет
// наверх, подбирает усилители и может сорваться.
//
// Экономику (очки, «жизнь», ставку, временные эффекты) ведёт session.Session;
// здесь только правила подъёма.
package climb

import (
	"fmt"
	"time"
)

// Параметры сессии, которые меняют временные усилители.
const (
	ParamSlipChance = "slip_chance"
	ParamGravity    = "gravity"
)

// Rules — правила одной трассы.
type Rules struct {
	Height        int           // Шагов до вершины
	Milestone     int           // Шаг, на котором ставка считается выигранной
	PointsPerStep int64         // Очков за шаг
	TimeLimit     time.Duration // Время на подъём
	PickupChance  float64       // Шанс найти усилитель на шаге
}

// Validate проверяет правила.
func (r Rules) Validate() error {
	if r.Height <= 0 {
		return fmt.Errorf("высота должна быть > 0")
	}
	if r.Milestone <= 0 || r.Milestone > r.Height {
		return fmt.Errorf("отметка ставки должна быть в пределах 1..%d", r.Height)
	}
	if r.PointsPerStep <= 0 {
		return fmt.Errorf("очки за шаг должны быть > 0")
	}
	if r.TimeLimit <= 0 {
		return fmt.Errorf("не задано время на подъём")
	}
	if r.PickupChance < 0 || r.PickupChance > 1 {
		return fmt.Errorf("шанс находки должен быть в [0, 1]")
	}
	return nil
}
