package ledger

import "errors"

var errClosed = errors.New("ledger закрыт")

// applyBalance считает новый баланс: уменьшение ниже нуля обрезается до 0.
func applyBalance(current, delta int64) AdjustResult {
	next := current + delta
	if next < 0 {
		return AdjustResult{Value: 0, Applied: -current, Clamped: true}
	}
	return AdjustResult{Value: next, Applied: delta}
}

// applyPowerup считает новый запас: уменьшение ниже нуля отклоняется целиком,
// запас остаётся прежним.
func applyPowerup(current, delta int64) AdjustResult {
	next := current + delta
	if next < 0 {
		return AdjustResult{Value: current, Applied: 0, Clamped: true}
	}
	return AdjustResult{Value: next, Applied: delta}
}
