package session

import "errors"

// Отказы конечного автомата. Проверяются до любых изменений в ledger.
var (
	ErrSessionNotActive    = errors.New("игра не идёт")
	ErrSessionNotFinished  = errors.New("игра ещё не завершена")
	ErrPowerupAlreadyUsed  = errors.New("в этой игре усилитель уже использован")
	ErrPowerupNotSupported = errors.New("этот усилитель недоступен в игре")
	ErrArmInProgress       = errors.New("усилитель уже применяется")
	ErrNoStakeOpen         = errors.New("ставка не открыта")
	ErrStakeInProgress     = errors.New("ставка уже обрабатывается")
	ErrInvalidStake        = errors.New("недопустимая ставка")
	ErrInvalidScore        = errors.New("отрицательный счёт")
	ErrInvalidOutcome      = errors.New("недопустимый исход")
)
