// Package common — errors.go определяет пользовательские ошибки,
// которые используются во всех модулях аркады.
// Эти ошибки — не сбои системы, а нормальные ситуации, о которых
// игроку показывается короткое уведомление.
package common

import "errors"

// Ошибки экономики (рубины, ставки)
var (
	// ErrInsufficientFunds — недостаточно рубинов на счёте
	ErrInsufficientFunds = errors.New("недостаточно рубинов")
	// ErrInvalidAmount — некорректная сумма (ноль или отрицательная)
	ErrInvalidAmount = errors.New("сумма должна быть положительной")
	// ErrPlayerNotFound — игрок не найден
	ErrPlayerNotFound = errors.New("игрок не найден")
)

// Ошибки усилителей
var (
	// ErrInsufficientPowerups — усилителей этого вида нет
	ErrInsufficientPowerups = errors.New("нет доступных усилителей")
	// ErrUnknownPowerup — неизвестный вид усилителя
	ErrUnknownPowerup = errors.New("неизвестный усилитель")
)

// Ошибки аркады
var (
	// ErrUnknownGame — такой игры нет в каталоге
	ErrUnknownGame = errors.New("такой игры нет")
	// ErrGameInProgress — у игрока уже идёт игра
	ErrGameInProgress = errors.New("игра уже идёт, сначала закончи её (!стоп)")
	// ErrNoActiveGame — у игрока нет активной игры
	ErrNoActiveGame = errors.New("нет активной игры")
)

// Ошибки админки
var (
	// ErrNotAdmin — пользователь не является администратором
	ErrNotAdmin = errors.New("у вас нет прав администратора")
	// ErrWrongPassword — неверный пароль
	ErrWrongPassword = errors.New("неверный пароль")
	// ErrTooManyAttempts — слишком много неудачных попыток входа
	ErrTooManyAttempts = errors.New("слишком много попыток, подождите 1 час")
	// ErrSessionExpired — сессия истекла
	ErrSessionExpired = errors.New("сессия истекла, авторизуйтесь заново")
)
