package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable — хранилище недоступно (нет соединения, закрыто).
	ErrUnavailable = errors.New("ledger недоступен")
	// ErrTransactionAborted — запись не зафиксирована из-за конкурирующей записи.
	// Это ожидаемый исход: вызывающий считает операцию невыполненной.
	ErrTransactionAborted = errors.New("транзакция ledger отменена")
	// ErrUnknownKind — вид усилителя не входит в фиксированный набор.
	ErrUnknownKind = errors.New("неизвестный вид усилителя")
	// ErrInvalidUser — пустой идентификатор игрока.
	ErrInvalidUser = errors.New("пустой user id")
)

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

func aborted(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrTransactionAborted, err)
}
