// Package common содержит общие утилиты, используемые во всём проекте.
// Сюда входят: русская плюрализация, форматирование сумм, работа с временем.
package common

import (
	"fmt"
	"time"
)

// PluralizeRubies возвращает правильную форму слова «рубин» для числа n.
//
// Правила русского языка:
//   - n%10==1 И n%100!=11 → "рубин" (1, 21, 31, 101, ...)
//   - n%10 в [2,3,4] И n%100 НЕ в [12,13,14] → "рубина" (2, 3, 4, 22, 23, ...)
//   - Остальные случаи → "рубинов" (0, 5-20, 25-30, 100, ...)
//
// Примеры:
//
//	PluralizeRubies(1)  → "рубин"
//	PluralizeRubies(3)  → "рубина"
//	PluralizeRubies(11) → "рубинов"
func PluralizeRubies(n int64) string {
	return pluralize(n, "рубин", "рубина", "рубинов")
}

// PluralizePowerups возвращает форму слова «усилитель».
func PluralizePowerups(n int64) string {
	return pluralize(n, "усилитель", "усилителя", "усилителей")
}

// PluralizeSteps возвращает форму слова «ступенька».
func PluralizeSteps(n int64) string {
	return pluralize(n, "ступенька", "ступеньки", "ступенек")
}

func pluralize(n int64, one, few, many string) string {
	if n < 0 {
		n = -n
	}
	lastDigit := n % 10
	lastTwoDigits := n % 100

	// Единственное число: 1, 21, 31, 101 (но НЕ 11, 111)
	if lastDigit == 1 && lastTwoDigits != 11 {
		return one
	}
	// Малое множественное: 2-4, 22-24, 32-34 (но НЕ 12-14)
	if lastDigit >= 2 && lastDigit <= 4 && (lastTwoDigits < 12 || lastTwoDigits > 14) {
		return few
	}
	return many
}

// FormatBalance форматирует баланс в читабельную строку.
// Пример: FormatBalance(150) → "150 рубинов"
func FormatBalance(balance int64) string {
	return fmt.Sprintf("%s %s", FormatNumber(balance), PluralizeRubies(balance))
}

// LoadLocation загружает часовой пояс по имени.
// Без tzdata в контейнере возвращается фиксированный UTC+3.
func LoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone("MSK", 3*60*60)
	}
	return loc
}
