// Package common — pluralize.go содержит форматирование изменений баланса
// и чисел с разделителями тысяч.
package common

import "fmt"

// FormatRubiesAmount создаёт строку вида "+100 рубинов" или "-50 рубинов".
// Знак «+» или «-» добавляется автоматически.
//
// Примеры:
//
//	FormatRubiesAmount(100) → "+100 рубинов"
//	FormatRubiesAmount(-50) → "-50 рубинов"
//	FormatRubiesAmount(1)   → "+1 рубин"
func FormatRubiesAmount(amount int64) string {
	if amount >= 0 {
		return fmt.Sprintf("+%s %s", FormatNumber(amount), PluralizeRubies(amount))
	}
	return fmt.Sprintf("%s %s", FormatNumber(amount), PluralizeRubies(amount))
}

// FormatNumber форматирует число с разделителями тысяч (пробелами).
// Пример: FormatNumber(2350) → "2 350"
func FormatNumber(n int64) string {
	if n < 0 {
		return "-" + FormatNumber(-n)
	}
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	return fmt.Sprintf("%s %03d", FormatNumber(n/1000), n%1000)
}
