package ledger

import (
	"context"
	"database/sql"
	"time"
)

// DefaultHistoryLimit — сколько записей истории отдавать, если limit не задан.
const DefaultHistoryLimit = 10

// HistoryEntry — одна строка журнала изменений игрока.
type HistoryEntry struct {
	Type        string      // EntryBalance, EntryPowerup или EntryHighScore
	Kind        PowerupKind // Для EntryPowerup
	Amount      int64       // Применённая дельта; для EntryHighScore новый рекорд
	Description string      // Для EntryHighScore ID игры
	CreatedAt   time.Time
}

// HistoryReader — ledger, который умеет показывать журнал изменений.
type HistoryReader interface {
	History(ctx context.Context, userID string, limit int) ([]HistoryEntry, error)
}

func historyLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	return min(limit, 100)
}

// History возвращает последние limit записей, новые первыми.
func (s *SQLite) History(ctx context.Context, userID string, limit int) ([]HistoryEntry, error) {
	if userID == "" {
		return nil, ErrInvalidUser
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT entry_type, kind, amount, description, created_at
		FROM ledger_entries
		WHERE user_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, userID, historyLimit(limit))
	if err != nil {
		return nil, classifySQLite("history", err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var (
			e           HistoryEntry
			kind, descr sql.NullString
		)
		if err := rows.Scan(&e.Type, &kind, &e.Amount, &descr, &e.CreatedAt); err != nil {
			return nil, classifySQLite("history", err)
		}
		e.Kind = PowerupKind(kind.String)
		e.Description = descr.String
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, classifySQLite("history", err)
	}
	return out, nil
}

// History возвращает последние limit записей, новые первыми.
func (p *Postgres) History(ctx context.Context, userID string, limit int) ([]HistoryEntry, error) {
	if userID == "" {
		return nil, ErrInvalidUser
	}
	rows, err := p.pool.Query(ctx, `
		SELECT entry_type, COALESCE(kind, ''), amount, COALESCE(description, ''), created_at
		FROM ledger_entries
		WHERE user_id = $1
		ORDER BY id DESC
		LIMIT $2
	`, userID, historyLimit(limit))
	if err != nil {
		return nil, classifyPostgres("history", err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var (
			e    HistoryEntry
			kind string
		)
		if err := rows.Scan(&e.Type, &kind, &e.Amount, &e.Description, &e.CreatedAt); err != nil {
			return nil, classifyPostgres("history", err)
		}
		e.Kind = PowerupKind(kind)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPostgres("history", err)
	}
	return out, nil
}
