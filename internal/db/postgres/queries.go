package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
)

// apply выполняет миграцию в транзакции и записывает её версию.
// Уже применённая версия пропускается. Возвращает true, если миграция выполнена.
func (m migration) apply(ctx context.Context, pool *pgxpool.Pool) (bool, error) {
	applied := false
	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)", m.version,
		).Scan(&exists); err != nil {
			return fmt.Errorf("ошибка проверки миграции %d: %w", m.version, err)
		}
		if exists {
			return nil
		}

		if _, err := tx.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("ошибка выполнения миграции %d: %w", m.version, err)
		}
		if _, err := tx.Exec(ctx,
			"INSERT INTO schema_migrations (version) VALUES ($1)", m.version,
		); err != nil {
			return fmt.Errorf("ошибка записи версии миграции %d: %w", m.version, err)
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if applied {
		log.WithField("version", m.version).Info("Миграция применена")
	}
	return applied, nil
}
