package players

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/ruby-arcade/internal/common"
)

// Repository — Store поверх таблицы players в PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const playerColumns = `id, telegram_id, username, first_name, created_at, last_seen`

func (r *Repository) Upsert(ctx context.Context, p *Player) (*Player, error) {
	query := `
		INSERT INTO players (id, telegram_id, username, first_name, created_at, last_seen)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (telegram_id) DO UPDATE
		SET username = EXCLUDED.username,
		    first_name = EXCLUDED.first_name,
		    last_seen = EXCLUDED.last_seen
		RETURNING ` + playerColumns
	var out Player
	err := r.db.QueryRow(ctx, query,
		p.ID, p.TelegramID, p.Username, p.FirstName, time.Now().UTC(),
	).Scan(&out.ID, &out.TelegramID, &out.Username, &out.FirstName, &out.CreatedAt, &out.LastSeen)
	if err != nil {
		return nil, fmt.Errorf("ошибка сохранения игрока: %w", err)
	}
	return &out, nil
}

func (r *Repository) GetByID(ctx context.Context, id string) (*Player, error) {
	return r.getOne(ctx, `SELECT `+playerColumns+` FROM players WHERE id = $1`, id)
}

func (r *Repository) GetByTelegramID(ctx context.Context, telegramID int64) (*Player, error) {
	return r.getOne(ctx, `SELECT `+playerColumns+` FROM players WHERE telegram_id = $1`, telegramID)
}

func (r *Repository) GetByUsername(ctx context.Context, username string) (*Player, error) {
	return r.getOne(ctx, `SELECT `+playerColumns+` FROM players WHERE LOWER(username) = LOWER($1)`, username)
}

func (r *Repository) getOne(ctx context.Context, query string, arg any) (*Player, error) {
	var p Player
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&p.ID, &p.TelegramID, &p.Username, &p.FirstName, &p.CreatedAt, &p.LastSeen,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("игрок %v: %w", arg, common.ErrPlayerNotFound)
		}
		return nil, fmt.Errorf("ошибка чтения игрока %v: %w", arg, err)
	}
	return &p, nil
}

func (r *Repository) ActiveSince(ctx context.Context, since time.Time) ([]*Player, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+playerColumns+` FROM players WHERE last_seen >= $1 ORDER BY last_seen DESC`, since)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса игроков: %w", err)
	}
	defer rows.Close()

	var out []*Player
	for rows.Next() {
		var p Player
		if err := rows.Scan(&p.ID, &p.TelegramID, &p.Username, &p.FirstName, &p.CreatedAt, &p.LastSeen); err != nil {
			return nil, fmt.Errorf("ошибка сканирования строки: %w", err)
		}
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения строк: %w", err)
	}
	return out, nil
}
