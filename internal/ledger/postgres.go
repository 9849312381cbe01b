package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
)

// DefaultNotifyChannel — канал LISTEN/NOTIFY по умолчанию.
const DefaultNotifyChannel = "ledger_changes"

// Postgres — продакшен-ledger поверх pgxpool.
//
// Каждое изменение выполняется в транзакции с SELECT ... FOR UPDATE по строке
// игрока, поэтому параллельные изменения из разных процессов сериализуются базой.
// Подписки работают через LISTEN/NOTIFY: изменения, сделанные этим процессом,
// рассылаются сразу после коммита, чужие приходят из горутины слушателя.
type Postgres struct {
	pool     *pgxpool.Pool
	hub      *Hub
	channel  string
	instance string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// pgQuerier — общее у pgx.Tx и *pgxpool.Pool.
type pgQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// NewPostgres создаёт ledger на готовом пуле и запускает слушателя уведомлений.
// Схема должна быть применена заранее (postgres.Migrate).
func NewPostgres(ctx context.Context, pool *pgxpool.Pool, channel string) (*Postgres, error) {
	if channel == "" {
		channel = DefaultNotifyChannel
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, unavailable("connect", err)
	}

	lctx, cancel := context.WithCancel(context.Background())
	p := &Postgres{
		pool:     pool,
		hub:      NewHub(),
		channel:  channel,
		instance: uuid.NewString(),
		cancel:   cancel,
	}
	p.wg.Add(1)
	go p.listen(lctx)

	log.WithFields(log.Fields{
		"channel":  channel,
		"instance": p.instance,
	}).Info("Ledger PostgreSQL готов")
	return p, nil
}

// classifyPostgres сводит ошибку pgx к таксономии ledger.
// Класс SQLSTATE 40 (serialization_failure, deadlock_detected) — отменённая транзакция.
func classifyPostgres(op string, err error) error {
	if errors.Is(err, pgx.ErrTxCommitRollback) {
		return aborted(op, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if strings.HasPrefix(pgErr.Code, "40") {
			return aborted(op, err)
		}
	}
	return unavailable(op, err)
}

func (p *Postgres) ReadBalance(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, ErrInvalidUser
	}
	var rubies int64
	err := p.pool.QueryRow(ctx, `SELECT rubies FROM accounts WHERE user_id = $1`, userID).Scan(&rubies)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, classifyPostgres("read_balance", err)
	}
	return rubies, nil
}

func (p *Postgres) ReadHighScore(ctx context.Context, userID, gameID string) (int64, error) {
	if userID == "" {
		return 0, ErrInvalidUser
	}
	var score int64
	err := p.pool.QueryRow(ctx,
		`SELECT score FROM high_scores WHERE user_id = $1 AND game_id = $2`, userID, gameID,
	).Scan(&score)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, classifyPostgres("read_high_score", err)
	}
	return score, nil
}

func (p *Postgres) ReadPowerupCounts(ctx context.Context, userID string) (map[PowerupKind]int64, error) {
	if userID == "" {
		return nil, ErrInvalidUser
	}
	counts, err := pgPowerups(ctx, p.pool, userID)
	if err != nil {
		return nil, classifyPostgres("read_powerups", err)
	}
	return counts, nil
}

func (p *Postgres) ReadSnapshot(ctx context.Context, userID string) (Snapshot, error) {
	if userID == "" {
		return Snapshot{}, ErrInvalidUser
	}
	snap, err := pgSnapshot(ctx, p.pool, userID)
	if err != nil {
		return Snapshot{}, classifyPostgres("read_snapshot", err)
	}
	return snap, nil
}

func pgPowerups(ctx context.Context, q pgQuerier, userID string) (map[PowerupKind]int64, error) {
	rows, err := q.Query(ctx, `SELECT kind, count FROM powerups WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := ZeroCounts()
	for rows.Next() {
		var kind string
		var count int64
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, err
		}
		if k := PowerupKind(kind); k.Valid() {
			counts[k] = count
		}
	}
	return counts, rows.Err()
}

func pgSnapshot(ctx context.Context, q pgQuerier, userID string) (Snapshot, error) {
	snap := emptySnapshot(userID)
	err := q.QueryRow(ctx,
		`SELECT rubies, version FROM accounts WHERE user_id = $1`, userID,
	).Scan(&snap.Rubies, &snap.Version)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return Snapshot{}, err
	}

	rows, err := q.Query(ctx, `SELECT game_id, score FROM high_scores WHERE user_id = $1`, userID)
	if err != nil {
		return Snapshot{}, err
	}
	for rows.Next() {
		var gameID string
		var score int64
		if err := rows.Scan(&gameID, &score); err != nil {
			rows.Close()
			return Snapshot{}, err
		}
		snap.HighScores[gameID] = score
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Snapshot{}, err
	}

	snap.Powerups, err = pgPowerups(ctx, q, userID)
	if err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// mutate — общий каркас изменения: строка игрока создаётся при необходимости
// и блокируется до конца транзакции. fn получает текущую версию записи.
func (p *Postgres) mutate(ctx context.Context, op, userID string, fn func(tx pgx.Tx, version int64) (changed bool, err error)) error {
	if userID == "" {
		return ErrInvalidUser
	}
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return classifyPostgres(op, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO accounts (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID,
	); err != nil {
		return classifyPostgres(op, err)
	}
	var version int64
	if err := tx.QueryRow(ctx,
		`SELECT version FROM accounts WHERE user_id = $1 FOR UPDATE`, userID,
	).Scan(&version); err != nil {
		return classifyPostgres(op, err)
	}

	changed, err := fn(tx, version)
	if err != nil {
		return classifyPostgres(op, err)
	}
	if !changed {
		return nil
	}

	if _, err := tx.Exec(ctx,
		`UPDATE accounts SET version = version + 1, updated_at = NOW() WHERE user_id = $1`, userID,
	); err != nil {
		return classifyPostgres(op, err)
	}
	if _, err := tx.Exec(ctx,
		`SELECT pg_notify($1, $2)`, p.channel, p.instance+"|"+userID,
	); err != nil {
		return classifyPostgres(op, err)
	}
	snap, err := pgSnapshot(ctx, tx, userID)
	if err != nil {
		return classifyPostgres(op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return classifyPostgres(op, err)
	}

	p.hub.Publish(snap)
	return nil
}

func (p *Postgres) AdjustBalance(ctx context.Context, userID string, delta int64, reason string) (AdjustResult, error) {
	var res AdjustResult
	err := p.mutate(ctx, "adjust_balance", userID, func(tx pgx.Tx, version int64) (bool, error) {
		var current int64
		if err := tx.QueryRow(ctx,
			`SELECT rubies FROM accounts WHERE user_id = $1`, userID,
		).Scan(&current); err != nil {
			return false, err
		}
		res = applyBalance(current, delta)
		res.Version = version + 1
		if _, err := tx.Exec(ctx,
			`UPDATE accounts SET rubies = $1 WHERE user_id = $2`, res.Value, userID,
		); err != nil {
			return false, err
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO ledger_entries (user_id, entry_type, amount, description) VALUES ($1, $2, $3, $4)`,
			userID, EntryBalance, res.Applied, reason,
		)
		return true, err
	})
	if err != nil {
		return AdjustResult{}, err
	}
	return res, nil
}

func (p *Postgres) AdjustPowerupCount(ctx context.Context, userID string, kind PowerupKind, delta int64, reason string) (AdjustResult, error) {
	if !kind.Valid() {
		return AdjustResult{}, ErrUnknownKind
	}
	var res AdjustResult
	err := p.mutate(ctx, "adjust_powerup", userID, func(tx pgx.Tx, version int64) (bool, error) {
		var current int64
		err := tx.QueryRow(ctx,
			`SELECT count FROM powerups WHERE user_id = $1 AND kind = $2`, userID, string(kind),
		).Scan(&current)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return false, err
		}
		res = applyPowerup(current, delta)
		if res.Clamped {
			res.Version = version
			return false, nil
		}
		res.Version = version + 1
		if _, err := tx.Exec(ctx, `
			INSERT INTO powerups (user_id, kind, count) VALUES ($1, $2, $3)
			ON CONFLICT (user_id, kind) DO UPDATE SET count = EXCLUDED.count
		`, userID, string(kind), res.Value); err != nil {
			return false, err
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO ledger_entries (user_id, entry_type, kind, amount, description) VALUES ($1, $2, $3, $4, $5)`,
			userID, EntryPowerup, string(kind), res.Applied, reason,
		)
		return true, err
	})
	if err != nil {
		return AdjustResult{}, err
	}
	return res, nil
}

func (p *Postgres) SetHighScoreIfGreater(ctx context.Context, userID, gameID string, candidate int64) (HighScoreResult, error) {
	var res HighScoreResult
	err := p.mutate(ctx, "set_high_score", userID, func(tx pgx.Tx, _ int64) (bool, error) {
		var current int64
		err := tx.QueryRow(ctx,
			`SELECT score FROM high_scores WHERE user_id = $1 AND game_id = $2`, userID, gameID,
		).Scan(&current)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return false, err
		}
		if candidate <= current {
			res = HighScoreResult{Updated: false, Value: current}
			return false, nil
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO high_scores (user_id, game_id, score) VALUES ($1, $2, $3)
			ON CONFLICT (user_id, game_id) DO UPDATE SET score = EXCLUDED.score, updated_at = NOW()
		`, userID, gameID, candidate); err != nil {
			return false, err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO ledger_entries (user_id, entry_type, amount, description) VALUES ($1, $2, $3, $4)`,
			userID, EntryHighScore, candidate, gameID,
		); err != nil {
			return false, err
		}
		res = HighScoreResult{Updated: true, Value: candidate}
		return true, nil
	})
	if err != nil {
		return HighScoreResult{}, err
	}
	return res, nil
}

func (p *Postgres) Subscribe(ctx context.Context, userID string, onChange func(Snapshot)) (func(), error) {
	if userID == "" {
		return nil, ErrInvalidUser
	}
	return p.hub.Add(userID, onChange), nil
}

// listen держит отдельное соединение с LISTEN и переподключается при обрыве.
func (p *Postgres) listen(ctx context.Context) {
	defer p.wg.Done()
	backoff := time.Second
	for {
		err := p.listenOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		log.WithError(err).WithField("channel", p.channel).
			Warn("Слушатель ledger отключился, переподключение")
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (p *Postgres) listenOnce(ctx context.Context) error {
	pooled, err := p.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire: %w", err)
	}
	// Соединение с LISTEN в пул не возвращается: уведомления достались бы другим запросам
	conn := pooled.Hijack()
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = conn.Close(closeCtx)
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{p.channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		origin, userID, ok := strings.Cut(n.Payload, "|")
		if !ok || origin == p.instance || !p.hub.Has(userID) {
			continue
		}
		snap, err := pgSnapshot(ctx, p.pool, userID)
		if err != nil {
			log.WithError(err).WithField("user_id", userID).Warn("Не удалось прочитать запись по уведомлению")
			continue
		}
		p.hub.Publish(snap)
	}
}

// Close останавливает слушателя и снимает подписки. Пул закрывает владелец.
func (p *Postgres) Close() error {
	p.cancel()
	p.wg.Wait()
	p.hub.Close()
	return nil
}
