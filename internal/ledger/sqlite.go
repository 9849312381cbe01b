package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"modernc.org/sqlite"
)

// Коды SQLite, означающие конкурирующую запись.
const (
	sqliteBusy   = 5
	sqliteLocked = 6
)

// SQLite — ledger в одном файле SQLite. Для одного узла и локальной разработки.
// Пул ограничен одним соединением: запись в SQLite не параллельна,
// и транзакции ledger сериализуются на уровне пула.
type SQLite struct {
	db  *sql.DB
	hub *Hub
}

// queryer — общее у *sql.DB и *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// NewSQLite открывает (или создаёт) базу по пути path и применяет схему.
// path=":memory:" — база в памяти (для тестов).
func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия SQLite: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLite{db: db, hub: NewHub()}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	log.WithField("path", path).Info("Ledger SQLite готов")
	return s, nil
}

func (s *SQLite) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			user_id TEXT PRIMARY KEY,
			rubies INTEGER NOT NULL DEFAULT 0 CHECK (rubies >= 0),
			version INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS high_scores (
			user_id TEXT NOT NULL,
			game_id TEXT NOT NULL,
			score INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (user_id, game_id)
		)`,
		`CREATE TABLE IF NOT EXISTS powerups (
			user_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			count INTEGER NOT NULL DEFAULT 0 CHECK (count >= 0),
			PRIMARY KEY (user_id, kind)
		)`,
		`CREATE TABLE IF NOT EXISTS ledger_entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			entry_type TEXT NOT NULL,
			kind TEXT,
			amount INTEGER NOT NULL,
			description TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_entries_user ON ledger_entries(user_id, created_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ошибка миграции SQLite: %w", err)
		}
	}
	return nil
}

// classifySQLite сводит ошибку драйвера к таксономии ledger.
func classifySQLite(op string, err error) error {
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		switch serr.Code() & 0xff {
		case sqliteBusy, sqliteLocked:
			return aborted(op, err)
		}
	}
	return unavailable(op, err)
}

func (s *SQLite) ReadBalance(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, ErrInvalidUser
	}
	var rubies int64
	err := s.db.QueryRowContext(ctx, `SELECT rubies FROM accounts WHERE user_id = ?`, userID).Scan(&rubies)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, classifySQLite("read_balance", err)
	}
	return rubies, nil
}

func (s *SQLite) ReadHighScore(ctx context.Context, userID, gameID string) (int64, error) {
	if userID == "" {
		return 0, ErrInvalidUser
	}
	var score int64
	err := s.db.QueryRowContext(ctx,
		`SELECT score FROM high_scores WHERE user_id = ? AND game_id = ?`, userID, gameID,
	).Scan(&score)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, classifySQLite("read_high_score", err)
	}
	return score, nil
}

func (s *SQLite) ReadPowerupCounts(ctx context.Context, userID string) (map[PowerupKind]int64, error) {
	if userID == "" {
		return nil, ErrInvalidUser
	}
	counts, err := sqlitePowerups(ctx, s.db, userID)
	if err != nil {
		return nil, classifySQLite("read_powerups", err)
	}
	return counts, nil
}

func (s *SQLite) ReadSnapshot(ctx context.Context, userID string) (Snapshot, error) {
	if userID == "" {
		return Snapshot{}, ErrInvalidUser
	}
	snap, err := sqliteSnapshot(ctx, s.db, userID)
	if err != nil {
		return Snapshot{}, classifySQLite("read_snapshot", err)
	}
	return snap, nil
}

func sqlitePowerups(ctx context.Context, q queryer, userID string) (map[PowerupKind]int64, error) {
	rows, err := q.QueryContext(ctx, `SELECT kind, count FROM powerups WHERE user_id = ?`, userID)
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

func sqliteSnapshot(ctx context.Context, q queryer, userID string) (Snapshot, error) {
	snap := emptySnapshot(userID)
	err := q.QueryRowContext(ctx,
		`SELECT rubies, version FROM accounts WHERE user_id = ?`, userID,
	).Scan(&snap.Rubies, &snap.Version)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, err
	}

	rows, err := q.QueryContext(ctx, `SELECT game_id, score FROM high_scores WHERE user_id = ?`, userID)
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

	snap.Powerups, err = sqlitePowerups(ctx, q, userID)
	if err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// mutate выполняет fn в транзакции с заблокированной записью игрока,
// увеличивает версию, пишет историю, коммитит и рассылает снимок.
// При changed=false транзакция откатывается без уведомления.
func (s *SQLite) mutate(ctx context.Context, op, userID string, fn func(tx *sql.Tx) (changed bool, err error)) error {
	if userID == "" {
		return ErrInvalidUser
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classifySQLite(op, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO accounts (user_id) VALUES (?) ON CONFLICT(user_id) DO NOTHING`, userID,
	); err != nil {
		return classifySQLite(op, err)
	}

	changed, err := fn(tx)
	if err != nil {
		return classifySQLite(op, err)
	}
	if !changed {
		return nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE accounts SET version = version + 1, updated_at = CURRENT_TIMESTAMP WHERE user_id = ?`, userID,
	); err != nil {
		return classifySQLite(op, err)
	}
	snap, err := sqliteSnapshot(ctx, tx, userID)
	if err != nil {
		return classifySQLite(op, err)
	}
	if err := tx.Commit(); err != nil {
		return aborted(op, err)
	}

	s.hub.Publish(snap)
	return nil
}

func (s *SQLite) AdjustBalance(ctx context.Context, userID string, delta int64, reason string) (AdjustResult, error) {
	var res AdjustResult
	err := s.mutate(ctx, "adjust_balance", userID, func(tx *sql.Tx) (bool, error) {
		var current int64
		if err := tx.QueryRowContext(ctx,
			`SELECT rubies FROM accounts WHERE user_id = ?`, userID,
		).Scan(&current); err != nil {
			return false, err
		}
		res = applyBalance(current, delta)
		if _, err := tx.ExecContext(ctx,
			`UPDATE accounts SET rubies = ? WHERE user_id = ?`, res.Value, userID,
		); err != nil {
			return false, err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO ledger_entries (user_id, entry_type, amount, description) VALUES (?, ?, ?, ?)`,
			userID, EntryBalance, res.Applied, reason,
		); err != nil {
			return false, err
		}
		return true, tx.QueryRowContext(ctx,
			`SELECT version + 1 FROM accounts WHERE user_id = ?`, userID,
		).Scan(&res.Version)
	})
	if err != nil {
		return AdjustResult{}, err
	}
	return res, nil
}

func (s *SQLite) AdjustPowerupCount(ctx context.Context, userID string, kind PowerupKind, delta int64, reason string) (AdjustResult, error) {
	if !kind.Valid() {
		return AdjustResult{}, ErrUnknownKind
	}
	var res AdjustResult
	err := s.mutate(ctx, "adjust_powerup", userID, func(tx *sql.Tx) (bool, error) {
		var current int64
		err := tx.QueryRowContext(ctx,
			`SELECT count FROM powerups WHERE user_id = ? AND kind = ?`, userID, string(kind),
		).Scan(&current)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return false, err
		}
		res = applyPowerup(current, delta)
		if res.Clamped {
			return false, tx.QueryRowContext(ctx,
				`SELECT version FROM accounts WHERE user_id = ?`, userID,
			).Scan(&res.Version)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO powerups (user_id, kind, count) VALUES (?, ?, ?)
			ON CONFLICT(user_id, kind) DO UPDATE SET count = excluded.count
		`, userID, string(kind), res.Value); err != nil {
			return false, err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO ledger_entries (user_id, entry_type, kind, amount, description) VALUES (?, ?, ?, ?, ?)`,
			userID, EntryPowerup, string(kind), res.Applied, reason,
		); err != nil {
			return false, err
		}
		return true, tx.QueryRowContext(ctx,
			`SELECT version + 1 FROM accounts WHERE user_id = ?`, userID,
		).Scan(&res.Version)
	})
	if err != nil {
		return AdjustResult{}, err
	}
	return res, nil
}

func (s *SQLite) SetHighScoreIfGreater(ctx context.Context, userID, gameID string, candidate int64) (HighScoreResult, error) {
	var res HighScoreResult
	err := s.mutate(ctx, "set_high_score", userID, func(tx *sql.Tx) (bool, error) {
		var current int64
		err := tx.QueryRowContext(ctx,
			`SELECT score FROM high_scores WHERE user_id = ? AND game_id = ?`, userID, gameID,
		).Scan(&current)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return false, err
		}
		if candidate <= current {
			res = HighScoreResult{Updated: false, Value: current}
			return false, nil
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO high_scores (user_id, game_id, score) VALUES (?, ?, ?)
			ON CONFLICT(user_id, game_id) DO UPDATE SET score = excluded.score, updated_at = CURRENT_TIMESTAMP
		`, userID, gameID, candidate); err != nil {
			return false, err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO ledger_entries (user_id, entry_type, amount, description) VALUES (?, ?, ?, ?)`,
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

func (s *SQLite) Subscribe(ctx context.Context, userID string, onChange func(Snapshot)) (func(), error) {
	if userID == "" {
		return nil, ErrInvalidUser
	}
	return s.hub.Add(userID, onChange), nil
}

// Close закрывает базу и снимает все подписки.
func (s *SQLite) Close() error {
	s.hub.Close()
	return s.db.Close()
}
