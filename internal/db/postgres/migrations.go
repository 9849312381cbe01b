package postgres

type migration struct {
	version int
	sql     string
}

// migrations — схема аркады. Новые миграции только добавляются в конец.
var migrations = []migration{
	{1, `
		CREATE TABLE IF NOT EXISTS accounts (
			user_id TEXT PRIMARY KEY,
			rubies BIGINT NOT NULL DEFAULT 0 CHECK (rubies >= 0),
			version BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS high_scores (
			user_id TEXT NOT NULL REFERENCES accounts(user_id),
			game_id TEXT NOT NULL,
			score BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (user_id, game_id)
		);

		CREATE TABLE IF NOT EXISTS powerups (
			user_id TEXT NOT NULL REFERENCES accounts(user_id),
			kind TEXT NOT NULL,
			count BIGINT NOT NULL DEFAULT 0 CHECK (count >= 0),
			PRIMARY KEY (user_id, kind)
		);
	`},
	{2, `
		CREATE TABLE IF NOT EXISTS ledger_entries (
			id BIGSERIAL PRIMARY KEY,
			user_id TEXT NOT NULL,
			entry_type TEXT NOT NULL,
			kind TEXT,
			amount BIGINT NOT NULL,
			description TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_ledger_entries_user ON ledger_entries(user_id, created_at DESC);
	`},
	{3, `
		CREATE TABLE IF NOT EXISTS players (
			id TEXT PRIMARY KEY,
			telegram_id BIGINT NOT NULL UNIQUE,
			username TEXT NOT NULL DEFAULT '',
			first_name TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_seen TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_players_last_seen ON players(last_seen);
		CREATE INDEX IF NOT EXISTS idx_players_username ON players(LOWER(username));
	`},
}
