package ledger

import (
	"context"
	"sync"
	"time"
)

// Memory — ledger в памяти процесса. Используется в тестах и при LEDGER_BACKEND=memory.
// Все изменения сериализуются одним мьютексом, поэтому атомарность
// read-modify-write здесь обеспечивается так же, как блокировкой строки в БД.
type Memory struct {
	mu      sync.Mutex
	records map[string]*memoryRecord
	hub     *Hub
	closed  bool
	entries map[string][]HistoryEntry
	now     func() time.Time

	// fault позволяет имитировать сбои хранилища: если функция вернула ошибку,
	// операция op завершается ею без изменений.
	fault func(op string) error
}

type memoryRecord struct {
	rubies     int64
	highScores map[string]int64
	powerups   map[PowerupKind]int64
	version    int64
}

// NewMemory создаёт пустой ledger в памяти.
func NewMemory() *Memory {
	return &Memory{
		records: make(map[string]*memoryRecord),
		hub:     NewHub(),
		entries: make(map[string][]HistoryEntry),
		now:     time.Now,
	}
}

// SetFault устанавливает имитацию сбоев (nil — отключить).
func (m *Memory) SetFault(fn func(op string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fault = fn
}

// Subscribers возвращает число активных подписок.
func (m *Memory) Subscribers() int {
	return m.hub.Count()
}

// check вызывается под m.mu.
func (m *Memory) check(op, userID string) error {
	if m.closed {
		return unavailable(op, errClosed)
	}
	if userID == "" {
		return ErrInvalidUser
	}
	if m.fault != nil {
		if err := m.fault(op); err != nil {
			return err
		}
	}
	return nil
}

// record вызывается под m.mu; создаёт запись при первом изменении.
func (m *Memory) record(userID string) *memoryRecord {
	r, ok := m.records[userID]
	if !ok {
		r = &memoryRecord{
			highScores: make(map[string]int64),
			powerups:   ZeroCounts(),
		}
		m.records[userID] = r
	}
	return r
}

func (m *Memory) snapshotLocked(userID string) Snapshot {
	r, ok := m.records[userID]
	if !ok {
		return emptySnapshot(userID)
	}
	s := Snapshot{
		UserID:     userID,
		Rubies:     r.rubies,
		HighScores: make(map[string]int64, len(r.highScores)),
		Powerups:   ZeroCounts(),
		Version:    r.version,
	}
	for k, v := range r.highScores {
		s.HighScores[k] = v
	}
	for k, v := range r.powerups {
		s.Powerups[k] = v
	}
	return s
}

func (m *Memory) ReadBalance(ctx context.Context, userID string) (int64, error) {
	s, err := m.ReadSnapshot(ctx, userID)
	if err != nil {
		return 0, err
	}
	return s.Rubies, nil
}

func (m *Memory) ReadHighScore(ctx context.Context, userID, gameID string) (int64, error) {
	s, err := m.ReadSnapshot(ctx, userID)
	if err != nil {
		return 0, err
	}
	return s.HighScores[gameID], nil
}

func (m *Memory) ReadPowerupCounts(ctx context.Context, userID string) (map[PowerupKind]int64, error) {
	s, err := m.ReadSnapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.Powerups, nil
}

func (m *Memory) ReadSnapshot(ctx context.Context, userID string) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, unavailable("read", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("read", userID); err != nil {
		return Snapshot{}, err
	}
	return m.snapshotLocked(userID), nil
}

func (m *Memory) AdjustBalance(ctx context.Context, userID string, delta int64, reason string) (AdjustResult, error) {
	if err := ctx.Err(); err != nil {
		return AdjustResult{}, unavailable("adjust_balance", err)
	}
	m.mu.Lock()
	if err := m.check("adjust_balance", userID); err != nil {
		m.mu.Unlock()
		return AdjustResult{}, err
	}
	r := m.record(userID)
	res := applyBalance(r.rubies, delta)
	r.rubies = res.Value
	r.version++
	res.Version = r.version
	m.appendEntryLocked(userID, EntryBalance, "", res.Applied, reason)
	snap := m.snapshotLocked(userID)
	m.mu.Unlock()

	m.hub.Publish(snap)
	return res, nil
}

func (m *Memory) AdjustPowerupCount(ctx context.Context, userID string, kind PowerupKind, delta int64, reason string) (AdjustResult, error) {
	if !kind.Valid() {
		return AdjustResult{}, ErrUnknownKind
	}
	if err := ctx.Err(); err != nil {
		return AdjustResult{}, unavailable("adjust_powerup", err)
	}
	m.mu.Lock()
	if err := m.check("adjust_powerup", userID); err != nil {
		m.mu.Unlock()
		return AdjustResult{}, err
	}
	r := m.record(userID)
	res := applyPowerup(r.powerups[kind], delta)
	if res.Clamped {
		// Отказ без изменения записи и без уведомления
		res.Version = r.version
		m.mu.Unlock()
		return res, nil
	}
	r.powerups[kind] = res.Value
	r.version++
	res.Version = r.version
	m.appendEntryLocked(userID, EntryPowerup, kind, res.Applied, reason)
	snap := m.snapshotLocked(userID)
	m.mu.Unlock()

	m.hub.Publish(snap)
	return res, nil
}

func (m *Memory) SetHighScoreIfGreater(ctx context.Context, userID, gameID string, candidate int64) (HighScoreResult, error) {
	if err := ctx.Err(); err != nil {
		return HighScoreResult{}, unavailable("set_high_score", err)
	}
	m.mu.Lock()
	if err := m.check("set_high_score", userID); err != nil {
		m.mu.Unlock()
		return HighScoreResult{}, err
	}
	r := m.record(userID)
	current := r.highScores[gameID]
	if candidate <= current {
		m.mu.Unlock()
		return HighScoreResult{Updated: false, Value: current}, nil
	}
	r.highScores[gameID] = candidate
	r.version++
	m.appendEntryLocked(userID, EntryHighScore, "", candidate, gameID)
	snap := m.snapshotLocked(userID)
	m.mu.Unlock()

	m.hub.Publish(snap)
	return HighScoreResult{Updated: true, Value: candidate}, nil
}

func (m *Memory) appendEntryLocked(userID, entryType string, kind PowerupKind, amount int64, reason string) {
	m.entries[userID] = append(m.entries[userID], HistoryEntry{
		Type:        entryType,
		Kind:        kind,
		Amount:      amount,
		Description: reason,
		CreatedAt:   m.now(),
	})
}

// History возвращает последние limit записей, новые первыми.
func (m *Memory) History(ctx context.Context, userID string, limit int) ([]HistoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("history", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("history", userID); err != nil {
		return nil, err
	}
	all := m.entries[userID]
	limit = historyLimit(limit)
	out := make([]HistoryEntry, 0, min(limit, len(all)))
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (m *Memory) Subscribe(ctx context.Context, userID string, onChange func(Snapshot)) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("subscribe", userID); err != nil {
		return nil, err
	}
	return m.hub.Add(userID, onChange), nil
}

// Close закрывает ledger: дальнейшие операции возвращают ErrUnavailable.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.hub.Close()
	return nil
}
