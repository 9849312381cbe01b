// Package inventory показывает запасы усилителей игрока и пропускает через себя
// каждое потребление.
//
// Кэш наполняется подпиской на ledger и явными Refresh. Подписка может
// запаздывать относительно собственной записи (только что подобранный усилитель
// ещё не пришёл), поэтому ноль в кэше не считается окончательным: перед
// потреблением из состояния Unknown или при нуле выполняется Refresh.
package inventory

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/ruby-arcade/internal/common"
	"serotonyl.ru/ruby-arcade/internal/ledger"
)

// State — состояние отображаемого запаса одного вида.
type State int

const (
	Unknown    State = iota // Ещё не загружен
	Cached                  // Последнее известное значение, возможно устаревшее
	Refreshing              // Идёт явное чтение из ledger
)

func (s State) String() string {
	switch s {
	case Cached:
		return "cached"
	case Refreshing:
		return "refreshing"
	default:
		return "unknown"
	}
}

// Manager — запасы усилителей одного игрока.
type Manager struct {
	ledger ledger.Ledger
	userID string

	mu      sync.Mutex
	counts  map[ledger.PowerupKind]int64
	states  map[ledger.PowerupKind]State
	version int64

	unsubscribe func()
	closeOnce   sync.Once
}

// New создаёт менеджер; все виды в состоянии Unknown.
func New(l ledger.Ledger, userID string) *Manager {
	m := &Manager{
		ledger: l,
		userID: userID,
		counts: ledger.ZeroCounts(),
		states: make(map[ledger.PowerupKind]State, len(ledger.Kinds)),
	}
	for _, k := range ledger.Kinds {
		m.states[k] = Unknown
	}
	return m
}

// Start подписывается на изменения записи игрока.
func (m *Manager) Start(ctx context.Context) error {
	unsubscribe, err := m.ledger.Subscribe(ctx, m.userID, m.apply)
	if err != nil {
		return fmt.Errorf("подписка на запасы: %w", err)
	}
	m.mu.Lock()
	m.unsubscribe = unsubscribe
	m.mu.Unlock()
	return nil
}

// Close отписывается ровно один раз.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		unsubscribe := m.unsubscribe
		m.unsubscribe = nil
		m.mu.Unlock()
		if unsubscribe != nil {
			unsubscribe()
		}
	})
}

// apply принимает снимок из подписки. Снимки старше уже известной версии
// отбрасываются.
func (m *Manager) apply(snap ledger.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyLocked(snap.Powerups, snap.Version)
}

func (m *Manager) applyLocked(counts map[ledger.PowerupKind]int64, version int64) {
	if version < m.version {
		return
	}
	m.version = version
	for _, k := range ledger.Kinds {
		m.counts[k] = counts[k]
		if m.states[k] != Refreshing {
			m.states[k] = Cached
		}
	}
}

// Count возвращает последнее известное значение и его состояние.
func (m *Manager) Count(kind ledger.PowerupKind) (int64, State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[kind], m.states[kind]
}

// Counts возвращает копию кэша.
func (m *Manager) Counts() map[ledger.PowerupKind]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[ledger.PowerupKind]int64, len(m.counts))
	for k, v := range m.counts {
		out[k] = v
	}
	return out
}

// Refresh читает запасы напрямую из ledger в обход подписки.
// При ошибке состояния возвращаются к прежним, кэш не меняется.
func (m *Manager) Refresh(ctx context.Context) (map[ledger.PowerupKind]int64, error) {
	m.mu.Lock()
	prev := make(map[ledger.PowerupKind]State, len(m.states))
	for k, s := range m.states {
		prev[k] = s
		m.states[k] = Refreshing
	}
	m.mu.Unlock()

	snap, err := m.ledger.ReadSnapshot(ctx, m.userID)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		for k, s := range prev {
			m.states[k] = s
		}
		return nil, err
	}
	for _, k := range ledger.Kinds {
		m.states[k] = Cached
	}
	m.applyLocked(snap.Powerups, snap.Version)

	out := make(map[ledger.PowerupKind]int64, len(m.counts))
	for k, v := range m.counts {
		out[k] = v
	}
	return out, nil
}

// Consume списывает один усилитель. true — только если ledger подтвердил
// полное списание. Ноль, конкурирующее списание с другого устройства,
// отменённая транзакция и недоступность дают false без паники и без ошибки.
func (m *Manager) Consume(ctx context.Context, kind ledger.PowerupKind) bool {
	logger := log.WithFields(log.Fields{
		"component": "inventory",
		"user_id":   m.userID,
		"kind":      kind,
	})

	count, state := m.Count(kind)
	if state == Unknown || count == 0 {
		counts, err := m.Refresh(ctx)
		switch {
		case err != nil:
			// ledger всё равно рассудит сам: списание ниже нуля будет отклонено
			logger.WithError(err).Warn("Не удалось обновить запасы перед списанием")
		case counts[kind] == 0:
			return false
		}
	}

	res, err := m.ledger.AdjustPowerupCount(ctx, m.userID, kind, -1, "использован в игре")
	if err != nil {
		logger.WithError(err).Warn("Списание усилителя не выполнено")
		return false
	}
	m.recordWrite(kind, res)
	if res.Clamped {
		logger.Info("Списание отклонено: запас уже исчерпан")
		return false
	}
	return true
}

// Grant начисляет amount усилителей и возвращает новый запас.
func (m *Manager) Grant(ctx context.Context, kind ledger.PowerupKind, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, common.ErrInvalidAmount
	}
	res, err := m.ledger.AdjustPowerupCount(ctx, m.userID, kind, amount, "начислен")
	if err != nil {
		return 0, err
	}
	m.recordWrite(kind, res)
	return res.Value, nil
}

// recordWrite обновляет кэш результатом собственной записи.
func (m *Manager) recordWrite(kind ledger.PowerupKind, res ledger.AdjustResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if res.Version < m.version {
		return
	}
	m.version = res.Version
	m.counts[kind] = res.Value
	m.states[kind] = Cached
}
