// Package session — экономика одной игровой сессии: какой усилитель взят,
// есть ли ставка, как копится счёт и сколько рубинов начислить в конце.
//
// Автомат: NotStarted -> Active -> {Won, Lost} -> Settled.
//
// Состояние защищено мьютексом, но обращения к ledger выполняются вне него.
// На время такого обращения сессия ставит отметку (arming, committing),
// и перекрывающиеся вызовы (двойное нажатие, таймаут одновременно со «стоп»)
// отклоняются. Settle защищён sync.Once.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/ruby-arcade/internal/inventory"
	"serotonyl.ru/ruby-arcade/internal/ledger"
)

// State — состояние сессии.
type State int

const (
	NotStarted State = iota
	Active
	Won
	Lost
	Settled
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Active:
		return "active"
	case Won:
		return "won"
	case Lost:
		return "lost"
	case Settled:
		return "settled"
	}
	return "invalid"
}

// Outcome — исход, который сообщает игра.
type Outcome = State

// Wager — ставка, сделанная в сессии.
type Wager struct {
	Amount int64
	Placed bool
	Won    bool // Условие ставки выполнено (достигнута отметка)
}

// Deps — внешние зависимости сессии.
type Deps struct {
	Ledger ledger.Ledger
	Sink   Sink
	Clock  Clock
}

// Session — экономика одной игры одного игрока.
type Session struct {
	id     string
	userID string
	cfg    Config
	ledger ledger.Ledger
	inv    *inventory.Manager
	sink   Sink
	timers *Timers

	mu         sync.Mutex
	state      State
	armed      ledger.PowerupKind
	arming     bool
	stakeOpen  bool
	committing bool
	wager      *Wager
	multiplier decimal.Decimal
	extraLife  bool
	params     map[string]float64
	score      int64
	startedAt  time.Time
	lastActive time.Time
	torn       bool

	settleOnce sync.Once
	settlement Settlement
}

// New создаёт сессию в состоянии NotStarted.
func New(deps Deps, cfg Config, userID string) *Session {
	sink := deps.Sink
	if sink == nil {
		sink = discardSink{}
	}
	if cfg.MultiplierFactor.IsZero() {
		cfg.MultiplierFactor = decimal.NewFromInt(2)
	}
	params := make(map[string]float64, len(cfg.Params))
	for k, v := range cfg.Params {
		params[k] = v
	}
	return &Session{
		id:         uuid.NewString(),
		userID:     userID,
		cfg:        cfg,
		ledger:     deps.Ledger,
		inv:        inventory.New(deps.Ledger, userID),
		sink:       sink,
		timers:     NewTimers(deps.Clock),
		state:      NotStarted,
		multiplier: decimal.NewFromInt(1),
		params:     params,
	}
}

func (s *Session) ID() string     { return s.id }
func (s *Session) UserID() string { return s.userID }
func (s *Session) GameID() string { return s.cfg.GameID }

// Config возвращает настройки игры.
func (s *Session) Config() Config { return s.cfg }

// Inventory — запасы игрока, которые видит сессия.
func (s *Session) Inventory() *inventory.Manager { return s.inv }

func (s *Session) logger() *log.Entry {
	return log.WithFields(log.Fields{
		"component":  "session",
		"session_id": s.id,
		"user_id":    s.userID,
		"game_id":    s.cfg.GameID,
	})
}

func (s *Session) event(t EventType) Event {
	return Event{Type: t, SessionID: s.id, UserID: s.userID, GameID: s.cfg.GameID}
}

// Start переводит сессию в Active: подписка на запасы и первое чтение.
// Ошибка чтения не мешает старту: кэш останется Unknown и обновится перед списанием.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != NotStarted || s.torn {
		s.mu.Unlock()
		return ErrSessionNotActive
	}
	s.state = Active
	s.multiplier = decimal.NewFromInt(1)
	s.armed = ""
	s.wager = nil
	s.startedAt = timeNow()
	s.lastActive = s.startedAt
	s.mu.Unlock()

	if err := s.inv.Start(ctx); err != nil {
		s.logger().WithError(err).Warn("Подписка на запасы не удалась")
	}
	if _, err := s.inv.Refresh(ctx); err != nil {
		s.logger().WithError(err).Warn("Не удалось прочитать запасы при старте")
	}
	s.logger().Debug("Сессия начата")
	return nil
}

// State возвращает текущее состояние.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Armed возвращает взятый усилитель ("" — нет).
func (s *Session) Armed() ledger.PowerupKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armed
}

// Wager возвращает копию ставки или nil.
func (s *Session) Wager() *Wager {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wager == nil {
		return nil
	}
	w := *s.wager
	return &w
}

// Score возвращает накопленный счёт.
func (s *Session) Score() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.score
}

// Multiplier возвращает текущий множитель награды.
func (s *Session) Multiplier() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.multiplier
}

// LastActive — время последнего действия игрока.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Touch отмечает активность игрока.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActive = timeNow()
	s.mu.Unlock()
}

// After регистрирует таймер сессии; он будет отменён при завершении.
func (s *Session) After(d time.Duration, f func()) bool {
	return s.timers.After(d, f)
}

// AddScore прибавляет очки и возвращает новый счёт.
func (s *Session) AddScore(points int64) (int64, error) {
	if points < 0 {
		return 0, ErrInvalidScore
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Active {
		return 0, ErrSessionNotActive
	}
	s.score += points
	s.lastActive = timeNow()
	return s.score, nil
}

// ReachMilestone отмечает, что условие ставки выполнено.
// Возвращает true, если в сессии есть сделанная ставка.
func (s *Session) ReachMilestone() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Active || s.wager == nil || !s.wager.Placed {
		return false
	}
	s.wager.Won = true
	return true
}

// ReportOutcome завершает игру исходом Won или Lost с итоговым счётом.
func (s *Session) ReportOutcome(ctx context.Context, outcome Outcome, rawScore int64) error {
	if outcome != Won && outcome != Lost {
		return ErrInvalidOutcome
	}
	if rawScore < 0 {
		return ErrInvalidScore
	}
	s.mu.Lock()
	if s.state != Active {
		s.mu.Unlock()
		return ErrSessionNotActive
	}
	refund := s.finishLocked(outcome, rawScore)
	s.mu.Unlock()

	if refund {
		s.refundBetting(ctx)
	}
	s.logger().WithFields(log.Fields{
		"outcome": outcome.String(),
		"score":   rawScore,
	}).Info("Игра завершена")
	return nil
}

// finishLocked фиксирует исход. Возвращает true, если открытый экран ставки
// закрыт без ставки и усилитель нужно вернуть.
func (s *Session) finishLocked(outcome Outcome, rawScore int64) bool {
	s.state = outcome
	s.score = rawScore
	s.timers.CancelAll()
	if s.stakeOpen && !s.committing {
		s.stakeOpen = false
		s.armed = ""
		return true
	}
	return false
}

// Teardown завершает сессию при уходе игрока. Идемпотентна.
// Идущая игра считается проигранной с текущим счётом и рассчитывается,
// завершённая, но не рассчитанная, рассчитывается. Подписки и таймеры снимаются.
func (s *Session) Teardown(ctx context.Context) {
	s.mu.Lock()
	if s.torn {
		s.mu.Unlock()
		return
	}
	s.torn = true
	s.timers.CancelAll()
	refund := false
	state := s.state
	switch state {
	case Active:
		refund = s.finishLocked(Lost, s.score)
	case NotStarted:
		s.state = Settled
	}
	finished := s.state == Won || s.state == Lost
	s.mu.Unlock()

	s.inv.Close()
	if state == NotStarted {
		// Несыгранная сессия закрыта без расчёта, Settle её не рассчитывает
		s.settleOnce.Do(func() {})
	}
	if refund {
		s.refundBetting(ctx)
	}
	if finished {
		if _, err := s.Settle(ctx); err != nil {
			s.logger().WithError(err).Warn("Расчёт при завершении не выполнен")
		}
	}
	s.logger().WithField("state", state.String()).Debug("Сессия закрыта")
}

// TornDown сообщает, закрыта ли сессия.
func (s *Session) TornDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.torn
}
