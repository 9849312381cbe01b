package arcade

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/ruby-arcade/internal/common"
	"serotonyl.ru/ruby-arcade/internal/games/climb"
	"serotonyl.ru/ruby-arcade/internal/ledger"
	"serotonyl.ru/ruby-arcade/internal/players"
	"serotonyl.ru/ruby-arcade/internal/session"
)

// ErrHistoryUnsupported — выбранное хранилище не ведёт журнал.
var ErrHistoryUnsupported = errors.New("история операций недоступна")

// Play — активная партия игрока.
type Play struct {
	Game    *Game
	Session *session.Session
	Run     *climb.Run
}

// Deps — зависимости сервиса.
type Deps struct {
	Ledger  ledger.Ledger
	Players *players.Service
	Catalog *Catalog
	Clock   session.Clock
	Sink    session.Sink
	// Source создаёт генератор случайностей подъёма; nil — криптостойкий сид.
	Source func(userID string) climb.Source
	Now    func() time.Time
}

// Service держит не более одной партии на игрока и проводит через неё
// команды слоя отображения.
type Service struct {
	ledger  ledger.Ledger
	players *players.Service
	catalog *Catalog
	clock   session.Clock
	source  func(userID string) climb.Source
	now     func() time.Time

	mu    sync.Mutex
	plays map[string]*Play
	sink  session.Sink
}

// NewService создаёт сервис аркады.
func NewService(deps Deps) *Service {
	s := &Service{
		ledger:  deps.Ledger,
		players: deps.Players,
		catalog: deps.Catalog,
		clock:   deps.Clock,
		source:  deps.Source,
		now:     deps.Now,
		plays:   make(map[string]*Play),
		sink:    deps.Sink,
	}
	if s.catalog == nil {
		s.catalog = DefaultCatalog()
	}
	if s.clock == nil {
		s.clock = session.SystemClock{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// SetSink меняет получателя событий сессий. Бот подключается после создания сервиса.
func (s *Service) SetSink(sink session.Sink) {
	s.mu.Lock()
	s.sink = sink
	s.mu.Unlock()
}

// Catalog возвращает каталог игр.
func (s *Service) Catalog() *Catalog { return s.catalog }

// Emit реализует session.Sink: рассчитанная партия снимается с учёта,
// событие передаётся дальше.
func (s *Service) Emit(e session.Event) {
	s.mu.Lock()
	if e.Type == session.EventSessionSettled {
		if p, ok := s.plays[e.UserID]; ok && p.Session.ID() == e.SessionID {
			delete(s.plays, e.UserID)
		}
	}
	sink := s.sink
	s.mu.Unlock()

	if sink != nil {
		sink.Emit(e)
	}
}

func (s *Service) logger(userID string) *log.Entry {
	return log.WithFields(log.Fields{"component": "arcade", "user_id": userID})
}

// StartGame начинает игру gameID. Пустой gameID — первая игра каталога.
func (s *Service) StartGame(ctx context.Context, userID, gameID string) (*Play, error) {
	if gameID == "" {
		gameID = s.catalog.List()[0].ID
	}
	game, err := s.catalog.Get(gameID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if p, ok := s.plays[userID]; ok {
		if st := p.Session.State(); st == session.Active || st == session.NotStarted {
			s.mu.Unlock()
			return nil, common.ErrGameInProgress
		}
		delete(s.plays, userID)
	}
	sess := session.New(session.Deps{Ledger: s.ledger, Sink: s, Clock: s.clock}, game.Economy, userID)
	var src climb.Source
	if s.source != nil {
		src = s.source(userID)
	}
	play := &Play{
		Game:    game,
		Session: sess,
		Run:     climb.New(sess, game.Rules, climb.Options{Source: src, Now: s.now}),
	}
	s.plays[userID] = play
	s.mu.Unlock()

	if err := sess.Start(ctx); err != nil {
		s.forget(userID, sess.ID())
		return nil, err
	}
	play.Run.Start()

	s.logger(userID).WithFields(log.Fields{
		"game_id":    game.ID,
		"session_id": sess.ID(),
	}).Info("Игра начата")
	return play, nil
}

func (s *Service) forget(userID, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.plays[userID]; ok && p.Session.ID() == sessionID {
		delete(s.plays, userID)
	}
}

// Current возвращает активную партию игрока.
func (s *Service) Current(userID string) (*Play, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plays[userID]
	if !ok {
		return nil, common.ErrNoActiveGame
	}
	return p, nil
}

// ArmPowerup включает усилитель в текущей игре.
func (s *Service) ArmPowerup(ctx context.Context, userID string, kind ledger.PowerupKind) (session.ArmResult, error) {
	p, err := s.Current(userID)
	if err != nil {
		return session.ArmResult{}, err
	}
	return p.Session.ArmPowerup(ctx, kind)
}

// CommitStake делает ставку в текущей игре.
func (s *Service) CommitStake(ctx context.Context, userID string, stake int64) error {
	p, err := s.Current(userID)
	if err != nil {
		return err
	}
	return p.Session.CommitStake(ctx, stake)
}

// CancelStake закрывает экран ставки с возвратом усилителя.
func (s *Service) CancelStake(ctx context.Context, userID string) error {
	p, err := s.Current(userID)
	if err != nil {
		return err
	}
	return p.Session.CancelStake(ctx)
}

// Step делает шаг в текущей игре.
func (s *Service) Step(ctx context.Context, userID string) (climb.StepResult, *Play, error) {
	p, err := s.Current(userID)
	if err != nil {
		return climb.StepResult{}, nil, err
	}
	res, err := p.Run.Step(ctx)
	if err != nil {
		return climb.StepResult{}, p, err
	}
	if res.Finished {
		s.forget(userID, p.Session.ID())
	}
	return res, p, nil
}

// Stop забирает текущий счёт и завершает игру.
func (s *Service) Stop(ctx context.Context, userID string) (session.Settlement, error) {
	p, err := s.Current(userID)
	if err != nil {
		return session.Settlement{}, err
	}
	st, err := p.Run.Stop(ctx)
	s.forget(userID, p.Session.ID())
	return st, err
}

// EndGame закрывает партию игрока (уход из игры). Без активной партии — no-op.
func (s *Service) EndGame(ctx context.Context, userID string) {
	s.mu.Lock()
	p, ok := s.plays[userID]
	delete(s.plays, userID)
	s.mu.Unlock()
	if ok {
		p.Session.Teardown(ctx)
	}
}

// ReapIdle закрывает партии без действий дольше idle. Возвращает их число.
func (s *Service) ReapIdle(ctx context.Context, idle time.Duration) int {
	cutoff := s.now().Add(-idle)

	s.mu.Lock()
	var stale []*Play
	for userID, p := range s.plays {
		if p.Session.LastActive().Before(cutoff) {
			stale = append(stale, p)
			delete(s.plays, userID)
		}
	}
	s.mu.Unlock()

	for _, p := range stale {
		p.Session.Teardown(ctx)
		s.logger(p.Session.UserID()).WithField("session_id", p.Session.ID()).Info("Партия закрыта по бездействию")
	}
	return len(stale)
}

// Active возвращает число идущих партий.
func (s *Service) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.plays)
}

// Account возвращает запись игрока для показа.
func (s *Service) Account(ctx context.Context, userID string) (ledger.Snapshot, error) {
	snap, err := s.ledger.ReadSnapshot(ctx, userID)
	if err != nil {
		return ledger.Snapshot{}, fmt.Errorf("чтение счёта: %w", err)
	}
	return snap, nil
}

// History возвращает последние операции игрока.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]ledger.HistoryEntry, error) {
	hr, ok := s.ledger.(ledger.HistoryReader)
	if !ok {
		return nil, ErrHistoryUnsupported
	}
	return hr.History(ctx, userID, limit)
}

// GrantPowerup начисляет усилители (админ).
func (s *Service) GrantPowerup(ctx context.Context, userID string, kind ledger.PowerupKind, amount int64, reason string) (ledger.AdjustResult, error) {
	if amount <= 0 {
		return ledger.AdjustResult{}, common.ErrInvalidAmount
	}
	if !kind.Valid() {
		return ledger.AdjustResult{}, common.ErrUnknownPowerup
	}
	res, err := s.ledger.AdjustPowerupCount(ctx, userID, kind, amount, reason)
	if err != nil {
		return ledger.AdjustResult{}, err
	}
	s.logger(userID).WithFields(log.Fields{"kind": kind, "amount": amount}).Info("Усилители начислены")
	return res, nil
}

// CreditRubies начисляет рубины (админ).
func (s *Service) CreditRubies(ctx context.Context, userID string, amount int64, reason string) (ledger.AdjustResult, error) {
	if amount <= 0 {
		return ledger.AdjustResult{}, common.ErrInvalidAmount
	}
	res, err := s.ledger.AdjustBalance(ctx, userID, amount, reason)
	if err != nil {
		return ledger.AdjustResult{}, err
	}
	s.logger(userID).WithField("amount", amount).Info("Рубины начислены")
	return res, nil
}

// DailyGift дарит по одному множителю всем, кто заходил за последние сутки.
// Ошибка по одному игроку не останавливает раздачу.
func (s *Service) DailyGift(ctx context.Context) (int, error) {
	if s.players == nil {
		return 0, nil
	}
	list, err := s.players.ActiveWithin(ctx, 24*time.Hour)
	if err != nil {
		return 0, err
	}
	gifted := 0
	for _, p := range list {
		if _, err := s.ledger.AdjustPowerupCount(ctx, p.ID, ledger.Multiplier, 1, "ежедневный подарок"); err != nil {
			s.logger(p.ID).WithError(err).Warn("Подарок не выдан")
			continue
		}
		gifted++
	}
	log.WithField("count", gifted).Info("Ежедневные подарки выданы")
	return gifted, nil
}

// Shutdown закрывает все партии.
func (s *Service) Shutdown(ctx context.Context) {
	s.mu.Lock()
	plays := make([]*Play, 0, len(s.plays))
	for _, p := range s.plays {
		plays = append(plays, p)
	}
	s.plays = make(map[string]*Play)
	s.mu.Unlock()

	for _, p := range plays {
		p.Session.Teardown(ctx)
	}
	log.WithField("count", len(plays)).Info("Партии закрыты")
}
