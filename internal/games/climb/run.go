package climb

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/ruby-arcade/internal/ledger"
	"serotonyl.ru/ruby-arcade/internal/session"
)

// StepResult — что произошло за шаг.
type StepResult struct {
	Step        int
	Score       int64
	Slipped     bool               // Был срыв
	SavedByLife bool               // Срыв погашен «жизнью»
	WagerWon    bool               // На этом шаге выполнено условие ставки
	Pickup      ledger.PowerupKind // Найденный усилитель ("" — ничего)
	Finished    bool
	Outcome     session.Outcome
	Settlement  *session.Settlement
}

// Options — необязательные зависимости подъёма.
type Options struct {
	Source Source
	Now    func() time.Time
	// OnTimeout вызывается, когда подъём завершён по времени.
	OnTimeout func(session.Settlement)
}

// Run — один подъём, привязанный к сессии.
type Run struct {
	sess      *session.Session
	rules     Rules
	rng       Source
	now       func() time.Time
	onTimeout func(session.Settlement)

	mu         sync.Mutex
	step       int
	deadline   time.Time
	finished   bool
	settlement *session.Settlement
}

// New создаёт подъём. Сессия должна быть уже запущена.
func New(sess *session.Session, rules Rules, opts Options) *Run {
	r := &Run{
		sess:      sess,
		rules:     rules,
		rng:       opts.Source,
		now:       opts.Now,
		onTimeout: opts.OnTimeout,
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.rng == nil {
		src, err := NewRandomSource(sess.UserID())
		if err != nil {
			// без crypto/rand: сид из ID сессии
			src = NewSeededSource(sess.ID(), sess.UserID(), 0)
		}
		r.rng = src
	}
	return r
}

func (r *Run) logger() *log.Entry {
	return log.WithFields(log.Fields{
		"component":  "climb",
		"session_id": r.sess.ID(),
		"user_id":    r.sess.UserID(),
		"game_id":    r.sess.GameID(),
	})
}

// Start запускает отсчёт времени на подъём.
func (r *Run) Start() {
	r.mu.Lock()
	r.deadline = r.now().Add(r.rules.TimeLimit)
	r.mu.Unlock()
	r.sess.After(r.rules.TimeLimit, r.onTimer)
}

// Deadline возвращает момент, когда подъём закончится по времени.
func (r *Run) Deadline() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deadline
}

// Height возвращает текущий шаг.
func (r *Run) Height() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.step
}

// Rules возвращает правила трассы.
func (r *Run) Rules() Rules { return r.rules }

// Session возвращает сессию подъёма.
func (r *Run) Session() *session.Session { return r.sess }

func (r *Run) onTimer() {
	r.mu.Lock()
	if r.finished {
		r.mu.Unlock()
		return
	}
	if now := r.now(); now.Before(r.deadline) {
		// «Жизнь» продлила время
		r.mu.Unlock()
		r.sess.After(r.deadline.Sub(now), r.onTimer)
		return
	}
	st := r.finishLocked(context.Background(), session.Lost)
	r.mu.Unlock()

	r.logger().Info("Время на подъём вышло")
	if st != nil && r.onTimeout != nil {
		r.onTimeout(*st)
	}
}

// Step делает один шаг вверх.
func (r *Run) Step(ctx context.Context) (StepResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return StepResult{}, session.ErrSessionNotActive
	}

	var res StepResult
	slip := r.sess.Param(ParamSlipChance) * r.sess.Param(ParamGravity)
	if r.rng.Float64() < slip {
		res.Slipped = true
		restore, ok := r.sess.UseExtraLife()
		if !ok {
			res.Step = r.step
			res.Score = r.sess.Score()
			r.finishInto(ctx, &res, session.Lost)
			return res, nil
		}
		res.SavedByLife = true
		if extended := r.now().Add(time.Duration(restore) * time.Second); extended.After(r.deadline) {
			r.deadline = extended
		}
	}

	score, err := r.sess.AddScore(r.rules.PointsPerStep)
	if err != nil {
		return StepResult{}, err
	}
	r.step++
	res.Step = r.step
	res.Score = score

	if r.step == r.rules.Milestone {
		res.WagerWon = r.sess.ReachMilestone()
	}

	if r.rng.Float64() < r.rules.PickupChance {
		kind := ledger.Kinds[int(r.rng.Float64()*float64(len(ledger.Kinds)))%len(ledger.Kinds)]
		// Находка исчезает в любом случае; ошибка начисления только логируется
		if _, err := r.sess.Inventory().Grant(ctx, kind, 1); err != nil {
			r.logger().WithError(err).WithField("kind", kind).Warn("Находка не начислена")
		} else {
			res.Pickup = kind
		}
	}

	if r.step >= r.rules.Height {
		r.finishInto(ctx, &res, session.Won)
	}
	return res, nil
}

// Stop завершает подъём по желанию игрока: счёт сохраняется, исход — Lost
// (вершина не взята, ставка без отметки сгорает).
func (r *Run) Stop(ctx context.Context) (session.Settlement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		if r.settlement != nil {
			return *r.settlement, nil
		}
		return session.Settlement{}, session.ErrSessionNotActive
	}
	st := r.finishLocked(ctx, session.Lost)
	if st == nil {
		return session.Settlement{}, session.ErrSessionNotActive
	}
	return *st, nil
}

// Finished сообщает, завершён ли подъём.
func (r *Run) Finished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finished
}

func (r *Run) finishInto(ctx context.Context, res *StepResult, outcome session.Outcome) {
	res.Finished = true
	res.Outcome = outcome
	res.Settlement = r.finishLocked(ctx, outcome)
}

// finishLocked сообщает исход и рассчитывает сессию. Вызывается под r.mu.
func (r *Run) finishLocked(ctx context.Context, outcome session.Outcome) *session.Settlement {
	r.finished = true
	if err := r.sess.ReportOutcome(ctx, outcome, r.sess.Score()); err != nil {
		r.logger().WithError(err).Debug("Исход не принят: сессия уже завершена")
		return nil
	}
	st, err := r.sess.Settle(ctx)
	if err != nil {
		r.logger().WithError(err).Warn("Расчёт не выполнен")
		return nil
	}
	r.settlement = &st
	return &st
}
