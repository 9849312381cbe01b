package session

import (
	"context"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/ruby-arcade/internal/ledger"
)

// Settlement — итог расчёта сессии.
type Settlement struct {
	Outcome    Outcome
	RawScore   int64
	BaseReward int64 // floor(RawScore * множитель)
	Payout     int64 // Выплата по выигранной ставке
	Reward     int64 // Итоговое начисление
	Forfeited  bool  // Награда сгорела из-за проигранной ставки
	Wager      *Wager

	Balance      int64 // Баланс после начисления (если начисление было)
	BalanceErr   error
	HighScore    ledger.HighScoreResult
	HighScoreErr error
}

// computeReward считает награду без обращения к ledger.
func computeReward(cfg Config, outcome Outcome, rawScore int64, multiplier decimal.Decimal, w *Wager) Settlement {
	st := Settlement{Outcome: outcome, RawScore: rawScore, Wager: w}
	st.BaseReward = decimal.NewFromInt(rawScore).Mul(multiplier).Floor().IntPart()
	st.Reward = st.BaseReward

	if w == nil || !w.Placed {
		return st
	}
	if wagerMet(w, outcome) {
		st.Payout = decimal.NewFromInt(w.Amount).Mul(cfg.Betting.PayoutMultiplier).Floor().IntPart()
		st.Reward = st.BaseReward + st.Payout
		return st
	}
	if cfg.forfeitScope() == ForfeitEntireReward {
		st.Reward = 0
		st.Forfeited = true
	}
	return st
}

// Settle рассчитывает завершённую игру: одно начисление рубинов (если награда > 0)
// и одна попытка рекорда (если счёт > 0). Повторные и параллельные вызовы
// возвращают тот же результат без новых записей. Ошибка записи сохраняется
// в Settlement и не повторяется.
func (s *Session) Settle(ctx context.Context) (Settlement, error) {
	s.mu.Lock()
	switch s.state {
	case Won, Lost, Settled:
	default:
		s.mu.Unlock()
		return Settlement{}, ErrSessionNotFinished
	}
	s.mu.Unlock()

	s.settleOnce.Do(func() {
		s.settlement = s.settle(ctx)
	})
	return s.settlement, nil
}

func (s *Session) settle(ctx context.Context) Settlement {
	s.mu.Lock()
	var w *Wager
	if s.wager != nil {
		copied := *s.wager
		w = &copied
	}
	st := computeReward(s.cfg, s.state, s.score, s.multiplier, w)
	s.mu.Unlock()

	logger := s.logger().WithFields(log.Fields{
		"outcome": st.Outcome.String(),
		"score":   st.RawScore,
		"reward":  st.Reward,
	})

	if st.Reward > 0 {
		res, err := s.ledger.AdjustBalance(ctx, s.userID, st.Reward, "награда: "+s.cfg.GameID)
		if err != nil {
			st.BalanceErr = err
			logger.WithError(err).Error("Награда не начислена")
		} else {
			st.Balance = res.Value
		}
	}
	if st.RawScore > 0 {
		res, err := s.ledger.SetHighScoreIfGreater(ctx, s.userID, s.cfg.GameID, st.RawScore)
		if err != nil {
			st.HighScoreErr = err
			logger.WithError(err).Warn("Рекорд не сохранён")
		} else {
			st.HighScore = res
		}
	}

	s.mu.Lock()
	s.state = Settled
	s.mu.Unlock()
	// Рассчитанной сессии запасы больше не нужны
	s.inv.Close()

	ev := s.event(EventSessionSettled)
	ev.Amount = st.Reward
	ev.Settlement = &st
	s.sink.Emit(ev)
	logger.Info("Игра рассчитана")
	return st
}
