package session

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/ruby-arcade/internal/common"
	"serotonyl.ru/ruby-arcade/internal/ledger"
)

// StakeOpen сообщает, ждёт ли сессия выбора ставки.
func (s *Session) StakeOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stakeOpen
}

// StakeRange возвращает допустимую ставку [1, min(PresetCap, баланс)]
// по живому балансу.
func (s *Session) StakeRange(ctx context.Context) (int64, int64, error) {
	s.mu.Lock()
	open := s.stakeOpen
	s.mu.Unlock()
	if !open {
		return 0, 0, ErrNoStakeOpen
	}

	balance, err := s.ledger.ReadBalance(ctx, s.userID)
	if err != nil {
		return 0, 0, fmt.Errorf("чтение баланса: %w", err)
	}
	if balance <= 0 {
		return 0, 0, common.ErrInsufficientFunds
	}
	return 1, min(s.cfg.Betting.PresetCap, balance), nil
}

// CommitStake делает ставку. Баланс перечитывается из ledger, кэш не используется;
// при нехватке ничего не списывается.
func (s *Session) CommitStake(ctx context.Context, stake int64) error {
	if stake < 1 || stake > s.cfg.Betting.PresetCap {
		return ErrInvalidStake
	}

	s.mu.Lock()
	switch {
	case !s.stakeOpen:
		s.mu.Unlock()
		return ErrNoStakeOpen
	case s.committing:
		s.mu.Unlock()
		return ErrStakeInProgress
	}
	s.committing = true
	s.mu.Unlock()

	logger := s.logger().WithField("amount", stake)

	balance, err := s.ledger.ReadBalance(ctx, s.userID)
	if err != nil {
		s.abortCommit(ctx)
		return fmt.Errorf("чтение баланса: %w", err)
	}
	if balance < stake {
		s.abortCommit(ctx)
		return common.ErrInsufficientFunds
	}

	res, err := s.ledger.AdjustBalance(ctx, s.userID, -stake, "ставка: "+s.cfg.GameID)
	if err != nil {
		s.abortCommit(ctx)
		return fmt.Errorf("списание ставки: %w", err)
	}
	if res.Clamped {
		// Баланс потрачен параллельно между чтением и списанием
		s.creditBack(ctx, -res.Applied)
		s.abortCommit(ctx)
		return common.ErrInsufficientFunds
	}

	s.mu.Lock()
	s.committing = false
	if s.state != Active || s.torn {
		// Игра закончилась во время ставки: ставка не состоялась
		s.stakeOpen = false
		s.armed = ""
		s.mu.Unlock()
		s.creditBack(ctx, stake)
		s.refundBetting(ctx)
		return ErrSessionNotActive
	}
	s.stakeOpen = false
	s.wager = &Wager{Amount: stake, Placed: true}
	s.lastActive = timeNow()
	s.mu.Unlock()

	ev := s.event(EventWagerPlaced)
	ev.Kind = ledger.Betting
	ev.Amount = stake
	s.sink.Emit(ev)
	logger.WithField("balance", res.Value).Info("Ставка принята")
	return nil
}

// abortCommit снимает отметку committing. Если за это время игра закончилась,
// экран ставки закрывается и усилитель возвращается.
func (s *Session) abortCommit(ctx context.Context) {
	s.mu.Lock()
	s.committing = false
	refund := false
	if s.stakeOpen && (s.state != Active || s.torn) {
		s.stakeOpen = false
		s.armed = ""
		refund = true
	}
	s.mu.Unlock()
	if refund {
		s.refundBetting(ctx)
	}
}

func (s *Session) creditBack(ctx context.Context, amount int64) {
	if amount <= 0 {
		return
	}
	if _, err := s.ledger.AdjustBalance(ctx, s.userID, amount, "возврат ставки: "+s.cfg.GameID); err != nil {
		s.logger().WithError(err).WithFields(log.Fields{"amount": amount}).Error("Не удалось вернуть ставку")
	}
}

// CancelStake закрывает экран ставки без ставки. Усилитель возвращается,
// и в игре снова можно взять любой усилитель.
func (s *Session) CancelStake(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case !s.stakeOpen:
		s.mu.Unlock()
		return ErrNoStakeOpen
	case s.committing:
		s.mu.Unlock()
		return ErrStakeInProgress
	}
	s.stakeOpen = false
	s.armed = ""
	s.mu.Unlock()

	s.refundBetting(ctx)
	return nil
}

// wagerMet — выполнено ли условие ставки.
func wagerMet(w *Wager, outcome Outcome) bool {
	return w.Won || outcome == Won
}
