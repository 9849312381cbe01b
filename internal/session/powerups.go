package session

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/ruby-arcade/internal/common"
	"serotonyl.ru/ruby-arcade/internal/ledger"
)

// ArmResult — итог взятия усилителя.
type ArmResult struct {
	Kind ledger.PowerupKind
	// Для ставки: допустимый диапазон и текст экрана выбора.
	StakeMin int64
	StakeMax int64
	Prompt   string
}

// ArmPowerup берёт усилитель в игру. Допускается один усилитель на игру:
// после успешного списания любые следующие попытки отклоняются.
// Эффект применяется только после подтверждённого списания.
func (s *Session) ArmPowerup(ctx context.Context, kind ledger.PowerupKind) (ArmResult, error) {
	if !kind.Valid() {
		return ArmResult{}, ledger.ErrUnknownKind
	}
	if !s.cfg.Supports(kind) {
		return ArmResult{}, ErrPowerupNotSupported
	}

	s.mu.Lock()
	switch {
	case s.state != Active || s.torn:
		s.mu.Unlock()
		return ArmResult{}, ErrSessionNotActive
	case s.arming:
		s.mu.Unlock()
		return ArmResult{}, ErrArmInProgress
	case s.armed != "":
		s.mu.Unlock()
		return ArmResult{}, ErrPowerupAlreadyUsed
	}
	s.arming = true
	s.lastActive = timeNow()
	s.mu.Unlock()

	ok := s.inv.Consume(ctx, kind)

	s.mu.Lock()
	s.arming = false
	if !ok {
		s.mu.Unlock()
		return ArmResult{}, common.ErrInsufficientPowerups
	}
	if s.state != Active || s.torn {
		// Игра закончилась, пока шло списание
		s.mu.Unlock()
		s.refund(ctx, kind)
		return ArmResult{}, ErrSessionNotActive
	}
	s.armed = kind
	if kind == ledger.Betting {
		s.stakeOpen = true
	} else {
		s.applyEffectLocked(kind)
	}
	s.mu.Unlock()

	ev := s.event(EventPowerupConsumed)
	ev.Kind = kind
	s.sink.Emit(ev)
	s.logger().WithField("kind", kind).Info("Усилитель использован")

	if kind != ledger.Betting {
		return ArmResult{Kind: kind}, nil
	}
	return s.openStake(ctx)
}

// openStake показывает экран ставки. При нулевом балансе или ошибке чтения
// экран не открывается, а усилитель возвращается.
func (s *Session) openStake(ctx context.Context) (ArmResult, error) {
	balance, err := s.ledger.ReadBalance(ctx, s.userID)

	s.mu.Lock()
	if !s.stakeOpen {
		// Экран закрыт завершением игры, возврат уже выполнен
		s.mu.Unlock()
		return ArmResult{}, ErrSessionNotActive
	}
	if err != nil || balance <= 0 {
		s.stakeOpen = false
		s.armed = ""
		s.mu.Unlock()
		s.refund(ctx, ledger.Betting)
		if err != nil {
			return ArmResult{}, fmt.Errorf("чтение баланса: %w", err)
		}
		return ArmResult{}, common.ErrInsufficientFunds
	}
	s.mu.Unlock()

	return ArmResult{
		Kind:     ledger.Betting,
		StakeMin: 1,
		StakeMax: min(s.cfg.Betting.PresetCap, balance),
		Prompt:   s.cfg.Betting.PromptText,
	}, nil
}

// refund возвращает списанный усилитель. Ошибка логируется и не повторяется.
func (s *Session) refund(ctx context.Context, kind ledger.PowerupKind) {
	if _, err := s.inv.Grant(ctx, kind, 1); err != nil {
		s.logger().WithError(err).WithField("kind", kind).Error("Не удалось вернуть усилитель")
		return
	}
	ev := s.event(EventPowerupRefunded)
	ev.Kind = kind
	ev.Amount = 1
	s.sink.Emit(ev)
	s.logger().WithFields(log.Fields{"kind": kind}).Info("Усилитель возвращён")
}

func (s *Session) refundBetting(ctx context.Context) {
	s.refund(ctx, ledger.Betting)
}
