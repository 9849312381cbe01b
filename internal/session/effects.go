package session

import (
	"time"

	"serotonyl.ru/ruby-arcade/internal/ledger"
)

// timeNow подменяется в тестах.
var timeNow = time.Now

// applyEffectLocked применяет эффект подтверждённого усилителя. Вызывается под s.mu.
func (s *Session) applyEffectLocked(kind ledger.PowerupKind) {
	switch kind {
	case ledger.Multiplier:
		s.multiplier = s.multiplier.Mul(s.cfg.MultiplierFactor)
	case ledger.ExtraLife:
		s.extraLife = true
	default:
		eff, ok := s.cfg.Effects[kind]
		if !ok {
			return
		}
		prev := s.params[eff.Param]
		s.params[eff.Param] = prev * eff.Factor
		s.timers.After(eff.Duration, func() {
			s.restoreEffect(kind, eff.Param, prev)
		})
	}
}

// restoreEffect возвращает параметр после окончания временного эффекта.
// Если игра уже закончилась, ничего не делает.
func (s *Session) restoreEffect(kind ledger.PowerupKind, param string, value float64) {
	s.mu.Lock()
	if s.torn || s.state != Active {
		s.mu.Unlock()
		return
	}
	s.params[param] = value
	s.mu.Unlock()

	ev := s.event(EventEffectExpired)
	ev.Kind = kind
	s.sink.Emit(ev)
}

// Param возвращает текущее значение параметра игры.
func (s *Session) Param(name string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params[name]
}

// HasExtraLife сообщает, есть ли неиспользованная «жизнь».
func (s *Session) HasExtraLife() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.extraLife
}

// UseExtraLife гасит смертельную ошибку один раз. Возвращает значение,
// до которого восстанавливается ресурс, и true, если «жизнь» была.
func (s *Session) UseExtraLife() (int64, bool) {
	s.mu.Lock()
	if s.state != Active || !s.extraLife {
		s.mu.Unlock()
		return 0, false
	}
	s.extraLife = false
	restore := s.cfg.ExtraLifeRestore
	s.mu.Unlock()

	ev := s.event(EventExtraLifeUsed)
	ev.Kind = ledger.ExtraLife
	ev.Amount = restore
	s.sink.Emit(ev)
	return restore, true
}
