package session

import (
	"sync"
	"time"
)

// Stopper — отменяемый таймер. *time.Timer подходит.
type Stopper interface {
	Stop() bool
}

// Clock планирует отложенные вызовы.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Stopper
}

// SystemClock — настоящие таймеры.
type SystemClock struct{}

func (SystemClock) AfterFunc(d time.Duration, f func()) Stopper {
	return time.AfterFunc(d, f)
}

// Timers — набор таймеров, принадлежащих одной сессии.
// CancelAll отменяет все разом; таймер, успевший сработать
// после CancelAll, ничего не вызывает.
type Timers struct {
	clock Clock

	mu      sync.Mutex
	nextID  int
	pending map[int]Stopper
	closed  bool
}

// NewTimers создаёт набор на заданных часах.
func NewTimers(clock Clock) *Timers {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Timers{clock: clock, pending: make(map[int]Stopper)}
}

// After планирует f через d. false — набор уже отменён.
func (t *Timers) After(d time.Duration, f func()) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.nextID++
	id := t.nextID
	t.pending[id] = t.clock.AfterFunc(d, func() {
		t.mu.Lock()
		_, live := t.pending[id]
		delete(t.pending, id)
		t.mu.Unlock()
		if live {
			f()
		}
	})
	return true
}

// Pending возвращает число ожидающих таймеров.
func (t *Timers) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// CancelAll останавливает все таймеры и закрывает набор.
func (t *Timers) CancelAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for id, s := range t.pending {
		s.Stop()
		delete(t.pending, id)
	}
}
