package ledger

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// Hub хранит подписчиков на изменения записей и рассылает им снимки.
// Общий для всех реализаций: Memory и SQLite публикуют после коммита сами,
// Postgres — из горутины LISTEN.
type Hub struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[string]map[uint64]func(Snapshot)
}

// NewHub создаёт пустой реестр подписчиков.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[uint64]func(Snapshot))}
}

// Add регистрирует подписчика и возвращает функцию отписки.
// Отписка идемпотентна.
func (h *Hub) Add(userID string, fn func(Snapshot)) func() {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[uint64]func(Snapshot))
	}
	h.subs[userID][id] = fn
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[userID], id)
			if len(h.subs[userID]) == 0 {
				delete(h.subs, userID)
			}
		})
	}
}

// Has сообщает, есть ли у игрока подписчики.
func (h *Hub) Has(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID]) > 0
}

// Count возвращает общее число подписок.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, m := range h.subs {
		n += len(m)
	}
	return n
}

// Publish рассылает снимок подписчикам игрока.
// Колбэки вызываются вне блокировки: подписчик может отписаться прямо из колбэка.
func (h *Hub) Publish(s Snapshot) {
	h.mu.RLock()
	fns := make([]func(Snapshot), 0, len(h.subs[s.UserID]))
	for _, fn := range h.subs[s.UserID] {
		fns = append(fns, fn)
	}
	h.mu.RUnlock()

	for _, fn := range fns {
		deliver(fn, s)
	}
}

// Close удаляет всех подписчиков.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs = make(map[string]map[uint64]func(Snapshot))
}

func deliver(fn func(Snapshot), s Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(log.Fields{
				"component": "ledger_hub",
				"user_id":   s.UserID,
				"panic":     r,
			}).Error("Паника в подписчике ledger — восстановлено")
		}
	}()
	fn(copySnapshot(s))
}

// copySnapshot отдаёт каждому подписчику свои карты.
func copySnapshot(s Snapshot) Snapshot {
	out := s
	out.HighScores = make(map[string]int64, len(s.HighScores))
	for k, v := range s.HighScores {
		out.HighScores[k] = v
	}
	out.Powerups = make(map[PowerupKind]int64, len(s.Powerups))
	for k, v := range s.Powerups {
		out.Powerups[k] = v
	}
	return out
}
