package players

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"serotonyl.ru/ruby-arcade/internal/common"
)

// MemoryStore — Store в памяти для тестов и запуска без БД.
type MemoryStore struct {
	mu   sync.RWMutex
	byID map[string]*Player
	byTG map[int64]string
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID: make(map[string]*Player),
		byTG: make(map[int64]string),
		now:  time.Now,
	}
}

func (s *MemoryStore) Upsert(_ context.Context, p *Player) (*Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	if id, ok := s.byTG[p.TelegramID]; ok {
		existing := s.byID[id]
		existing.Username = p.Username
		existing.FirstName = p.FirstName
		existing.LastSeen = now
		out := *existing
		return &out, nil
	}
	stored := *p
	stored.CreatedAt = now
	stored.LastSeen = now
	s.byID[stored.ID] = &stored
	s.byTG[stored.TelegramID] = stored.ID
	out := stored
	return &out, nil
}

func (s *MemoryStore) GetByID(_ context.Context, id string) (*Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("игрок %s: %w", id, common.ErrPlayerNotFound)
	}
	out := *p
	return &out, nil
}

func (s *MemoryStore) GetByTelegramID(ctx context.Context, telegramID int64) (*Player, error) {
	s.mu.RLock()
	id, ok := s.byTG[telegramID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("игрок %d: %w", telegramID, common.ErrPlayerNotFound)
	}
	return s.GetByID(ctx, id)
}

func (s *MemoryStore) GetByUsername(_ context.Context, username string) (*Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.byID {
		if p.Username != "" && strings.EqualFold(p.Username, username) {
			out := *p
			return &out, nil
		}
	}
	return nil, fmt.Errorf("игрок %s: %w", username, common.ErrPlayerNotFound)
}

func (s *MemoryStore) ActiveSince(_ context.Context, since time.Time) ([]*Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Player
	for _, p := range s.byID {
		if !p.LastSeen.Before(since) {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeen.After(out[j].LastSeen) })
	return out, nil
}
