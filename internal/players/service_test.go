package players

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/ruby-arcade/internal/common"
)

func TestService_EnsurePlayerKeepsID(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore())

	first, err := svc.EnsurePlayer(ctx, 42, "ruby_fan", "Аня")
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)

	again, err := svc.EnsurePlayer(ctx, 42, "ruby_queen", "Аня")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, "ruby_queen", again.Username)
}

func TestService_Lookups(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore())
	p, err := svc.EnsurePlayer(ctx, 7, "Climber", "")
	require.NoError(t, err)

	byName, err := svc.ByUsername(ctx, "@climber")
	require.NoError(t, err)
	assert.Equal(t, p.ID, byName.ID)
	assert.Equal(t, "@Climber", byName.DisplayName())

	byTG, err := svc.ByTelegramID(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, p.ID, byTG.ID)

	_, err = svc.ByTelegramID(ctx, 8)
	assert.ErrorIs(t, err, common.ErrPlayerNotFound)
}

func TestMemoryStore_ActiveSince(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	store.now = func() time.Time { return now.Add(-48 * time.Hour) }
	_, err := store.Upsert(ctx, &Player{ID: "old", TelegramID: 1})
	require.NoError(t, err)

	store.now = func() time.Time { return now }
	_, err = store.Upsert(ctx, &Player{ID: "fresh", TelegramID: 2})
	require.NoError(t, err)

	active, err := store.ActiveSince(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "fresh", active[0].ID)
}
