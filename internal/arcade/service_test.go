package arcade

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/ruby-arcade/internal/common"
	"serotonyl.ru/ruby-arcade/internal/games/climb"
	"serotonyl.ru/ruby-arcade/internal/ledger"
	"serotonyl.ru/ruby-arcade/internal/players"
	"serotonyl.ru/ruby-arcade/internal/session"
)

// steady никогда не срывается и ничего не находит.
type steady struct{}

func (steady) Float64() float64 { return 0.99 }

type collector struct {
	mu     sync.Mutex
	events []session.Event
}

func (c *collector) Emit(e session.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *collector) settled() []session.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []session.Event
	for _, e := range c.events {
		if e.Type == session.EventSessionSettled {
			out = append(out, e)
		}
	}
	return out
}

type noopClock struct{}

type noopStopper struct{}

func (noopStopper) Stop() bool { return true }

func (noopClock) AfterFunc(time.Duration, func()) session.Stopper { return noopStopper{} }

func newService(t *testing.T) (*Service, *ledger.Memory, *collector) {
	t.Helper()
	l := ledger.NewMemory()
	sink := &collector{}
	svc := NewService(Deps{
		Ledger:  l,
		Players: players.NewService(players.NewMemoryStore()),
		Clock:   noopClock{},
		Sink:    sink,
		Source:  func(string) climb.Source { return steady{} },
	})
	return svc, l, sink
}

func TestService_OneGamePerPlayer(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)

	play, err := svc.StartGame(ctx, "u1", "")
	require.NoError(t, err)
	assert.Equal(t, "climb", play.Game.ID)

	_, err = svc.StartGame(ctx, "u1", "tower")
	assert.ErrorIs(t, err, common.ErrGameInProgress)

	_, err = svc.StartGame(ctx, "u2", "nope")
	assert.ErrorIs(t, err, common.ErrUnknownGame)

	_, err = svc.Current("u2")
	assert.ErrorIs(t, err, common.ErrNoActiveGame)
}

func TestService_ClimbToTopCreditsReward(t *testing.T) {
	ctx := context.Background()
	svc, l, sink := newService(t)

	play, err := svc.StartGame(ctx, "u1", "climb")
	require.NoError(t, err)

	var res climb.StepResult
	for i := 0; i < play.Game.Rules.Height; i++ {
		res, _, err = svc.Step(ctx, "u1")
		require.NoError(t, err)
	}
	require.True(t, res.Finished)
	assert.Equal(t, session.Won, res.Outcome)

	_, err = svc.Current("u1")
	assert.ErrorIs(t, err, common.ErrNoActiveGame)

	bal, err := l.ReadBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(play.Game.Rules.Height), bal)
	assert.Len(t, sink.settled(), 1)

	// После финиша можно начать новую игру
	_, err = svc.StartGame(ctx, "u1", "climb")
	assert.NoError(t, err)
}

func TestService_StopAndBet(t *testing.T) {
	ctx := context.Background()
	svc, l, _ := newService(t)
	_, err := l.AdjustBalance(ctx, "u1", 30, "")
	require.NoError(t, err)
	_, err = svc.GrantPowerup(ctx, "u1", ledger.Betting, 1, "тест")
	require.NoError(t, err)

	_, err = svc.StartGame(ctx, "u1", "climb")
	require.NoError(t, err)

	arm, err := svc.ArmPowerup(ctx, "u1", ledger.Betting)
	require.NoError(t, err)
	assert.Equal(t, int64(30), arm.StakeMax)
	require.NoError(t, svc.CommitStake(ctx, "u1", 10))

	for i := 0; i < 3; i++ {
		_, _, err = svc.Step(ctx, "u1")
		require.NoError(t, err)
	}
	st, err := svc.Stop(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, st.Forfeited)
	assert.Equal(t, int64(0), st.Reward)

	bal, _ := l.ReadBalance(ctx, "u1")
	assert.Equal(t, int64(20), bal)
}

func TestService_CancelStakeReturnsPowerup(t *testing.T) {
	ctx := context.Background()
	svc, l, _ := newService(t)
	_, err := l.AdjustBalance(ctx, "u1", 5, "")
	require.NoError(t, err)
	_, err = svc.GrantPowerup(ctx, "u1", ledger.Betting, 1, "")
	require.NoError(t, err)

	_, err = svc.StartGame(ctx, "u1", "")
	require.NoError(t, err)
	_, err = svc.ArmPowerup(ctx, "u1", ledger.Betting)
	require.NoError(t, err)
	require.NoError(t, svc.CancelStake(ctx, "u1"))

	counts, _ := l.ReadPowerupCounts(ctx, "u1")
	assert.Equal(t, int64(1), counts[ledger.Betting])
}

func TestService_EndGameAndReap(t *testing.T) {
	ctx := context.Background()
	svc, l, sink := newService(t)

	_, err := svc.StartGame(ctx, "u1", "")
	require.NoError(t, err)
	_, _, err = svc.Step(ctx, "u1")
	require.NoError(t, err)
	svc.EndGame(ctx, "u1")
	svc.EndGame(ctx, "u1")

	bal, _ := l.ReadBalance(ctx, "u1")
	assert.Equal(t, int64(1), bal)
	assert.Len(t, sink.settled(), 1)

	_, err = svc.StartGame(ctx, "u2", "")
	require.NoError(t, err)
	assert.Equal(t, 0, svc.ReapIdle(ctx, time.Hour))

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	assert.Equal(t, 1, svc.ReapIdle(ctx, time.Hour))
	assert.Equal(t, 0, svc.Active())
}

func TestService_AdminGrants(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)

	_, err := svc.CreditRubies(ctx, "u1", 0, "")
	assert.ErrorIs(t, err, common.ErrInvalidAmount)
	_, err = svc.GrantPowerup(ctx, "u1", "nope", 1, "")
	assert.ErrorIs(t, err, common.ErrUnknownPowerup)

	res, err := svc.CreditRubies(ctx, "u1", 50, "бонус")
	require.NoError(t, err)
	assert.Equal(t, int64(50), res.Value)

	snap, err := svc.Account(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(50), snap.Rubies)

	hist, err := svc.History(ctx, "u1", 5)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "бонус", hist[0].Description)
}

func TestService_DailyGift(t *testing.T) {
	ctx := context.Background()
	svc, l, _ := newService(t)

	a, err := svc.players.EnsurePlayer(ctx, 1, "a", "")
	require.NoError(t, err)
	b, err := svc.players.EnsurePlayer(ctx, 2, "b", "")
	require.NoError(t, err)

	n, err := svc.DailyGift(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, id := range []string{a.ID, b.ID} {
		counts, _ := l.ReadPowerupCounts(ctx, id)
		assert.Equal(t, int64(1), counts[ledger.Multiplier])
	}
}

func TestService_Shutdown(t *testing.T) {
	ctx := context.Background()
	svc, _, sink := newService(t)
	for _, u := range []string{"u1", "u2"} {
		_, err := svc.StartGame(ctx, u, "")
		require.NoError(t, err)
	}
	svc.Shutdown(ctx)
	assert.Equal(t, 0, svc.Active())
	// Без очков награда 0, но расчёт всё равно проходит
	assert.Len(t, sink.settled(), 2)
}

// slippery срывается на первом же шаге.
type slippery struct{}

func (slippery) Float64() float64 { return 0 }

// timerClock копит таймеры и запускает их по fire.
type timerClock struct {
	mu    sync.Mutex
	funcs []func()
}

func (c *timerClock) AfterFunc(_ time.Duration, f func()) session.Stopper {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.funcs = append(c.funcs, f)
	return noopStopper{}
}

func (c *timerClock) fire() {
	c.mu.Lock()
	funcs := c.funcs
	c.funcs = nil
	c.mu.Unlock()
	for _, f := range funcs {
		f()
	}
}

func TestService_FinishedGamesReleaseSubscriptions(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewMemory()
	clock := &timerClock{}
	var mu sync.Mutex
	now := time.Now()
	svc := NewService(Deps{
		Ledger: l,
		Clock:  clock,
		Source: func(userID string) climb.Source {
			if userID == "slip" {
				return slippery{}
			}
			return steady{}
		},
		Now: func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			return now
		},
	})

	// Вершина
	play, err := svc.StartGame(ctx, "top", "")
	require.NoError(t, err)
	for i := 0; i < play.Game.Rules.Height; i++ {
		_, _, err = svc.Step(ctx, "top")
		require.NoError(t, err)
	}

	// Срыв без жизни
	_, err = svc.StartGame(ctx, "slip", "")
	require.NoError(t, err)
	res, _, err := svc.Step(ctx, "slip")
	require.NoError(t, err)
	require.True(t, res.Finished)

	// Стоп
	_, err = svc.StartGame(ctx, "stop", "")
	require.NoError(t, err)
	_, _, err = svc.Step(ctx, "stop")
	require.NoError(t, err)
	_, err = svc.Stop(ctx, "stop")
	require.NoError(t, err)

	// Время вышло
	_, err = svc.StartGame(ctx, "late", "")
	require.NoError(t, err)
	require.Equal(t, 1, l.Subscribers())
	mu.Lock()
	now = now.Add(time.Hour)
	mu.Unlock()
	clock.fire()

	assert.Equal(t, 0, svc.Active())
	assert.Equal(t, 0, l.Subscribers())

	// Запись после конца игр никого не будит
	_, err = l.AdjustBalance(ctx, "top", 1, "")
	require.NoError(t, err)
	assert.Equal(t, 0, l.Subscribers())
}
