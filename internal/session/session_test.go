package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/ruby-arcade/internal/common"
	"serotonyl.ru/ruby-arcade/internal/ledger"
)

// manualClock срабатывает только по Advance.
type manualClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*manualTimer
	// ignoreStop имитирует таймер, успевший сработать одновременно с отменой
	ignoreStop bool
}

type manualTimer struct {
	clock   *manualClock
	at      time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Stopper {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{clock: c, at: c.now + d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.clock.ignoreStop || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	var due []*manualTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && t.at <= c.now {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.f()
	}
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) count(t EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func testConfig() Config {
	return Config{
		GameID:           "climb",
		MultiplierFactor: decimal.NewFromInt(2),
		ExtraLifeRestore: 30,
		Betting: BettingConfig{
			PresetCap:        49,
			PayoutMultiplier: decimal.NewFromInt(5),
			PromptText:       "Сколько ставите?",
			ForfeitScope:     ForfeitEntireReward,
		},
		Effects: map[ledger.PowerupKind]TimedEffect{
			ledger.SlowGravity: {Param: "gravity", Factor: 0.5, Duration: 6 * time.Second},
			ledger.SafetyNet:   {Param: "slip_chance", Factor: 0, Duration: 10 * time.Second},
		},
		Params: map[string]float64{"gravity": 1, "slip_chance": 0.2},
	}
}

type fixture struct {
	ctx    context.Context
	ledger *ledger.Memory
	clock  *manualClock
	events *recorder
	s      *Session
}

func newFixture(t *testing.T, balance int64, powerups map[ledger.PowerupKind]int64) *fixture {
	t.Helper()
	ctx := context.Background()
	l := ledger.NewMemory()
	if balance > 0 {
		_, err := l.AdjustBalance(ctx, "u1", balance, "seed")
		require.NoError(t, err)
	}
	for k, n := range powerups {
		_, err := l.AdjustPowerupCount(ctx, "u1", k, n, "seed")
		require.NoError(t, err)
	}
	f := &fixture{ctx: ctx, ledger: l, clock: &manualClock{}, events: &recorder{}}
	f.s = New(Deps{Ledger: l, Sink: f.events, Clock: f.clock}, testConfig(), "u1")
	require.NoError(t, f.s.Start(ctx))
	return f
}

func (f *fixture) balance(t *testing.T) int64 {
	b, err := f.ledger.ReadBalance(f.ctx, "u1")
	require.NoError(t, err)
	return b
}

func (f *fixture) powerups(t *testing.T, kind ledger.PowerupKind) int64 {
	c, err := f.ledger.ReadPowerupCounts(f.ctx, "u1")
	require.NoError(t, err)
	return c[kind]
}

func TestSession_MultiplierReward(t *testing.T) {
	f := newFixture(t, 10, map[ledger.PowerupKind]int64{ledger.Multiplier: 1})

	res, err := f.s.ArmPowerup(f.ctx, ledger.Multiplier)
	require.NoError(t, err)
	assert.Equal(t, ledger.Multiplier, res.Kind)

	require.NoError(t, f.s.ReportOutcome(f.ctx, Won, 7))
	st, err := f.s.Settle(f.ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(14), st.Reward)
	assert.Equal(t, int64(24), f.balance(t))
	assert.Equal(t, Settled, f.s.State())
	hs, _ := f.ledger.ReadHighScore(f.ctx, "u1", "climb")
	assert.Equal(t, int64(7), hs)
}

func TestSession_LostWagerForfeitsEverything(t *testing.T) {
	f := newFixture(t, 5, map[ledger.PowerupKind]int64{ledger.Betting: 1})

	res, err := f.s.ArmPowerup(f.ctx, ledger.Betting)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.StakeMin)
	assert.Equal(t, int64(5), res.StakeMax)

	require.NoError(t, f.s.CommitStake(f.ctx, 5))
	assert.Equal(t, int64(0), f.balance(t))

	require.NoError(t, f.s.ReportOutcome(f.ctx, Lost, 12))
	st, err := f.s.Settle(f.ctx)
	require.NoError(t, err)

	assert.True(t, st.Forfeited)
	assert.Equal(t, int64(0), st.Reward)
	assert.Equal(t, int64(0), f.balance(t))
}

func TestSession_StakeOnlyForfeitKeepsReward(t *testing.T) {
	f := newFixture(t, 20, map[ledger.PowerupKind]int64{ledger.Betting: 1})
	f.s.cfg.Betting.ForfeitScope = ForfeitStakeOnly

	_, err := f.s.ArmPowerup(f.ctx, ledger.Betting)
	require.NoError(t, err)
	require.NoError(t, f.s.CommitStake(f.ctx, 10))
	require.NoError(t, f.s.ReportOutcome(f.ctx, Lost, 6))

	st, err := f.s.Settle(f.ctx)
	require.NoError(t, err)
	assert.False(t, st.Forfeited)
	assert.Equal(t, int64(6), st.Reward)
	assert.Equal(t, int64(16), f.balance(t))
}

func TestSession_WonWagerPaysStakeMultiple(t *testing.T) {
	f := newFixture(t, 30, map[ledger.PowerupKind]int64{ledger.Betting: 1})

	_, err := f.s.ArmPowerup(f.ctx, ledger.Betting)
	require.NoError(t, err)
	require.NoError(t, f.s.CommitStake(f.ctx, 10))
	assert.Equal(t, int64(20), f.balance(t))

	assert.True(t, f.s.ReachMilestone())
	require.NoError(t, f.s.ReportOutcome(f.ctx, Lost, 8))

	st, err := f.s.Settle(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(50), st.Payout)
	assert.Equal(t, int64(58), st.Reward)
	assert.Equal(t, int64(78), f.balance(t))
}

func TestSession_SettleIsIdempotent(t *testing.T) {
	f := newFixture(t, 0, nil)
	_, err := f.s.AddScore(9)
	require.NoError(t, err)
	require.NoError(t, f.s.ReportOutcome(f.ctx, Won, 9))

	var wg sync.WaitGroup
	results := make([]Settlement, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = f.s.Settle(f.ctx)
		}(i)
	}
	wg.Wait()
	_, err = f.s.Settle(f.ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(9), f.balance(t))
	for _, st := range results {
		assert.Equal(t, int64(9), st.Reward)
	}
	assert.Equal(t, 1, f.events.count(EventSessionSettled))
}

func TestSession_SettleBeforeFinishRejected(t *testing.T) {
	f := newFixture(t, 0, nil)
	_, err := f.s.Settle(f.ctx)
	assert.ErrorIs(t, err, ErrSessionNotFinished)
}

func TestSession_SettleFailureNotRetried(t *testing.T) {
	f := newFixture(t, 0, nil)
	require.NoError(t, f.s.ReportOutcome(f.ctx, Won, 4))

	f.ledger.SetFault(func(op string) error {
		if op == "adjust_balance" {
			return ledger.ErrUnavailable
		}
		return nil
	})
	st, err := f.s.Settle(f.ctx)
	require.NoError(t, err)
	assert.ErrorIs(t, st.BalanceErr, ledger.ErrUnavailable)
	assert.Equal(t, Settled, f.s.State())

	f.ledger.SetFault(nil)
	_, _ = f.s.Settle(f.ctx)
	assert.Equal(t, int64(0), f.balance(t))
}

func TestSession_SecondArmAlwaysRejected(t *testing.T) {
	for _, second := range ledger.Kinds {
		t.Run(string(second), func(t *testing.T) {
			stock := map[ledger.PowerupKind]int64{}
			for _, k := range ledger.Kinds {
				stock[k] = 2
			}
			f := newFixture(t, 10, stock)

			_, err := f.s.ArmPowerup(f.ctx, ledger.ExtraLife)
			require.NoError(t, err)

			_, err = f.s.ArmPowerup(f.ctx, second)
			assert.ErrorIs(t, err, ErrPowerupAlreadyUsed)
			want := int64(2)
			if second == ledger.ExtraLife {
				want = 1
			}
			assert.Equal(t, want, f.powerups(t, second))
		})
	}
}

func TestSession_ArmWithoutStockLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t, 10, nil)
	_, err := f.s.ArmPowerup(f.ctx, ledger.Multiplier)
	assert.ErrorIs(t, err, common.ErrInsufficientPowerups)
	assert.Equal(t, ledger.PowerupKind(""), f.s.Armed())
	assert.True(t, f.s.Multiplier().Equal(decimal.NewFromInt(1)))
}

func TestSession_CancelStakeRefunds(t *testing.T) {
	f := newFixture(t, 10, map[ledger.PowerupKind]int64{ledger.Betting: 1, ledger.Multiplier: 1})

	_, err := f.s.ArmPowerup(f.ctx, ledger.Betting)
	require.NoError(t, err)
	assert.Equal(t, int64(0), f.powerups(t, ledger.Betting))

	require.NoError(t, f.s.CancelStake(f.ctx))
	assert.Equal(t, int64(1), f.powerups(t, ledger.Betting))
	assert.Equal(t, int64(10), f.balance(t))

	// После отмены можно взять другой усилитель
	_, err = f.s.ArmPowerup(f.ctx, ledger.Multiplier)
	require.NoError(t, err)
	assert.Equal(t, 1, f.events.count(EventPowerupRefunded))
}

func TestSession_ZeroBalanceRefundsBetting(t *testing.T) {
	f := newFixture(t, 0, map[ledger.PowerupKind]int64{ledger.Betting: 1})

	_, err := f.s.ArmPowerup(f.ctx, ledger.Betting)
	assert.ErrorIs(t, err, common.ErrInsufficientFunds)
	assert.Equal(t, int64(1), f.powerups(t, ledger.Betting))
	assert.False(t, f.s.StakeOpen())
	assert.Equal(t, ledger.PowerupKind(""), f.s.Armed())
}

func TestSession_CommitRereadsLiveBalance(t *testing.T) {
	f := newFixture(t, 10, map[ledger.PowerupKind]int64{ledger.Betting: 1})

	_, err := f.s.ArmPowerup(f.ctx, ledger.Betting)
	require.NoError(t, err)

	// Баланс потрачен в другой вкладке
	_, err = f.ledger.AdjustBalance(f.ctx, "u1", -8, "другая вкладка")
	require.NoError(t, err)

	err = f.s.CommitStake(f.ctx, 5)
	assert.ErrorIs(t, err, common.ErrInsufficientFunds)
	assert.Equal(t, int64(2), f.balance(t))
	assert.True(t, f.s.StakeOpen())

	require.NoError(t, f.s.CommitStake(f.ctx, 2))
	assert.Equal(t, int64(0), f.balance(t))
	assert.Equal(t, &Wager{Amount: 2, Placed: true}, f.s.Wager())
}

func TestSession_InvalidStake(t *testing.T) {
	f := newFixture(t, 100, map[ledger.PowerupKind]int64{ledger.Betting: 1})
	_, err := f.s.ArmPowerup(f.ctx, ledger.Betting)
	require.NoError(t, err)

	assert.ErrorIs(t, f.s.CommitStake(f.ctx, 0), ErrInvalidStake)
	assert.ErrorIs(t, f.s.CommitStake(f.ctx, 50), ErrInvalidStake)
	assert.Equal(t, int64(100), f.balance(t))
}

func TestSession_TimedEffectRestores(t *testing.T) {
	f := newFixture(t, 0, map[ledger.PowerupKind]int64{ledger.SlowGravity: 1})

	_, err := f.s.ArmPowerup(f.ctx, ledger.SlowGravity)
	require.NoError(t, err)
	assert.Equal(t, 0.5, f.s.Param("gravity"))

	f.clock.Advance(5 * time.Second)
	assert.Equal(t, 0.5, f.s.Param("gravity"))
	f.clock.Advance(time.Second)
	assert.Equal(t, 1.0, f.s.Param("gravity"))
	assert.Equal(t, 1, f.events.count(EventEffectExpired))
}

func TestSession_RestoreAfterTeardownIsNoop(t *testing.T) {
	f := newFixture(t, 0, map[ledger.PowerupKind]int64{ledger.SlowGravity: 1})
	f.clock.ignoreStop = true

	_, err := f.s.ArmPowerup(f.ctx, ledger.SlowGravity)
	require.NoError(t, err)
	f.s.Teardown(f.ctx)

	assert.NotPanics(t, func() { f.clock.Advance(6 * time.Second) })
	assert.Equal(t, 0.5, f.s.Param("gravity"))
	assert.Equal(t, 0, f.events.count(EventEffectExpired))
}

func TestSession_RestoreGuardWithoutTimerSet(t *testing.T) {
	f := newFixture(t, 0, nil)
	f.s.Teardown(f.ctx)
	assert.NotPanics(t, func() { f.s.restoreEffect(ledger.SafetyNet, "slip_chance", 0.9) })
	assert.Equal(t, 0.2, f.s.Param("slip_chance"))
}

func TestSession_ExtraLifeOneShot(t *testing.T) {
	f := newFixture(t, 0, map[ledger.PowerupKind]int64{ledger.ExtraLife: 1})
	_, err := f.s.ArmPowerup(f.ctx, ledger.ExtraLife)
	require.NoError(t, err)

	restore, ok := f.s.UseExtraLife()
	assert.True(t, ok)
	assert.Equal(t, int64(30), restore)

	_, ok = f.s.UseExtraLife()
	assert.False(t, ok)
}

func TestSession_TeardownActiveSettlesAsLost(t *testing.T) {
	f := newFixture(t, 0, nil)
	_, err := f.s.AddScore(3)
	require.NoError(t, err)

	f.s.Teardown(f.ctx)
	f.s.Teardown(f.ctx)

	assert.Equal(t, Settled, f.s.State())
	assert.Equal(t, int64(3), f.balance(t))
	assert.Equal(t, 0, f.ledger.Subscribers())
	assert.Equal(t, 1, f.events.count(EventSessionSettled))
}

func TestSession_TeardownWithOpenStakeRefunds(t *testing.T) {
	f := newFixture(t, 10, map[ledger.PowerupKind]int64{ledger.Betting: 1})
	_, err := f.s.ArmPowerup(f.ctx, ledger.Betting)
	require.NoError(t, err)

	f.s.Teardown(f.ctx)
	assert.Equal(t, int64(1), f.powerups(t, ledger.Betting))
	assert.Equal(t, int64(10), f.balance(t))
}

func TestSession_SettleReleasesSubscription(t *testing.T) {
	for _, outcome := range []Outcome{Won, Lost} {
		t.Run(outcome.String(), func(t *testing.T) {
			f := newFixture(t, 0, nil)
			require.Equal(t, 1, f.ledger.Subscribers())

			require.NoError(t, f.s.ReportOutcome(f.ctx, outcome, 4))
			_, err := f.s.Settle(f.ctx)
			require.NoError(t, err)
			assert.Equal(t, 0, f.ledger.Subscribers())

			// Teardown после расчёта ничего не ломает
			f.s.Teardown(f.ctx)
			assert.Equal(t, 0, f.ledger.Subscribers())
			assert.Equal(t, 1, f.events.count(EventSessionSettled))
		})
	}
}

func TestSession_TeardownBeforeStartNeverSettles(t *testing.T) {
	l := ledger.NewMemory()
	events := &recorder{}
	s := New(Deps{Ledger: l, Sink: events, Clock: &manualClock{}}, testConfig(), "u1")

	s.Teardown(context.Background())
	assert.Equal(t, Settled, s.State())

	st, err := s.Settle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), st.Reward)
	assert.Equal(t, 0, events.count(EventSessionSettled))
	assert.Equal(t, 0, l.Subscribers())
}

func TestSession_RejectedAfterFinish(t *testing.T) {
	f := newFixture(t, 0, map[ledger.PowerupKind]int64{ledger.Multiplier: 1})
	require.NoError(t, f.s.ReportOutcome(f.ctx, Lost, 0))

	_, err := f.s.ArmPowerup(f.ctx, ledger.Multiplier)
	assert.ErrorIs(t, err, ErrSessionNotActive)
	_, err = f.s.AddScore(1)
	assert.ErrorIs(t, err, ErrSessionNotActive)
	assert.ErrorIs(t, f.s.ReportOutcome(f.ctx, Won, 1), ErrSessionNotActive)
	assert.Equal(t, int64(1), f.powerups(t, ledger.Multiplier))
}

func TestComputeReward(t *testing.T) {
	cfg := testConfig()
	half := decimal.RequireFromString("1.5")

	tests := []struct {
		name       string
		outcome    Outcome
		raw        int64
		multiplier decimal.Decimal
		wager      *Wager
		want       int64
	}{
		{name: "без усилителя", outcome: Won, raw: 7, multiplier: decimal.NewFromInt(1), want: 7},
		{name: "дробный множитель округляется вниз", outcome: Won, raw: 7, multiplier: half, want: 10},
		{name: "выигранная игра закрывает ставку", outcome: Won, raw: 4, multiplier: decimal.NewFromInt(1),
			wager: &Wager{Amount: 3, Placed: true}, want: 19},
		{name: "проигрыш до отметки", outcome: Lost, raw: 40, multiplier: decimal.NewFromInt(2),
			wager: &Wager{Amount: 3, Placed: true}, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := computeReward(cfg, tt.outcome, tt.raw, tt.multiplier, tt.wager)
			assert.Equal(t, tt.want, st.Reward)
		})
	}
}
