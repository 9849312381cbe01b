package climb

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/ruby-arcade/internal/ledger"
	"serotonyl.ru/ruby-arcade/internal/session"
)

// script отдаёт заранее заданные числа, после них 0.99.
type script struct {
	mu     sync.Mutex
	values []float64
}

func (s *script) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.values) == 0 {
		return 0.99
	}
	v := s.values[0]
	s.values = s.values[1:]
	return v
}

type pendingTimer struct {
	f       func()
	stopped bool
}

func (t *pendingTimer) Stop() bool { t.stopped = true; return true }

// fireClock копит таймеры и запускает их по Fire.
type fireClock struct {
	mu     sync.Mutex
	timers []*pendingTimer
}

func (c *fireClock) AfterFunc(_ time.Duration, f func()) session.Stopper {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &pendingTimer{f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fireClock) Fire() {
	c.mu.Lock()
	timers := c.timers
	c.timers = nil
	c.mu.Unlock()
	for _, t := range timers {
		if !t.stopped {
			t.f()
		}
	}
}

var testRules = Rules{Height: 4, Milestone: 2, PointsPerStep: 5, TimeLimit: time.Minute, PickupChance: 0.1}

func newRun(t *testing.T, l *ledger.Memory, values []float64, now func() time.Time) (*Run, *fireClock) {
	t.Helper()
	clock := &fireClock{}
	cfg := session.Config{
		GameID:           "climb",
		MultiplierFactor: decimal.NewFromInt(2),
		ExtraLifeRestore: 30,
		Betting: session.BettingConfig{
			PresetCap:        49,
			PayoutMultiplier: decimal.NewFromInt(5),
		},
		Effects: map[ledger.PowerupKind]session.TimedEffect{
			ledger.SafetyNet: {Param: ParamSlipChance, Factor: 0, Duration: time.Second},
		},
		Params: map[string]float64{ParamSlipChance: 0.5, ParamGravity: 1},
	}
	sess := session.New(session.Deps{Ledger: l, Clock: clock}, cfg, "u1")
	require.NoError(t, sess.Start(context.Background()))
	r := New(sess, testRules, Options{Source: &script{values: values}, Now: now})
	r.Start()
	return r, clock
}

func TestRun_ReachTopWins(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewMemory()
	r, _ := newRun(t, l, nil, nil)

	var last StepResult
	for i := 0; i < testRules.Height; i++ {
		var err error
		last, err = r.Step(ctx)
		require.NoError(t, err)
	}
	assert.True(t, last.Finished)
	assert.Equal(t, session.Won, last.Outcome)
	require.NotNil(t, last.Settlement)
	assert.Equal(t, int64(20), last.Settlement.Reward)

	bal, _ := l.ReadBalance(ctx, "u1")
	assert.Equal(t, int64(20), bal)

	_, err := r.Step(ctx)
	assert.ErrorIs(t, err, session.ErrSessionNotActive)
}

func TestRun_SlipWithoutLifeEndsClimb(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewMemory()
	// шаг 1: без срыва, без находки; шаг 2: срыв
	r, _ := newRun(t, l, []float64{0.9, 0.9, 0.1}, nil)

	res, err := r.Step(ctx)
	require.NoError(t, err)
	assert.False(t, res.Finished)

	res, err = r.Step(ctx)
	require.NoError(t, err)
	assert.True(t, res.Slipped)
	assert.True(t, res.Finished)
	assert.Equal(t, session.Lost, res.Outcome)
	assert.Equal(t, int64(5), res.Score)

	bal, _ := l.ReadBalance(ctx, "u1")
	assert.Equal(t, int64(5), bal)
}

func TestRun_ExtraLifeSavesAndExtendsTime(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewMemory()
	_, err := l.AdjustPowerupCount(ctx, "u1", ledger.ExtraLife, 1, "")
	require.NoError(t, err)

	start := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	now := start
	r, _ := newRun(t, l, []float64{0.1, 0.9}, func() time.Time { return now })

	_, err = r.Session().ArmPowerup(ctx, ledger.ExtraLife)
	require.NoError(t, err)

	now = start.Add(50 * time.Second)
	res, err := r.Step(ctx)
	require.NoError(t, err)
	assert.True(t, res.Slipped)
	assert.True(t, res.SavedByLife)
	assert.False(t, res.Finished)
	assert.Equal(t, now.Add(30*time.Second), r.Deadline())
}

func TestRun_SafetyNetPreventsSlip(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewMemory()
	_, err := l.AdjustPowerupCount(ctx, "u1", ledger.SafetyNet, 1, "")
	require.NoError(t, err)
	r, _ := newRun(t, l, []float64{0.0, 0.9}, nil)

	_, err = r.Session().ArmPowerup(ctx, ledger.SafetyNet)
	require.NoError(t, err)

	res, err := r.Step(ctx)
	require.NoError(t, err)
	assert.False(t, res.Slipped)
}

func TestRun_PickupGrantsPowerup(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewMemory()
	// без срыва, находка, вид с индексом 1 (extra_life)
	r, _ := newRun(t, l, []float64{0.9, 0.05, 0.25}, nil)

	res, err := r.Step(ctx)
	require.NoError(t, err)
	assert.Equal(t, ledger.ExtraLife, res.Pickup)

	counts, _ := l.ReadPowerupCounts(ctx, "u1")
	assert.Equal(t, int64(1), counts[ledger.ExtraLife])
}

func TestRun_PickupFailureLogged(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewMemory()
	r, _ := newRun(t, l, []float64{0.9, 0.05, 0.0}, nil)
	l.SetFault(func(op string) error {
		if op == "adjust_powerup" {
			return ledger.ErrUnavailable
		}
		return nil
	})

	res, err := r.Step(ctx)
	require.NoError(t, err)
	assert.Equal(t, ledger.PowerupKind(""), res.Pickup)
	assert.Equal(t, 1, res.Step)
}

func TestRun_WagerMilestone(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewMemory()
	_, err := l.AdjustBalance(ctx, "u1", 10, "")
	require.NoError(t, err)
	_, err = l.AdjustPowerupCount(ctx, "u1", ledger.Betting, 1, "")
	require.NoError(t, err)
	r, _ := newRun(t, l, nil, nil)

	_, err = r.Session().ArmPowerup(ctx, ledger.Betting)
	require.NoError(t, err)
	require.NoError(t, r.Session().CommitStake(ctx, 10))

	_, err = r.Step(ctx)
	require.NoError(t, err)
	res, err := r.Step(ctx)
	require.NoError(t, err)
	assert.True(t, res.WagerWon)

	st, err := r.Stop(ctx)
	require.NoError(t, err)
	// 10 очков + 10*5 выплата
	assert.Equal(t, int64(60), st.Reward)
	bal, _ := l.ReadBalance(ctx, "u1")
	assert.Equal(t, int64(60), bal)
}

func TestRun_TimeoutSettles(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewMemory()
	start := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	now := start
	r, clock := newRun(t, l, nil, func() time.Time { return now })

	var got *session.Settlement
	r.onTimeout = func(st session.Settlement) { got = &st }

	_, err := r.Step(ctx)
	require.NoError(t, err)

	now = start.Add(time.Minute)
	clock.Fire()
	assert.True(t, r.Finished())
	require.NotNil(t, got)
	assert.Equal(t, int64(5), got.Reward)
}

func TestRulesValidate(t *testing.T) {
	assert.NoError(t, testRules.Validate())
	bad := testRules
	bad.Milestone = 10
	assert.Error(t, bad.Validate())
}
