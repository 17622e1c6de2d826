// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package state

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/sustainable-computing-io/pmcore/internal/power"
)

type fakeTicks struct {
	now atomic.Uint64
}

func (f *fakeTicks) Now() uint64      { return f.now.Load() }
func (f *fakeTicks) advance(n uint64) { f.now.Add(n) }

type fakeVeto struct {
	limit atomic.Int64
}

func newFakeVeto(s power.State) *fakeVeto {
	v := &fakeVeto{}
	v.set(s)
	return v
}

func (v *fakeVeto) Veto() power.State { return power.State(v.limit.Load()) }
func (v *fakeVeto) set(s power.State) { v.limit.Store(int64(s)) }

// MockVetoer mocks the Vetoer interface
type MockVetoer struct {
	mock.Mock
}

func (m *MockVetoer) Veto() power.State {
	args := m.Called()
	return args.Get(0).(power.State)
}

func newTestMachine(t *testing.T, veto Vetoer, opts ...OptionFn) (*Machine, *fakeTicks) {
	t.Helper()
	ticks := &fakeTicks{}
	m, err := NewMachine(ticks, veto, opts...)
	require.NoError(t, err)
	return m, ticks
}

func TestNewMachine(t *testing.T) {
	tt := []struct {
		name    string
		opts    []OptionFn
		want    power.State
		wantErr error
	}{{
		name: "defaults",
		want: power.Normal,
	}, {
		name: "initial foreground",
		opts: []OptionFn{WithInitialState(power.Foreground)},
		want: power.Foreground,
	}, {
		name:    "zero slice",
		opts:    []OptionFn{WithTimeSlice(0)},
		wantErr: power.ErrInvalidArgument,
	}, {
		name:    "invalid initial state",
		opts:    []OptionFn{WithInitialState(power.State(12))},
		wantErr: ErrInvalidState,
	}}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			m, err := NewMachine(&fakeTicks{}, newFakeVeto(power.Sleep), tc.opts...)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, m.Current())
			assert.Equal(t, tc.want, m.Recommended())
		})
	}
}

func TestCheckStateIdlePolicy(t *testing.T) {
	veto := newFakeVeto(power.Sleep)
	m, ticks := newTestMachine(t, veto, WithTimeSlice(10))

	assert.Equal(t, power.Idle, m.CheckState(), "within the first slice")

	ticks.advance(9)
	assert.Equal(t, power.Idle, m.CheckState())

	ticks.advance(1)
	assert.Equal(t, power.Sleep, m.CheckState(), "a full slice without activity")
	assert.Equal(t, power.Sleep, m.Recommended())
	assert.Equal(t, power.Normal, m.Current(), "CheckState must not commit")
}

func TestCheckStateActivityLevels(t *testing.T) {
	veto := newFakeVeto(power.Sleep)
	m, ticks := newTestMachine(t, veto,
		WithTimeSlice(10),
		WithActivity(Activity{Memory: 1, NormalThreshold: 10, ForegroundThreshold: 30}),
	)

	require.NoError(t, m.RecordActivity(5))
	assert.Equal(t, power.Idle, m.CheckState())

	require.NoError(t, m.RecordActivity(5))
	assert.Equal(t, power.Normal, m.CheckState())

	for range 3 {
		require.NoError(t, m.RecordActivity(MaxPriority))
	}
	assert.Equal(t, power.Foreground, m.CheckState())

	// slice boundary folds 37 into the average: (0*1 + 37) / 2 = 18
	ticks.advance(10)
	require.NoError(t, m.RecordActivity(0))
	assert.Equal(t, power.Normal, m.CheckState())
	assert.Equal(t, uint32(18), m.Stats().Activity)

	// after a quiet slice the system may sleep regardless of the average
	ticks.advance(10)
	assert.Equal(t, power.Sleep, m.CheckState())
}

func TestActivityDecays(t *testing.T) {
	m, ticks := newTestMachine(t, newFakeVeto(power.Sleep),
		WithTimeSlice(10),
		WithActivity(Activity{Memory: 1, NormalThreshold: 10, ForegroundThreshold: 100}),
	)

	for range 8 {
		require.NoError(t, m.RecordActivity(MaxPriority))
	}
	ticks.advance(10)
	m.CheckState()
	assert.Equal(t, uint32(36), m.Stats().Activity)

	// three empty slices: 36 -> 18 -> 9 -> 4
	ticks.advance(30)
	m.CheckState()
	assert.Equal(t, uint32(4), m.Stats().Activity)
}

func TestRecordActivityPriority(t *testing.T) {
	m, _ := newTestMachine(t, newFakeVeto(power.Sleep))

	for _, p := range []int{0, 1, MaxPriority} {
		assert.NoError(t, m.RecordActivity(p))
	}
	for _, p := range []int{-1, MaxPriority + 1} {
		err := m.RecordActivity(p)
		assert.ErrorIs(t, err, ErrInvalidPriority)
		assert.True(t, errors.Is(err, power.ErrInvalidArgument))
	}
}

func TestCheckStateSleepVeto(t *testing.T) {
	tt := []struct {
		name  string
		limit power.State
	}{
		{"interactive domain suspended", power.Normal},
		{"ordinary domain suspended", power.Standby},
	}
	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			veto := newFakeVeto(tc.limit)
			m, ticks := newTestMachine(t, veto, WithTimeSlice(10))

			// ten seconds of 10ms ticks with no activity
			for range 1000 {
				ticks.advance(1)
				rec := m.CheckState()
				require.False(t, rec.DeeperThan(tc.limit), "recommended %s with limit %s", rec, tc.limit)
			}
			assert.Equal(t, tc.limit, m.CheckState())

			veto.set(power.Sleep)
			assert.Equal(t, power.Sleep, m.CheckState())
		})
	}
}

func TestChangeState(t *testing.T) {
	veto := newFakeVeto(power.Sleep)
	m, ticks := newTestMachine(t, veto)

	var events []string
	require.NoError(t, m.Register(Callback{
		Name: "uart",
		Prepare: func(next power.State) error {
			events = append(events, "uart prepare "+next.String())
			return nil
		},
		Notify: func(s power.State) { events = append(events, "uart notify "+s.String()) },
	}))
	require.NoError(t, m.Register(Callback{
		Name: "flash",
		Prepare: func(next power.State) error {
			events = append(events, "flash prepare "+next.String())
			return errors.New("busy")
		},
		Notify: func(s power.State) { events = append(events, "flash notify "+s.String()) },
	}))
	require.NoError(t, m.Register(Callback{
		Name:   "gpio",
		Notify: func(s power.State) { events = append(events, "gpio notify "+s.String()) },
	}))

	ticks.advance(5)
	require.NoError(t, m.ChangeState(power.Standby), "a failing prepare does not block")
	assert.Equal(t, power.Standby, m.Current())
	assert.Equal(t, []string{
		"uart prepare STANDBY",
		"flash prepare STANDBY",
		"uart notify STANDBY",
		"flash notify STANDBY",
		"gpio notify STANDBY",
	}, events)

	events = nil
	require.NoError(t, m.ChangeState(power.Standby))
	assert.Empty(t, events, "same state is a no-op")

	ticks.advance(7)
	require.NoError(t, m.ChangeState(power.Normal))

	stats := m.Stats()
	assert.Equal(t, uint64(5), stats.Ticks[power.Normal])
	assert.Equal(t, uint64(7), stats.Ticks[power.Standby])
	assert.Equal(t, uint64(2), stats.Transitions[power.Normal])
	assert.Equal(t, uint64(1), stats.Transitions[power.Standby])
	assert.Equal(t, uint64(2), stats.PrepareFailures)

	ticks.advance(3)
	assert.Equal(t, uint64(8), m.Stats().Ticks[power.Normal], "current stay is included")
}

func TestChangeStateVetoed(t *testing.T) {
	veto := &MockVetoer{}
	veto.On("Veto").Return(power.Standby)
	m, _ := newTestMachine(t, veto)

	notified := false
	require.NoError(t, m.Register(Callback{Name: "x", Notify: func(power.State) { notified = true }}))

	err := m.ChangeState(power.Sleep)
	assert.ErrorIs(t, err, ErrVetoed)
	assert.True(t, errors.Is(err, power.ErrInvariant))
	assert.Equal(t, power.Normal, m.Current())
	assert.False(t, notified)

	assert.NoError(t, m.ChangeState(power.Standby))
	assert.NoError(t, m.ChangeState(power.Foreground), "shallower states are always allowed")
	veto.AssertExpectations(t)
}

func TestChangeStateVetoedDuringPrepare(t *testing.T) {
	veto := newFakeVeto(power.Sleep)
	m, _ := newTestMachine(t, veto)

	require.NoError(t, m.Register(Callback{
		Name: "radio-driver",
		Prepare: func(power.State) error {
			veto.set(power.Standby)
			return nil
		},
	}))

	assert.ErrorIs(t, m.ChangeState(power.Sleep), ErrVetoed)
	assert.Equal(t, power.Normal, m.Current())
}

func TestChangeStateInvalid(t *testing.T) {
	m, _ := newTestMachine(t, newFakeVeto(power.Sleep))
	assert.ErrorIs(t, m.ChangeState(power.State(-1)), ErrInvalidState)
}

func TestRegisterCallbacks(t *testing.T) {
	m, _ := newTestMachine(t, newFakeVeto(power.Sleep))

	assert.ErrorIs(t, m.Register(Callback{}), ErrInvalidCallback)
	require.NoError(t, m.Register(Callback{Name: "uart"}))
	assert.ErrorIs(t, m.Register(Callback{Name: "uart"}), ErrDuplicateCallback)

	require.NoError(t, m.Unregister("uart"))
	assert.ErrorIs(t, m.Unregister("uart"), ErrUnknownCallback)
	require.NoError(t, m.Register(Callback{Name: "uart"}))
}
