// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/sustainable-computing-io/pmcore/config"
	"github.com/sustainable-computing-io/pmcore/internal/domain"
	"github.com/sustainable-computing-io/pmcore/internal/pm"
	"github.com/sustainable-computing-io/pmcore/internal/power"
	"github.com/sustainable-computing-io/pmcore/internal/sleep"
)

// MockPM mocks the PM data provider
type MockPM struct {
	mock.Mock
	dataCh chan struct{}
}

func NewMockPM() *MockPM {
	return &MockPM{dataCh: make(chan struct{}, 1)}
}

var _ PMDataProvider = (*MockPM)(nil)

func (m *MockPM) Snapshot() (*pm.Snapshot, error) {
	args := m.Called()
	if s := args.Get(0); s != nil {
		return s.(*pm.Snapshot), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockPM) DataChannel() <-chan struct{} {
	return m.dataCh
}

func (m *MockPM) TickPeriod() time.Duration {
	return 10 * time.Millisecond
}

func (m *MockPM) TriggerUpdate() {
	select {
	case m.dataCh <- struct{}{}:
	default:
	}
}

func testSnapshot() *pm.Snapshot {
	s := pm.NewSnapshot()
	s.Timestamp = time.Now()
	s.Tick = 1510
	s.CompensatedTicks = 1499
	s.State.Current = power.Standby
	s.State.Recommended = power.Sleep
	s.State.Ticks[power.Normal] = 10
	s.State.Ticks[power.Sleep] = 1500
	s.State.Transitions[power.Sleep] = 1
	s.Domains = []domain.Info{
		{Name: "IDLE", Index: 0, Interactive: true},
		{Name: "radio", Index: 1, SuspendCount: 2},
	}
	s.Suspended = []string{"radio"}
	s.Timers = pm.Timers{Armed: 1, Expired: 3, PoolFree: 15, Next: 250 * time.Millisecond, HasNext: true}
	s.Sleep = sleep.Stats{
		Outcomes:         map[sleep.Outcome]uint64{sleep.Slept: 1, sleep.AbortVetoed: 4},
		Wakeups:          map[power.WakeReason]uint64{power.WakeTimer: 1},
		CompensatedTicks: 1499,
	}
	return s
}

func newReadyCollector(t *testing.T, level config.Level) (*PMCollector, *MockPM) {
	t.Helper()
	m := NewMockPM()
	c := NewPMCollector(m, slog.Default(), level)
	m.TriggerUpdate()
	require.Eventually(t, c.isReady, time.Second, time.Millisecond)
	return c, m
}

func TestPMCollectorNotReady(t *testing.T) {
	m := NewMockPM()
	c := NewPMCollector(m, slog.Default(), config.MetricsLevelAll)

	assert.Zero(t, testutil.CollectAndCount(c))
	m.AssertNotCalled(t, "Snapshot")
}

func TestPMCollectorMetrics(t *testing.T) {
	c, m := newReadyCollector(t, config.MetricsLevelAll)
	m.On("Snapshot").Return(testSnapshot(), nil)

	t.Run("state", func(t *testing.T) {
		expected := `
# HELP pm_state_current Committed power state (1 for the current state)
# TYPE pm_state_current gauge
pm_state_current{state="FOREGROUND"} 0
pm_state_current{state="IDLE"} 0
pm_state_current{state="NORMAL"} 0
pm_state_current{state="SLEEP"} 0
pm_state_current{state="STANDBY"} 1
# HELP pm_state_seconds_total Time spent in each power state in seconds
# TYPE pm_state_seconds_total counter
pm_state_seconds_total{state="FOREGROUND"} 0
pm_state_seconds_total{state="IDLE"} 0
pm_state_seconds_total{state="NORMAL"} 0.1
pm_state_seconds_total{state="SLEEP"} 15
pm_state_seconds_total{state="STANDBY"} 0
# HELP pm_ticks_total OS ticks since boot, including compensated ones
# TYPE pm_ticks_total counter
pm_ticks_total 1510
`
		assert.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected),
			"pm_state_current", "pm_state_seconds_total", "pm_ticks_total"))
	})

	t.Run("domains", func(t *testing.T) {
		expected := `
# HELP pm_domain_suspend_count Suspend count of each registered domain
# TYPE pm_domain_suspend_count gauge
pm_domain_suspend_count{domain="IDLE",interactive="true"} 0
pm_domain_suspend_count{domain="radio",interactive="false"} 2
# HELP pm_domain_suspended Number of suspended domains
# TYPE pm_domain_suspended gauge
pm_domain_suspended 1
`
		assert.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected),
			"pm_domain_suspend_count", "pm_domain_suspended"))
	})

	t.Run("wake-up timers", func(t *testing.T) {
		expected := `
# HELP pm_wakeup_next_seconds Time until the earliest wake-up timer fires
# TYPE pm_wakeup_next_seconds gauge
pm_wakeup_next_seconds 0.25
# HELP pm_wakeup_timer_pool_free Free timers in the static pool
# TYPE pm_wakeup_timer_pool_free gauge
pm_wakeup_timer_pool_free 15
`
		assert.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected),
			"pm_wakeup_next_seconds", "pm_wakeup_timer_pool_free"))
	})

	t.Run("sleep", func(t *testing.T) {
		expected := `
# HELP pm_sleep_attempts_total Idle loop passes by outcome
# TYPE pm_sleep_attempts_total counter
pm_sleep_attempts_total{outcome="core_busy"} 0
pm_sleep_attempts_total{outcome="not_sleepy"} 0
pm_sleep_attempts_total{outcome="slept"} 1
pm_sleep_attempts_total{outcome="too_short"} 0
pm_sleep_attempts_total{outcome="vetoed"} 4
# HELP pm_sleep_compensated_ticks_total Ticks credited to the tick counter after sleeps
# TYPE pm_sleep_compensated_ticks_total counter
pm_sleep_compensated_ticks_total 1499
`
		assert.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected),
			"pm_sleep_attempts_total", "pm_sleep_compensated_ticks_total"))
	})
}

func TestPMCollectorMetricsLevel(t *testing.T) {
	tt := []struct {
		name  string
		level config.Level
		count int
	}{
		{"state", config.MetricsLevelState, 5*4 + 3},
		{"domain", config.MetricsLevelDomain, 2 + 1},
		{"wakeup", config.MetricsLevelWakeup, 4},
		{"sleep", config.MetricsLevelSleep, 5 + 5 + 3},
		{"domain and sleep", config.MetricsLevelDomain | config.MetricsLevelSleep, 3 + 13},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			c, m := newReadyCollector(t, tc.level)
			m.On("Snapshot").Return(testSnapshot(), nil)
			assert.Equal(t, tc.count, testutil.CollectAndCount(c))
		})
	}
}

func TestPMCollectorSnapshotError(t *testing.T) {
	c, m := newReadyCollector(t, config.MetricsLevelAll)
	m.On("Snapshot").Return(nil, assert.AnError)

	assert.Zero(t, testutil.CollectAndCount(c))
	m.AssertExpectations(t)
}
