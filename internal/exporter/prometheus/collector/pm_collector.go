// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"log/slog"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sustainable-computing-io/pmcore/config"
	"github.com/sustainable-computing-io/pmcore/internal/pm"
	"github.com/sustainable-computing-io/pmcore/internal/power"
	"github.com/sustainable-computing-io/pmcore/internal/sleep"
)

type PMDataProvider = pm.DataProvider

// PMCollector exports the PM bookkeeping. Every scrape reads a single
// snapshot so that all series are consistent with each other.
type PMCollector struct {
	pm           PMDataProvider
	logger       *slog.Logger
	metricsLevel config.Level

	mutex sync.RWMutex
	ready bool

	// state
	stateDesc            *prometheus.Desc
	recommendedDesc      *prometheus.Desc
	stateSecondsDesc     *prometheus.Desc
	stateTransitionsDesc *prometheus.Desc
	prepareFailuresDesc  *prometheus.Desc
	activityDesc         *prometheus.Desc
	ticksDesc            *prometheus.Desc

	// domain
	domainSuspendDesc *prometheus.Desc
	suspendedDesc     *prometheus.Desc

	// wake-up timers
	timersArmedDesc   *prometheus.Desc
	timersExpiredDesc *prometheus.Desc
	timerPoolDesc     *prometheus.Desc
	nextWakeupDesc    *prometheus.Desc

	// sleep
	outcomesDesc    *prometheus.Desc
	wakeupsDesc     *prometheus.Desc
	compensatedDesc *prometheus.Desc
	discardedDesc   *prometheus.Desc
	busyCoresDesc   *prometheus.Desc
}

func pmDesc(subsystem, name, help string, labels ...string) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(pmNS, subsystem, name), help, labels, nil)
}

// NewPMCollector creates a collector over the snapshots of provider
func NewPMCollector(provider PMDataProvider, logger *slog.Logger, metricsLevel config.Level) *PMCollector {
	c := &PMCollector{
		pm:           provider,
		logger:       logger.With("collector", "pm"),
		metricsLevel: metricsLevel,

		stateDesc:            pmDesc("state", "current", "Committed power state (1 for the current state)", "state"),
		recommendedDesc:      pmDesc("state", "recommended", "Last recommended power state (1 for the recommendation)", "state"),
		stateSecondsDesc:     pmDesc("state", "seconds_total", "Time spent in each power state in seconds", "state"),
		stateTransitionsDesc: pmDesc("state", "transitions_total", "Number of entries into each power state", "state"),
		prepareFailuresDesc:  pmDesc("state", "prepare_failures_total", "Number of failed prepare callbacks"),
		activityDesc:         pmDesc("state", "activity", "Moving average of driver activity"),
		ticksDesc:            pmDesc("", "ticks_total", "OS ticks since boot, including compensated ones"),

		domainSuspendDesc: pmDesc("domain", "suspend_count", "Suspend count of each registered domain", "domain", "interactive"),
		suspendedDesc:     pmDesc("domain", "suspended", "Number of suspended domains"),

		timersArmedDesc:   pmDesc("wakeup", "timers_armed", "Number of armed wake-up timers"),
		timersExpiredDesc: pmDesc("wakeup", "timers_expired_total", "Number of wake-up timer expirations"),
		timerPoolDesc:     pmDesc("wakeup", "timer_pool_free", "Free timers in the static pool"),
		nextWakeupDesc:    pmDesc("wakeup", "next_seconds", "Time until the earliest wake-up timer fires"),

		outcomesDesc:    pmDesc("sleep", "attempts_total", "Idle loop passes by outcome", "outcome"),
		wakeupsDesc:     pmDesc("sleep", "wakeups_total", "Wake-ups from sleep by reason", "reason"),
		compensatedDesc: pmDesc("sleep", "compensated_ticks_total", "Ticks credited to the tick counter after sleeps"),
		discardedDesc:   pmDesc("sleep", "discarded_total", "Sleep durations discarded as implausible"),
		busyCoresDesc:   pmDesc("sleep", "busy_cores", "Secondary CPUs not parked in their idle task"),
	}

	go c.waitForData()

	return c
}

func (c *PMCollector) waitForData() {
	<-c.pm.DataChannel()
	c.mutex.Lock()
	c.ready = true
	c.mutex.Unlock()
}

func (c *PMCollector) isReady() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.ready
}

// Describe implements the prometheus.Collector interface
func (c *PMCollector) Describe(ch chan<- *prometheus.Desc) {
	if c.metricsLevel.IsStateEnabled() {
		ch <- c.stateDesc
		ch <- c.recommendedDesc
		ch <- c.stateSecondsDesc
		ch <- c.stateTransitionsDesc
		ch <- c.prepareFailuresDesc
		ch <- c.activityDesc
		ch <- c.ticksDesc
	}
	if c.metricsLevel.IsDomainEnabled() {
		ch <- c.domainSuspendDesc
		ch <- c.suspendedDesc
	}
	if c.metricsLevel.IsWakeupEnabled() {
		ch <- c.timersArmedDesc
		ch <- c.timersExpiredDesc
		ch <- c.timerPoolDesc
		ch <- c.nextWakeupDesc
	}
	if c.metricsLevel.IsSleepEnabled() {
		ch <- c.outcomesDesc
		ch <- c.wakeupsDesc
		ch <- c.compensatedDesc
		ch <- c.discardedDesc
		ch <- c.busyCoresDesc
	}
}

// Collect implements the prometheus.Collector interface
func (c *PMCollector) Collect(ch chan<- prometheus.Metric) {
	if !c.isReady() {
		c.logger.Debug("collect called before the pm core is ready")
		return
	}

	snapshot, err := c.pm.Snapshot()
	if err != nil {
		c.logger.Error("failed to collect pm data", "error", err)
		return
	}

	if c.metricsLevel.IsStateEnabled() {
		c.collectState(ch, snapshot)
	}
	if c.metricsLevel.IsDomainEnabled() {
		c.collectDomains(ch, snapshot)
	}
	if c.metricsLevel.IsWakeupEnabled() {
		c.collectTimers(ch, snapshot)
	}
	if c.metricsLevel.IsSleepEnabled() {
		c.collectSleep(ch, snapshot)
	}
}

func oneHot(s, current power.State) float64 {
	if s == current {
		return 1
	}
	return 0
}

func (c *PMCollector) collectState(ch chan<- prometheus.Metric, s *pm.Snapshot) {
	period := c.pm.TickPeriod().Seconds()
	st := s.State

	for _, state := range power.States() {
		name := state.String()
		ch <- prometheus.MustNewConstMetric(c.stateDesc, prometheus.GaugeValue, oneHot(state, st.Current), name)
		ch <- prometheus.MustNewConstMetric(c.recommendedDesc, prometheus.GaugeValue, oneHot(state, st.Recommended), name)
		ch <- prometheus.MustNewConstMetric(c.stateSecondsDesc, prometheus.CounterValue, float64(st.Ticks[state])*period, name)
		ch <- prometheus.MustNewConstMetric(c.stateTransitionsDesc, prometheus.CounterValue, float64(st.Transitions[state]), name)
	}
	ch <- prometheus.MustNewConstMetric(c.prepareFailuresDesc, prometheus.CounterValue, float64(st.PrepareFailures))
	ch <- prometheus.MustNewConstMetric(c.activityDesc, prometheus.GaugeValue, float64(st.Activity))
	ch <- prometheus.MustNewConstMetric(c.ticksDesc, prometheus.CounterValue, float64(s.Tick))
}

func (c *PMCollector) collectDomains(ch chan<- prometheus.Metric, s *pm.Snapshot) {
	for _, d := range s.Domains {
		ch <- prometheus.MustNewConstMetric(c.domainSuspendDesc, prometheus.GaugeValue,
			float64(d.SuspendCount), d.Name, strconv.FormatBool(d.Interactive))
	}
	ch <- prometheus.MustNewConstMetric(c.suspendedDesc, prometheus.GaugeValue, float64(len(s.Suspended)))
}

func (c *PMCollector) collectTimers(ch chan<- prometheus.Metric, s *pm.Snapshot) {
	t := s.Timers
	ch <- prometheus.MustNewConstMetric(c.timersArmedDesc, prometheus.GaugeValue, float64(t.Armed))
	ch <- prometheus.MustNewConstMetric(c.timersExpiredDesc, prometheus.CounterValue, float64(t.Expired))
	ch <- prometheus.MustNewConstMetric(c.timerPoolDesc, prometheus.GaugeValue, float64(t.PoolFree))
	if t.HasNext {
		ch <- prometheus.MustNewConstMetric(c.nextWakeupDesc, prometheus.GaugeValue, t.Next.Seconds())
	}
}

func (c *PMCollector) collectSleep(ch chan<- prometheus.Metric, s *pm.Snapshot) {
	st := s.Sleep
	for _, o := range sleep.Outcomes() {
		ch <- prometheus.MustNewConstMetric(c.outcomesDesc, prometheus.CounterValue, float64(st.Outcomes[o]), o.String())
	}
	for _, r := range power.WakeReasons() {
		ch <- prometheus.MustNewConstMetric(c.wakeupsDesc, prometheus.CounterValue, float64(st.Wakeups[r]), r.String())
	}
	ch <- prometheus.MustNewConstMetric(c.compensatedDesc, prometheus.CounterValue, float64(st.CompensatedTicks))
	ch <- prometheus.MustNewConstMetric(c.discardedDesc, prometheus.CounterValue, float64(st.Discarded))
	ch <- prometheus.MustNewConstMetric(c.busyCoresDesc, prometheus.GaugeValue, float64(len(s.BusyCores)))
}
