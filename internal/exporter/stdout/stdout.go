// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package stdout periodically prints the PM bookkeeping as tables
package stdout

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/sustainable-computing-io/pmcore/internal/pm"
	"github.com/sustainable-computing-io/pmcore/internal/power"
	"github.com/sustainable-computing-io/pmcore/internal/service"
	"k8s.io/utils/clock"
)

// Exporter prints the PM bookkeeping to its output
type Exporter struct {
	logger   *slog.Logger
	pm       pm.DataProvider
	clock    clock.WithTicker
	out      io.WriteCloser
	interval time.Duration
}

var (
	_ service.Initializer = (*Exporter)(nil)
	_ service.Runner      = (*Exporter)(nil)
	_ service.Shutdowner  = (*Exporter)(nil)
)

type Opts struct {
	logger   *slog.Logger
	clock    clock.WithTicker
	out      io.WriteCloser
	interval time.Duration
}

// DefaultOpts() returns a new Opts with defaults set
func DefaultOpts() Opts {
	return Opts{
		logger:   slog.Default(),
		clock:    clock.RealClock{},
		out:      os.Stdout,
		interval: 5 * time.Second,
	}
}

// OptionFn is a function sets one more more options in Opts struct
type OptionFn func(*Opts)

// WithLogger sets the logger for the exporter
func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

func WithOutput(out io.WriteCloser) OptionFn {
	return func(o *Opts) {
		o.out = out
	}
}

func WithInterval(interval time.Duration) OptionFn {
	return func(o *Opts) {
		o.interval = interval
	}
}

func WithClock(c clock.WithTicker) OptionFn {
	return func(o *Opts) {
		o.clock = c
	}
}

func NewExporter(provider pm.DataProvider, applyOpts ...OptionFn) *Exporter {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	return &Exporter{
		logger:   opts.logger.With("service", "stdout"),
		pm:       provider,
		clock:    opts.clock,
		out:      opts.out,
		interval: opts.interval,
	}
}

func (e *Exporter) Init() error {
	if e.interval <= 0 {
		return fmt.Errorf("stdout interval must be positive, got %s", e.interval)
	}
	return nil
}

func (e *Exporter) Run(ctx context.Context) error {
	ticker := e.clock.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			snapshot, err := e.pm.Snapshot()
			if err != nil {
				e.logger.Error("failed to collect pm data", "error", err)
				continue
			}
			write(e.out, snapshot, e.pm.TickPeriod())
		case <-ctx.Done():
			e.logger.Info("exiting ticker")
			return nil
		}
	}
}

func write(out io.Writer, s *pm.Snapshot, period time.Duration) {
	writeStates(out, s, period)
	writeDomains(out, s)
}

func newTable(out io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(out)
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Formatting.Alignment = tw.AlignRight
	})
	table.Header(header)
	return table
}

func writeStates(out io.Writer, s *pm.Snapshot, period time.Duration) {
	rows := make([][]string, 0, power.NumStates)
	for _, state := range power.States() {
		marker := ""
		if state == s.State.Current {
			marker = "*"
		}
		rows = append(rows, []string{
			marker + state.String(),
			(time.Duration(s.State.Ticks[state]) * period).String(),
			strconv.FormatUint(s.State.Transitions[state], 10),
		})
	}

	table := newTable(out, []string{"State", "Time", "Entries"})
	_ = table.Bulk(rows)
	_ = table.Render()
}

func writeDomains(out io.Writer, s *pm.Snapshot) {
	rows := make([][]string, 0, len(s.Domains))
	// registry order, which is index order
	for _, d := range s.Domains {
		rows = append(rows, []string{
			d.Name,
			strconv.FormatUint(uint64(d.SuspendCount), 10),
			strconv.FormatBool(d.Interactive),
			strconv.FormatBool(d.Timed),
		})
	}

	table := newTable(out, []string{"Domain", "Suspend", "Interactive", "Timed"})
	_ = table.Bulk(rows)
	_ = table.Render()
}

func (e *Exporter) Shutdown() error {
	if e.out == os.Stdout {
		return nil
	}
	return e.out.Close()
}

// Name implements service.Name
func (e *Exporter) Name() string {
	return "stdout"
}
