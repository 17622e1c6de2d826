// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package debugfs serves a plain text view of the PM core under /debug/pm/,
// one file per concern, the way a procfs entry would read
package debugfs

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/jszwec/csvutil"
	"github.com/sustainable-computing-io/pmcore/internal/pm"
	"github.com/sustainable-computing-io/pmcore/internal/power"
	"github.com/sustainable-computing-io/pmcore/internal/service"
)

const root = "/debug/pm/"

type APIRegistry interface {
	Register(endpoint, summary, description string, handler http.Handler) error
}

// Exporter serves the text view
type Exporter struct {
	logger *slog.Logger
	pm     pm.DataProvider
	server APIRegistry
}

var _ service.Initializer = (*Exporter)(nil)

func NewExporter(provider pm.DataProvider, s APIRegistry, logger *slog.Logger) *Exporter {
	return &Exporter{
		logger: logger.With("service", "debugfs"),
		pm:     provider,
		server: s,
	}
}

func (e *Exporter) Name() string {
	return "debugfs"
}

func (e *Exporter) Init() error {
	return e.server.Register(root, "PM", "Power state, domains and wake-up timers as text", e.handlers())
}

type renderFn func(w io.Writer, s *pm.Snapshot)

func (e *Exporter) handlers() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(root+"{$}", e.serve(func(w io.Writer, s *pm.Snapshot) {
		writeState(w, s)
		writeDomains(w, s)
	}))
	mux.Handle(root+"state", e.serve(writeState))
	mux.Handle(root+"domains", e.serve(writeDomains))
	mux.Handle(root+"timers", e.serve(writeTimers))
	mux.Handle(root+"sleep", e.serve(writeSleep))
	mux.Handle(root+"states.csv", e.serveCSV(stateRows))
	mux.Handle(root+"domains.csv", e.serveCSV(domainRows))
	return mux
}

func (e *Exporter) serve(render renderFn) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, err := e.pm.Snapshot()
		if err != nil {
			e.logger.Error("failed to take pm snapshot", "error", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		render(w, s)
	})
}

func (e *Exporter) serveCSV(rows func(*pm.Snapshot) any) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, err := e.pm.Snapshot()
		if err != nil {
			e.logger.Error("failed to take pm snapshot", "error", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		if err := writeCSV(w, rows(s)); err != nil {
			e.logger.Error("failed to write csv", "path", r.URL.Path, "error", err)
		}
	})
}

type stateRow struct {
	State       string `csv:"state"`
	Current     bool   `csv:"current"`
	Ticks       uint64 `csv:"ticks"`
	Transitions uint64 `csv:"transitions"`
}

type domainRow struct {
	Name         string `csv:"name"`
	Index        int    `csv:"index"`
	SuspendCount uint32 `csv:"suspend_count"`
	Interactive  bool   `csv:"interactive"`
	Timed        bool   `csv:"timed"`
}

func stateRows(s *pm.Snapshot) any {
	rows := make([]stateRow, 0, power.NumStates)
	for _, st := range power.States() {
		rows = append(rows, stateRow{
			State:       st.String(),
			Current:     st == s.State.Current,
			Ticks:       s.State.Ticks[st],
			Transitions: s.State.Transitions[st],
		})
	}
	return rows
}

func domainRows(s *pm.Snapshot) any {
	rows := make([]domainRow, 0, len(s.Domains))
	for _, d := range s.Domains {
		rows = append(rows, domainRow(d))
	}
	return rows
}

func writeCSV(w io.Writer, rows any) error {
	cw := csv.NewWriter(w)
	if err := csvutil.NewEncoder(cw).Encode(rows); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

func writeState(w io.Writer, s *pm.Snapshot) {
	fmt.Fprintf(w, "state %s\n", s.State.Current)
}

// writeDomains writes one "name suspend_count" line per domain
func writeDomains(w io.Writer, s *pm.Snapshot) {
	for _, d := range s.Domains {
		fmt.Fprintf(w, "%s %d\n", d.Name, d.SuspendCount)
	}
}

func writeTimers(w io.Writer, s *pm.Snapshot) {
	fmt.Fprintf(w, "armed %d\nexpired %d\npool_free %d\n", s.Timers.Armed, s.Timers.Expired, s.Timers.PoolFree)
	for _, t := range s.Timers.Pending {
		fmt.Fprintf(w, "%s %d %s periodic=%t\n", t.Handle, t.Deadline, t.Origin, t.Periodic)
	}
}

func writeSleep(w io.Writer, s *pm.Snapshot) {
	fmt.Fprintf(w, "phase %s\ncompensated %d\ndiscarded %d\n",
		s.Sleep.Phase, s.Sleep.CompensatedTicks, s.Sleep.Discarded)
}
