package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/gatemesh/pathsync/internal/schedule"
	isync "github.com/gatemesh/pathsync/internal/sync"
	"github.com/gatemesh/pathsync/internal/topology"
)

// statusf prints a status message to w unless quiet mode is set.
func statusf(w io.Writer, quiet bool, format string, args ...any) {
	if !quiet {
		fmt.Fprintf(w, format, args...)
	}
}

// Statusf prints a status message to stderr unless quiet mode is set.
func (cc *CLIContext) Statusf(format string, args ...any) {
	statusf(cc.Err, cc.Flags.Quiet, format, args...)
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

// newTable returns a table writer rendering to w.
func newTable(w io.Writer, headers ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row(headers))

	return tw
}

// formatWhen renders a timestamp relative to now ("in 3 hours"), or "-"
// for the zero time.
func formatWhen(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}

	return humanize.RelTime(t, now, "ago", "from now")
}

// formatTime returns a compact timestamp for display.
func formatTime(t time.Time, now time.Time) string {
	if t.IsZero() {
		return "-"
	}

	if t.Year() == now.Year() {
		return t.Format("Jan _2 15:04")
	}

	return t.Format("Jan _2  2006")
}

// formatOptional renders a nullable reading.
func formatOptional(v *float64) string {
	if v == nil {
		return "-"
	}

	return strconv.FormatFloat(*v, 'f', -1, 64)
}

// formatRecurrence describes when a schedule runs, e.g. "weekly Mon,Wed 06:00".
func formatRecurrence(s schedule.Schedule) string {
	var b strings.Builder

	b.WriteString(s.Repeat.String())

	if len(s.DaysOfWeek) > 0 {
		days := make([]string, len(s.DaysOfWeek))
		for i, d := range s.DaysOfWeek {
			days[i] = time.Weekday(d).String()[:3]
		}

		b.WriteString(" " + strings.Join(days, ","))
	}

	b.WriteString(" " + s.StartTime)

	return b.String()
}

// nextScheduledRun returns the earliest NextRun across the path's schedules.
func nextScheduledRun(p *topology.Path) time.Time {
	var next time.Time

	for _, s := range p.Schedules {
		if s.NextRun.IsZero() {
			continue
		}

		if next.IsZero() || s.NextRun.Before(next) {
			next = s.NextRun
		}
	}

	return next
}

func printPathTable(w io.Writer, paths []*topology.Path, now time.Time) {
	tw := newTable(w, "ID", "Name", "Status", "Nodes", "Schedules", "Next run")

	for _, p := range paths {
		tw.AppendRow(table.Row{
			p.ID, p.Name, p.Status, len(p.Nodes), len(p.Schedules), formatWhen(nextScheduledRun(p), now),
		})
	}

	tw.Render()
}

func printPathDetail(w io.Writer, p *topology.Path, now time.Time) {
	fmt.Fprintf(w, "%s (%s)\n", p.Name, p.ID)

	if p.Description != "" {
		fmt.Fprintf(w, "  %s\n", p.Description)
	}

	fmt.Fprintf(w, "  status:    %s", p.Status)
	if p.IsFlowing {
		fmt.Fprintf(w, " (flowing since %s)", formatWhen(p.LastActivated, now))
	}
	fmt.Fprintln(w)

	if p.FarmID != "" || p.ZoneID != "" {
		fmt.Fprintf(w, "  farm/zone: %s / %s\n", orDash(p.FarmID), orDash(p.ZoneID))
	}

	fmt.Fprintf(w, "  metrics:   %s gpm, %s psi, %s gal today\n",
		humanize.Ftoa(p.Metrics.TotalFlowRate),
		humanize.Ftoa(p.Metrics.TotalPressure),
		humanize.Commaf(p.Metrics.TotalVolumeToday),
	)

	fmt.Fprintln(w)

	nodes := newTable(w, "#", "Node", "Role", "Status", "Active", "Flow", "Pressure")
	for _, n := range p.Nodes {
		nodes.AppendRow(table.Row{n.Order, n.NodeID, n.Role, n.Status, n.IsActive, formatOptional(n.FlowRate), formatOptional(n.Pressure)})
	}
	nodes.Render()

	if len(p.Connections) > 0 {
		fmt.Fprintln(w)

		conns := newTable(w, "From", "To", "Kind", "Size", "Length", "Flowing")
		for _, c := range p.Connections {
			conns.AppendRow(table.Row{c.From, c.To, c.Kind, formatOptional(c.Size), formatOptional(c.Length), c.IsFlowing})
		}
		conns.Render()
	}

	if len(p.Schedules) > 0 {
		fmt.Fprintln(w)
		printScheduleTable(w, p.Schedules, now)
	}
}

func printScheduleTable(w io.Writer, scheds []schedule.Schedule, now time.Time) {
	tw := newTable(w, "ID", "Name", "Enabled", "When", "Minutes", "Runs", "Last run", "Next run")

	for _, s := range scheds {
		tw.AppendRow(table.Row{
			s.ID, s.Name, s.Enabled, formatRecurrence(s), s.DurationMinutes, s.RunCount,
			formatTime(s.LastRun, now), formatWhen(s.NextRun, now),
		})
	}

	tw.Render()
}

func printResultTable(w io.Writer, res *isync.Result) {
	tw := newTable(w, "Node", "State", "Tries", "Message")

	for _, a := range res.Attempts {
		tw.AppendRow(table.Row{a.TargetID, a.State, a.Tries, a.Message})
	}

	tw.Render()
	fmt.Fprintln(w, res.Summary())
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}

	return s
}
