package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/gatemesh/pathsync/internal/config"
	"github.com/gatemesh/pathsync/internal/store"
	"github.com/gatemesh/pathsync/internal/topology"
)

// Daemon state values for status reporting.
const (
	daemonRunning = "running"
	daemonStopped = "stopped"
)

// statusReport is the JSON form of `pathsync status`.
type statusReport struct {
	ConfigPath   string       `json:"config_path"`
	DBPath       string       `json:"db_path"`
	Daemon       string       `json:"daemon"`
	NodesOnline  int          `json:"nodes_online"`
	NodesOffline int          `json:"nodes_offline"`
	Paths        []statusPath `json:"paths"`
}

// statusPath summarizes one path.
type statusPath struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Status        topology.Status `json:"status"`
	Flowing       bool            `json:"flowing"`
	Nodes         int             `json:"nodes"`
	DegradedNodes int             `json:"degraded_nodes"`
	Schedules     int             `json:"schedules"`
	NextRun       time.Time       `json:"next_run,omitzero"`
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show every path, its flow state and next scheduled run",
		Long: `Display an overview of the installation: whether the scheduler daemon is
running, how many registry nodes are reachable, and for each path its flow
state, unhealthy nodes and next scheduled run.`,
		Args: cobra.NoArgs,
		RunE: runStatus,
	}
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	return withApp(cmd.Context(), cc, func(a *app) error {
		paths, err := a.store.ListPaths(cmd.Context(), store.Filter{})
		if err != nil {
			return err
		}

		report := buildStatusReport(cc, a, paths)

		if cc.Flags.JSON {
			return printJSON(cc.Out, report)
		}

		printStatusText(cc, report, time.Now())

		return nil
	})
}

func buildStatusReport(cc *CLIContext, a *app, paths []*topology.Path) statusReport {
	r := statusReport{
		ConfigPath: cc.CfgPath,
		DBPath:     a.cfg.Store.DBPath,
		Daemon:     daemonState(pidFilePath()),
		Paths:      make([]statusPath, len(paths)),
	}

	if a.cfg.Store.Backend == store.BackendMemory {
		r.DBPath = ""
	}

	for _, n := range a.registry.Nodes() {
		if n.Online {
			r.NodesOnline++
		} else {
			r.NodesOffline++
		}
	}

	for i, p := range paths {
		sp := statusPath{
			ID:        p.ID,
			Name:      p.Name,
			Status:    p.Status,
			Flowing:   p.IsFlowing,
			Nodes:     len(p.Nodes),
			Schedules: len(p.Schedules),
			NextRun:   nextScheduledRun(p),
		}

		for _, n := range p.Nodes {
			if n.Status != topology.NodeOK {
				sp.DegradedNodes++
			}
		}

		r.Paths[i] = sp
	}

	return r
}

// daemonState reports whether a serve or run process holds the PID file.
func daemonState(pidPath string) string {
	if !daemonAlive(pidPath) {
		return daemonStopped
	}

	return daemonRunning
}

func printStatusText(cc *CLIContext, r statusReport, now time.Time) {
	fmt.Fprintf(cc.Out, "Config:  %s\n", r.ConfigPath)

	if r.DBPath != "" {
		fmt.Fprintf(cc.Out, "Store:   %s\n", r.DBPath)
	} else {
		fmt.Fprintln(cc.Out, "Store:   in memory")
	}

	fmt.Fprintf(cc.Out, "Daemon:  %s\n", r.Daemon)
	fmt.Fprintf(cc.Out, "Nodes:   %d online, %d offline\n", r.NodesOnline, r.NodesOffline)

	if len(r.Paths) == 0 {
		fmt.Fprintln(cc.Out, "\nNo paths. Create one with 'pathsync path create <name>'.")
		return
	}

	fmt.Fprintln(cc.Out)

	tw := newTable(cc.Out, "ID", "Name", "Status", "Flowing", "Nodes", "Degraded", "Next run")
	for _, p := range r.Paths {
		tw.AppendRow(table.Row{
			p.ID, p.Name, p.Status, p.Flowing, p.Nodes, p.DegradedNodes, formatWhen(p.NextRun, now),
		})
	}

	tw.Render()
}

// pidFilePath is where serve and run record their process id.
func pidFilePath() string {
	return filepath.Join(config.DefaultDataDir(), "pathsync.pid")
}
