package main

import (
	"github.com/spf13/cobra"

	"github.com/gatemesh/pathsync/internal/topology"
)

func newFlowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flow",
		Short: "Start or stop water flow on a path",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "start <path-id>",
		Short: "Open the path: mark it active and its reachable connections flowing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return updatePath(cmd, args[0], func(a *app, p *topology.Path) error {
				return a.flow.Start(p)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "stop <path-id>",
		Short: "Close the path; telemetry is kept",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return updatePath(cmd, args[0], func(a *app, p *topology.Path) error {
				a.flow.Stop(p)

				return nil
			})
		},
	})

	cmd.AddCommand(newFlowMetricsCmd())

	return cmd
}

func newFlowMetricsCmd() *cobra.Command {
	var (
		rate, pressure, volume float64
		nodeID                 string
	)

	cmd := &cobra.Command{
		Use:   "metrics <path-id>",
		Short: "Record a telemetry sample for a path or one of its nodes",
		Long: `Merge a telemetry sample. Without --node the values are path totals;
with --node, --flow-rate and --pressure are that node's readings. Values that
are not given keep their last known reading.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fs := cmd.Flags()

			pick := func(name string, v *float64) *float64 {
				if fs.Changed(name) {
					return v
				}

				return nil
			}

			var m topology.MetricsUpdate

			if nodeID != "" {
				m.Nodes = map[string]topology.NodeReading{
					nodeID: {FlowRate: pick("flow-rate", &rate), Pressure: pick("pressure", &pressure)},
				}
			} else {
				m.TotalFlowRate = pick("flow-rate", &rate)
				m.TotalPressure = pick("pressure", &pressure)
				m.TotalVolumeToday = pick("volume", &volume)
			}

			return updatePath(cmd, args[0], func(a *app, p *topology.Path) error {
				return a.flow.ApplyMetrics(p, m)
			})
		},
	}

	cmd.Flags().Float64Var(&rate, "flow-rate", 0, "flow rate (gpm)")
	cmd.Flags().Float64Var(&pressure, "pressure", 0, "pressure (psi)")
	cmd.Flags().Float64Var(&volume, "volume", 0, "volume delivered today (gal)")
	cmd.Flags().StringVar(&nodeID, "node", "", "node the readings belong to")

	return cmd
}
