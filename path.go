package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/gatemesh/pathsync/internal/registry"
	"github.com/gatemesh/pathsync/internal/store"
	"github.com/gatemesh/pathsync/internal/topology"
)

func newPathCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "path",
		Short: "Manage irrigation paths and their topology",
	}

	cmd.AddCommand(newPathListCmd())
	cmd.AddCommand(newPathCreateCmd())
	cmd.AddCommand(newPathShowCmd())
	cmd.AddCommand(newPathEditCmd())
	cmd.AddCommand(newPathDeleteCmd())
	cmd.AddCommand(newPathAddNodeCmd())
	cmd.AddCommand(newPathRemoveNodeCmd())
	cmd.AddCommand(newPathConnectCmd())
	cmd.AddCommand(newPathDisconnectCmd())
	cmd.AddCommand(newPathReorderCmd())
	cmd.AddCommand(newPathRefreshCmd())
	cmd.AddCommand(newPathExportCmd())
	cmd.AddCommand(newPathImportCmd())

	return cmd
}

// updatePath applies fn to a stored path and prints the result.
func updatePath(cmd *cobra.Command, id string, fn func(a *app, p *topology.Path) error) error {
	cc := mustCLIContext(cmd.Context())

	return withApp(cmd.Context(), cc, func(a *app) error {
		p, err := a.paths.Update(cmd.Context(), id, func(p *topology.Path) error {
			if err := fn(a, p); err != nil {
				return err
			}

			p.UpdatedAt = time.Now()

			return nil
		})
		if err != nil {
			return err
		}

		return printPath(cc, p)
	})
}

func printPath(cc *CLIContext, p *topology.Path) error {
	if cc.Flags.JSON {
		return printJSON(cc.Out, p)
	}

	printPathDetail(cc.Out, p, time.Now())

	return nil
}

func newPathListCmd() *cobra.Command {
	var f store.Filter

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List paths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			return withApp(cmd.Context(), cc, func(a *app) error {
				paths, err := a.store.ListPaths(cmd.Context(), f)
				if err != nil {
					return err
				}

				if cc.Flags.JSON {
					return printJSON(cc.Out, paths)
				}

				if len(paths) == 0 {
					cc.Statusf("No paths. Create one with 'pathsync path create <name>'.\n")
					return nil
				}

				printPathTable(cc.Out, paths, time.Now())

				return nil
			})
		},
	}

	cmd.Flags().StringVar(&f.FarmID, "farm", "", "only paths on this farm")
	cmd.Flags().StringVar(&f.ZoneID, "zone", "", "only paths in this zone")
	cmd.Flags().StringVar(&f.NodeID, "node", "", "only paths containing this node")
	cmd.Flags().BoolVar(&f.ActiveOnly, "active", false, "only flowing paths")

	return cmd
}

type pathMeta struct {
	id, description, farm, zone string
	maxFlow, targetPressure     float64
}

func newPathCreateCmd() *cobra.Command {
	var m pathMeta

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create an empty path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			id := m.id
			if id == "" {
				id = uuid.NewString()
			}

			now := time.Now()
			p := topology.NewPath(id, args[0])
			p.Description = m.description
			p.FarmID = m.farm
			p.ZoneID = m.zone
			p.MaxFlowRate = m.maxFlow
			p.TargetPressure = m.targetPressure
			p.CreatedAt = now
			p.UpdatedAt = now

			return withApp(cmd.Context(), cc, func(a *app) error {
				if err := a.paths.Create(cmd.Context(), p); err != nil {
					return err
				}

				if cc.Flags.JSON {
					return printJSON(cc.Out, p)
				}

				fmt.Fprintln(cc.Out, p.ID)

				return nil
			})
		},
	}

	cmd.Flags().StringVar(&m.id, "id", "", "path id (generated when empty)")
	cmd.Flags().StringVar(&m.description, "description", "", "free-form description")
	cmd.Flags().StringVar(&m.farm, "farm", "", "farm id")
	cmd.Flags().StringVar(&m.zone, "zone", "", "zone id")
	cmd.Flags().Float64Var(&m.maxFlow, "max-flow-rate", 0, "flow rate limit (gpm)")
	cmd.Flags().Float64Var(&m.targetPressure, "target-pressure", 0, "target pressure (psi)")

	return cmd
}

func newPathShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <path-id>",
		Short: "Show a path with its nodes, connections and schedules",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			return withApp(cmd.Context(), cc, func(a *app) error {
				p, err := a.store.GetPath(cmd.Context(), args[0])
				if err != nil {
					return err
				}

				return printPath(cc, p)
			})
		},
	}
}

func newPathEditCmd() *cobra.Command {
	var (
		name string
		m    pathMeta
	)

	cmd := &cobra.Command{
		Use:   "edit <path-id>",
		Short: "Change path metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()

			return updatePath(cmd, args[0], func(_ *app, p *topology.Path) error {
				if flags.Changed("name") {
					p.Name = topology.NormalizeName(name)
				}

				if flags.Changed("description") {
					p.Description = m.description
				}

				if flags.Changed("farm") {
					p.FarmID = m.farm
				}

				if flags.Changed("zone") {
					p.ZoneID = m.zone
				}

				if flags.Changed("max-flow-rate") {
					p.MaxFlowRate = m.maxFlow
				}

				if flags.Changed("target-pressure") {
					p.TargetPressure = m.targetPressure
				}

				return nil
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&m.description, "description", "", "free-form description")
	cmd.Flags().StringVar(&m.farm, "farm", "", "farm id")
	cmd.Flags().StringVar(&m.zone, "zone", "", "zone id")
	cmd.Flags().Float64Var(&m.maxFlow, "max-flow-rate", 0, "flow rate limit (gpm)")
	cmd.Flags().Float64Var(&m.targetPressure, "target-pressure", 0, "target pressure (psi)")

	return cmd
}

func newPathDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <path-id>",
		Short: "Delete a path and its schedules",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			return withApp(cmd.Context(), cc, func(a *app) error {
				if err := a.paths.Delete(cmd.Context(), args[0]); err != nil {
					return err
				}

				cc.Statusf("Deleted path %s\n", args[0])

				return nil
			})
		},
	}
}

func newPathAddNodeCmd() *cobra.Command {
	var (
		role  string
		after int
	)

	cmd := &cobra.Command{
		Use:   "add-node <path-id> <node-id>",
		Short: "Add a node, connecting it to the node before it",
		Long: `Add a registry node to a path. The role is inferred from the node's
capabilities unless --role is given. The node is appended unless --after
names the order it should follow; --after -1 inserts at the head.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			var afterOrder *int
			if cmd.Flags().Changed("after") {
				afterOrder = &after
			}

			var res topology.AddNodeResult

			err := withApp(cmd.Context(), cc, func(a *app) error {
				node := topology.PathNode{NodeID: args[1], Role: topology.Role(role)}

				if reg, ok := a.registry.Node(args[1]); ok {
					defaults := registry.PathNode(reg)
					if node.Role == "" {
						node.Role = defaults.Role
					}

					node.Status = defaults.Status
				}

				_, err := a.paths.Update(cmd.Context(), args[0], func(p *topology.Path) error {
					var err error
					res, err = p.AddNode(node, afterOrder)

					return err
				})

				return err
			})
			if err != nil {
				return err
			}

			if cc.Flags.JSON {
				return printJSON(cc.Out, res)
			}

			fmt.Fprintf(cc.Out, "Added %s as %s at position %d\n", res.Node.NodeID, res.Node.Role, res.Node.Order)

			if c := res.AutoConnection; c != nil {
				fmt.Fprintf(cc.Out, "Connected %s -> %s (%s)\n", c.From, c.To, c.Kind)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&role, "role", "", "node role (source, pump, valve, sensor, junction, endpoint)")
	cmd.Flags().IntVar(&after, "after", 0, "insert after the node at this order")

	return cmd
}

func newPathRemoveNodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove-node <path-id> <node-id>",
		Short: "Remove a node and every connection touching it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return updatePath(cmd, args[0], func(_ *app, p *topology.Path) error {
				return p.RemoveNode(args[1])
			})
		},
	}
}

func newPathConnectCmd() *cobra.Command {
	var (
		kind         string
		size, length float64
	)

	cmd := &cobra.Command{
		Use:   "connect <path-id> <from> <to>",
		Short: "Add a directed connection between two nodes",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var sizeP, lengthP *float64
			if cmd.Flags().Changed("size") {
				sizeP = &size
			}

			if cmd.Flags().Changed("length") {
				lengthP = &length
			}

			return updatePath(cmd, args[0], func(_ *app, p *topology.Path) error {
				if _, err := p.AddConnection(args[1], args[2], topology.ConnectionKind(kind)); err != nil {
					return err
				}

				if sizeP == nil && lengthP == nil {
					return nil
				}

				return p.SetConnectionDimensions(args[1], args[2], sizeP, lengthP)
			})
		},
	}

	cmd.Flags().StringVar(&kind, "kind", string(topology.KindPipe), "pipe, canal or underground")
	cmd.Flags().Float64Var(&size, "size", 0, "diameter or width in inches")
	cmd.Flags().Float64Var(&length, "length", 0, "length in feet")

	return cmd
}

func newPathDisconnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect <path-id> <from> <to>",
		Short: "Remove a connection",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return updatePath(cmd, args[0], func(_ *app, p *topology.Path) error {
				p.RemoveConnection(args[1], args[2])

				return nil
			})
		},
	}
}

func newPathReorderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reorder <path-id> <node-id>...",
		Short: "Set the node order; every node of the path must be listed",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return updatePath(cmd, args[0], func(_ *app, p *topology.Path) error {
				return p.Reorder(args[1:])
			})
		},
	}
}

func newPathRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh-status <path-id>",
		Short: "Copy node health from the registry onto the path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			return updatePath(cmd, args[0], func(a *app, p *topology.Path) error {
				n := p.RefreshNodeStatus(registry.StatusLookup(a.registry))
				cc.Statusf("%d node %s changed\n", n, pluralize(n, "status", "statuses"))

				return nil
			})
		},
	}
}

func pluralize(n int, one, many string) string {
	if n == 1 {
		return one
	}

	return many
}
