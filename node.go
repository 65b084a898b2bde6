package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/gatemesh/pathsync/internal/config"
	"github.com/gatemesh/pathsync/internal/registry"
	"github.com/gatemesh/pathsync/internal/topology"
	"github.com/gatemesh/pathsync/internal/transport"
)

func newNodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "node",
		Short: "Manage the node registry",
		Long: `Field nodes are declared in [node.<id>] sections of the config file.
These commands edit those sections; a running 'pathsync serve' or
'pathsync run' picks up the change without a restart.`,
	}

	cmd.AddCommand(newNodeListCmd())
	cmd.AddCommand(newNodeAddCmd())
	cmd.AddCommand(newNodeRemoveCmd())
	cmd.AddCommand(newNodeOnlineCmd())

	return cmd
}

// nodeEntry is the list form of a registry node.
type nodeEntry struct {
	ID           string                `json:"id"`
	Name         string                `json:"name"`
	Capabilities []registry.Capability `json:"capabilities"`
	Online       bool                  `json:"online"`
	Transport    string                `json:"transport,omitempty"`
	Address      string                `json:"address,omitempty"`
	Role         topology.Role         `json:"role"`
}

func newNodeListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registry nodes with the role each would take in a path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())
			nodes := cc.Cfg.RegistryNodes()

			entries := make([]nodeEntry, len(nodes))
			for i, n := range nodes {
				entries[i] = nodeEntry{
					ID:           n.ID,
					Name:         n.DisplayName(),
					Capabilities: n.Capabilities,
					Online:       n.Online,
					Transport:    n.Transport,
					Address:      n.Address,
					Role:         registry.InferRole(n.Capabilities),
				}
			}

			if cc.Flags.JSON {
				return printJSON(cc.Out, entries)
			}

			if len(entries) == 0 {
				cc.Statusf("No nodes configured. Add one with 'pathsync node add <id>'.\n")
				return nil
			}

			tw := newTable(cc.Out, "ID", "Name", "Role", "Online", "Link", "Capabilities")
			for _, e := range entries {
				caps := make([]string, len(e.Capabilities))
				for i, c := range e.Capabilities {
					caps[i] = string(c)
				}

				tw.AppendRow(table.Row{e.ID, e.Name, e.Role, e.Online, orDash(e.Transport), strings.Join(caps, ", ")})
			}

			tw.Render()

			return nil
		},
	}
}

func newNodeAddCmd() *cobra.Command {
	var n config.NodeConfig

	cmd := &cobra.Command{
		Use:   "add <node-id>",
		Short: "Declare a node in the config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			for _, raw := range n.Capabilities {
				if _, err := registry.ParseCapability(raw); err != nil {
					return err
				}
			}

			switch n.Transport {
			case "", transport.LinkHTTP, transport.LinkWebSocket, transport.LinkSerial:
			default:
				return fmt.Errorf("unknown transport %q (want http, websocket or serial)", n.Transport)
			}

			if err := config.AppendNodeSection(cc.CfgPath, args[0], n); err != nil {
				return err
			}

			cc.Statusf("Added node %s to %s\n", args[0], cc.CfgPath)

			return nil
		},
	}

	cmd.Flags().StringVar(&n.Name, "name", "", "display name")
	cmd.Flags().StringSliceVar(&n.Capabilities, "cap", nil, "capability name or code (repeatable)")
	cmd.Flags().BoolVar(&n.Online, "online", false, "mark the node reachable")
	cmd.Flags().StringVar(&n.Transport, "transport", "", "link used to reach the node")
	cmd.Flags().StringVar(&n.Address, "address", "", "address on the link (default: node id)")

	return cmd
}

func newNodeRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <node-id>",
		Short: "Remove a node from the config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			if _, ok := cc.Cfg.Nodes[args[0]]; !ok {
				return fmt.Errorf("node %q not found in config", args[0])
			}

			if err := config.DeleteNodeSection(cc.CfgPath, args[0]); err != nil {
				return err
			}

			cc.Statusf("Removed node %s\n", args[0])

			return nil
		},
	}
}

func newNodeOnlineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "online <node-id> <true|false>",
		Short: "Mark a node reachable or unreachable",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			online, err := strconv.ParseBool(args[1])
			if err != nil {
				return fmt.Errorf("invalid online value %q: %w", args[1], err)
			}

			if err := config.SetNodeKey(cc.CfgPath, args[0], "online", strconv.FormatBool(online)); err != nil {
				return err
			}

			cc.Statusf("Node %s online = %t\n", args[0], online)

			return nil
		},
	}
}
