package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"github.com/gatemesh/pathsync/internal/api"
	isync "github.com/gatemesh/pathsync/internal/sync"
)

func newSyncCmd() *cobra.Command {
	var (
		targets []string
		retries int
	)

	cmd := &cobra.Command{
		Use:   "sync <path-id>",
		Short: "Push a path's schedules to its nodes",
		Long: `Send the path's schedule set to each of its nodes. Every node gets one
attempt; failed nodes are re-sent up to --retries more times with backoff.
Use --target to push to a subset of nodes.

Exits non-zero when any node did not acknowledge.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())
			ctx := cmd.Context()

			var res *isync.Result

			err := withApp(ctx, cc, func(a *app) error {
				p, err := a.store.GetPath(ctx, args[0])
				if err != nil {
					return err
				}

				ids := targets
				if len(ids) == 0 {
					ids = p.NodeIDs()
				}

				if len(ids) == 0 {
					return fmt.Errorf("path %q has no nodes to sync", p.ID)
				}

				orch := a.orchestrator(progressPrinter(cc))

				res, err = orch.SyncAll(ctx, p.ID, p.Schedules, ids, a.transport)
				if err != nil {
					return err
				}

				for i := 0; i < retries && res.AnyFailed() && ctx.Err() == nil; i++ {
					cc.Statusf("Retrying %d failed %s\n", len(res.Failed()), pluralize(len(res.Failed()), "node", "nodes"))

					res, err = orch.RetryFailed(ctx, p.ID, res, p.Schedules, a.transport)
					if err != nil {
						return err
					}
				}

				return nil
			})
			if err != nil {
				return err
			}

			if cc.Flags.JSON {
				if err := printJSON(cc.Out, api.NewResultView(res)); err != nil {
					return err
				}
			} else {
				printResultTable(cc.Out, res)
			}

			if res.Outcome() != isync.OutcomeAllSucceeded {
				return errSilentExit
			}

			return nil
		},
	}

	cmd.Flags().StringSliceVar(&targets, "target", nil, "node ids to sync (default: every node of the path)")
	cmd.Flags().IntVar(&retries, "retries", 0, "extra rounds for nodes that failed")

	return cmd
}

// progressPrinter returns a callback that reports each node's state change
// on stderr while a round runs. It is nil unless stderr is a terminal and
// output is not quiet or JSON.
func progressPrinter(cc *CLIContext) func(string, isync.Attempt) {
	if cc.Flags.Quiet || cc.Flags.JSON || !isTerminal(cc.Err) {
		return nil
	}

	return newProgressFunc(cc.Err)
}

func newProgressFunc(w io.Writer) func(string, isync.Attempt) {
	var mu sync.Mutex

	return func(_ string, a isync.Attempt) {
		mu.Lock()
		defer mu.Unlock()

		switch a.State {
		case isync.StateSyncing:
			fmt.Fprintf(w, "  %s: sending\n", a.TargetID)
		case isync.StateSuccess:
			fmt.Fprintf(w, "  %s: ok (%d schedules)\n", a.TargetID, a.DeliveredCount)
		case isync.StateError:
			fmt.Fprintf(w, "  %s: failed: %s\n", a.TargetID, a.Message)
		}
	}
}
