package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/gatemesh/pathsync/internal/schedule"
	"github.com/gatemesh/pathsync/internal/topology"
)

// exportVersion is the version of the YAML path document.
const exportVersion = 1

// pathDocument is the YAML form of a path: its definition and schedules,
// without runtime flow state or telemetry.
type pathDocument struct {
	Version int            `yaml:"version"`
	Path    *topology.Path `yaml:"path"`
}

func encodePathDocument(w io.Writer, p *topology.Path) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)

	if err := enc.Encode(pathDocument{Version: exportVersion, Path: p}); err != nil {
		return fmt.Errorf("encoding path document: %w", err)
	}

	return enc.Close()
}

// decodePathDocument reads a document and prepares its path for storage:
// the path starts idle, names are normalized, and schedules are validated
// and given a next run relative to now.
func decodePathDocument(r io.Reader, e *schedule.Engine, now time.Time) (*topology.Path, error) {
	var doc pathDocument

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding path document: %w", err)
	}

	if doc.Version != exportVersion {
		return nil, fmt.Errorf("unsupported path document version %d (want %d)", doc.Version, exportVersion)
	}

	if doc.Path == nil {
		return nil, errors.New("path document has no path")
	}

	p := doc.Path
	p.Name = topology.NormalizeName(p.Name)
	p.Status = topology.StatusIdle
	p.CreatedAt = now
	p.UpdatedAt = now

	if p.Nodes == nil {
		p.Nodes = []topology.PathNode{}
	}

	if p.Connections == nil {
		p.Connections = []topology.Connection{}
	}

	for i := range p.Nodes {
		if p.Nodes[i].Status == "" {
			p.Nodes[i].Status = topology.NodeOK
		}
	}

	scheds := p.Schedules
	p.Schedules = []schedule.Schedule{}

	for _, s := range scheds {
		created := s.CreatedAt
		lastRun, runs := s.LastRun, s.RunCount

		stored, err := p.AddSchedule(e, s, now)
		if err != nil {
			return nil, err
		}

		// Keep the schedule's history across the round trip.
		if !created.IsZero() {
			stored.CreatedAt = created
		}

		stored.LastRun = lastRun
		stored.RunCount = runs

		if err := p.ReplaceSchedule(stored); err != nil {
			return nil, err
		}
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}

	return p, nil
}

func newPathExportCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export <path-id>",
		Short: "Write a path and its schedules as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			return withApp(cmd.Context(), cc, func(a *app) error {
				p, err := a.store.GetPath(cmd.Context(), args[0])
				if err != nil {
					return err
				}

				if output == "" || output == "-" {
					return encodePathDocument(cc.Out, p)
				}

				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("creating export file: %w", err)
				}

				if err := encodePathDocument(f, p); err != nil {
					f.Close()
					return err
				}

				return f.Close()
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")

	return cmd
}

func newPathImportCmd() *cobra.Command {
	var replace bool

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Create a path from a YAML document",
		Long: `Create a path from a document written by 'pathsync path export'. Use "-"
to read standard input. With --replace an existing path with the same id is
overwritten.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			var r io.Reader = cmd.InOrStdin()

			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("opening path document: %w", err)
				}
				defer f.Close()

				r = f
			}

			return withApp(cmd.Context(), cc, func(a *app) error {
				p, err := decodePathDocument(r, a.engine, time.Now())
				if err != nil {
					return err
				}

				if replace {
					err = a.paths.Replace(cmd.Context(), p)
				} else {
					err = a.paths.Create(cmd.Context(), p)
				}

				if err != nil {
					return err
				}

				cc.Statusf("Imported path %s (%d nodes, %d schedules)\n", p.ID, len(p.Nodes), len(p.Schedules))

				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&replace, "replace", false, "overwrite an existing path with the same id")

	return cmd
}
