package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/gatemesh/pathsync/internal/registry"
	"github.com/gatemesh/pathsync/internal/store"
	"github.com/gatemesh/pathsync/internal/topology"
)

type pathInput struct {
	PathID string `path:"pathId"`
}

type pathOutput struct {
	Body *topology.Path
}

var pathErrors = []int{
	http.StatusBadRequest,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
	http.StatusInternalServerError,
}

// update runs fn under the updater and converts the outcome into a response.
func (s *server) update(ctx context.Context, id string, fn func(p *topology.Path) error) (*pathOutput, error) {
	p, err := s.cfg.Paths.Update(ctx, id, fn)
	if err != nil {
		return nil, handleError(err)
	}

	return &pathOutput{Body: p}, nil
}

func (s *server) registerPaths(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-paths",
		Method:      http.MethodGet,
		Path:        "/paths",
		Summary:     "List paths",
	}, func(ctx context.Context, in *struct {
		FarmID string `query:"farmId"`
		ZoneID string `query:"zoneId"`
		Active bool   `query:"active"`
		NodeID string `query:"nodeId"`
	}) (*struct {
		Body []*topology.Path
	}, error) {
		paths, err := s.cfg.Paths.Store().ListPaths(ctx, store.Filter{
			FarmID:     in.FarmID,
			ZoneID:     in.ZoneID,
			ActiveOnly: in.Active,
			NodeID:     in.NodeID,
		})
		if err != nil {
			return nil, handleError(err)
		}

		return &struct {
			Body []*topology.Path
		}{Body: paths}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-path",
		Method:        http.MethodPost,
		Path:          "/paths",
		Summary:       "Create path",
		DefaultStatus: http.StatusCreated,
		Errors:        pathErrors,
	}, func(ctx context.Context, in *struct {
		Body PathRequest
	}) (*pathOutput, error) {
		id := in.Body.ID
		if id == "" {
			id = uuid.NewString()
		}

		now := s.cfg.Now()
		p := topology.NewPath(id, in.Body.Name)
		p.Description = in.Body.Description
		p.FarmID = in.Body.FarmID
		p.ZoneID = in.Body.ZoneID
		p.MaxFlowRate = in.Body.MaxFlowRate
		p.TargetPressure = in.Body.TargetPressure
		p.CreatedAt = now
		p.UpdatedAt = now

		if err := s.cfg.Paths.Create(ctx, p); err != nil {
			return nil, handleError(err)
		}

		return &pathOutput{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-path",
		Method:      http.MethodGet,
		Path:        "/paths/{pathId}",
		Summary:     "Get path",
		Errors:      pathErrors,
	}, func(ctx context.Context, in *pathInput) (*pathOutput, error) {
		p, err := s.cfg.Paths.Store().GetPath(ctx, in.PathID)
		if err != nil {
			return nil, handleError(err)
		}

		return &pathOutput{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "patch-path",
		Method:      http.MethodPatch,
		Path:        "/paths/{pathId}",
		Summary:     "Edit path metadata",
		Errors:      pathErrors,
	}, func(ctx context.Context, in *struct {
		PathID string `path:"pathId"`
		Body   PathPatch
	}) (*pathOutput, error) {
		return s.update(ctx, in.PathID, func(p *topology.Path) error {
			b := &in.Body
			if b.Name != nil {
				p.Name = topology.NormalizeName(*b.Name)
			}

			if b.Description != nil {
				p.Description = *b.Description
			}

			if b.FarmID != nil {
				p.FarmID = *b.FarmID
			}

			if b.ZoneID != nil {
				p.ZoneID = *b.ZoneID
			}

			if b.MaxFlowRate != nil {
				p.MaxFlowRate = *b.MaxFlowRate
			}

			if b.TargetPressure != nil {
				p.TargetPressure = *b.TargetPressure
			}

			p.UpdatedAt = s.cfg.Now()

			return nil
		})
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-path",
		Method:        http.MethodDelete,
		Path:          "/paths/{pathId}",
		Summary:       "Delete path and its schedules",
		DefaultStatus: http.StatusNoContent,
		Errors:        pathErrors,
	}, func(ctx context.Context, in *pathInput) (*struct{}, error) {
		if err := s.cfg.Paths.Delete(ctx, in.PathID); err != nil {
			return nil, handleError(err)
		}

		s.mu.Lock()
		delete(s.results, in.PathID)
		s.mu.Unlock()

		return nil, nil
	})
}

func (s *server) registerTopology(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-node",
		Method:        http.MethodPost,
		Path:          "/paths/{pathId}/nodes",
		Summary:       "Add node to path",
		DefaultStatus: http.StatusCreated,
		Errors:        pathErrors,
	}, func(ctx context.Context, in *struct {
		PathID string `path:"pathId"`
		Body   NodeRequest
	}) (*struct {
		Body topology.AddNodeResult
	}, error) {
		node := topology.PathNode{NodeID: in.Body.NodeID, Role: in.Body.Role}

		// A registry node contributes its inferred role and its health.
		if reg, ok := s.cfg.Registry.Node(in.Body.NodeID); ok {
			defaults := registry.PathNode(reg)
			if node.Role == "" {
				node.Role = defaults.Role
			}

			node.Status = defaults.Status
		}

		var res topology.AddNodeResult

		_, err := s.cfg.Paths.Update(ctx, in.PathID, func(p *topology.Path) error {
			var err error
			res, err = p.AddNode(node, in.Body.AfterOrder)

			return err
		})
		if err != nil {
			return nil, handleError(err)
		}

		return &struct {
			Body topology.AddNodeResult
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-node",
		Method:      http.MethodDelete,
		Path:        "/paths/{pathId}/nodes/{nodeId}",
		Summary:     "Remove node and its connections",
		Errors:      pathErrors,
	}, func(ctx context.Context, in *struct {
		PathID string `path:"pathId"`
		NodeID string `path:"nodeId"`
	}) (*pathOutput, error) {
		return s.update(ctx, in.PathID, func(p *topology.Path) error {
			return p.RemoveNode(in.NodeID)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "reorder-nodes",
		Method:      http.MethodPut,
		Path:        "/paths/{pathId}/order",
		Summary:     "Reorder nodes",
		Errors:      pathErrors,
	}, func(ctx context.Context, in *struct {
		PathID string `path:"pathId"`
		Body   OrderRequest
	}) (*pathOutput, error) {
		return s.update(ctx, in.PathID, func(p *topology.Path) error {
			return p.Reorder(in.Body.NodeIDs)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-connection",
		Method:        http.MethodPost,
		Path:          "/paths/{pathId}/connections",
		Summary:       "Connect two nodes",
		DefaultStatus: http.StatusCreated,
		Errors:        pathErrors,
	}, func(ctx context.Context, in *struct {
		PathID string `path:"pathId"`
		Body   ConnectionRequest
	}) (*pathOutput, error) {
		b := &in.Body

		kind := b.Kind
		if kind == "" {
			kind = topology.KindPipe
		}

		return s.update(ctx, in.PathID, func(p *topology.Path) error {
			if _, err := p.AddConnection(b.From, b.To, kind); err != nil {
				return err
			}

			if b.Size == nil && b.Length == nil {
				return nil
			}

			return p.SetConnectionDimensions(b.From, b.To, b.Size, b.Length)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-connection",
		Method:      http.MethodDelete,
		Path:        "/paths/{pathId}/connections/{from}/{to}",
		Summary:     "Remove connection",
		Errors:      pathErrors,
	}, func(ctx context.Context, in *struct {
		PathID string `path:"pathId"`
		From   string `path:"from"`
		To     string `path:"to"`
	}) (*pathOutput, error) {
		return s.update(ctx, in.PathID, func(p *topology.Path) error {
			p.RemoveConnection(in.From, in.To)

			return nil
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "refresh-node-status",
		Method:      http.MethodPost,
		Path:        "/paths/{pathId}/refresh-status",
		Summary:     "Copy registry health onto the path's nodes",
		Errors:      pathErrors,
	}, func(ctx context.Context, in *pathInput) (*pathOutput, error) {
		lookup := registry.StatusLookup(s.cfg.Registry)

		return s.update(ctx, in.PathID, func(p *topology.Path) error {
			p.RefreshNodeStatus(lookup)

			return nil
		})
	})
}

func (s *server) registerFlow(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "start-flow",
		Method:      http.MethodPost,
		Path:        "/paths/{pathId}/flow/start",
		Summary:     "Start flow",
		Errors:      pathErrors,
	}, func(ctx context.Context, in *pathInput) (*pathOutput, error) {
		return s.update(ctx, in.PathID, s.cfg.Flow.Start)
	})

	huma.Register(api, huma.Operation{
		OperationID: "stop-flow",
		Method:      http.MethodPost,
		Path:        "/paths/{pathId}/flow/stop",
		Summary:     "Stop flow",
		Errors:      pathErrors,
	}, func(ctx context.Context, in *pathInput) (*pathOutput, error) {
		return s.update(ctx, in.PathID, func(p *topology.Path) error {
			s.cfg.Flow.Stop(p)

			return nil
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "apply-metrics",
		Method:      http.MethodPost,
		Path:        "/paths/{pathId}/metrics",
		Summary:     "Merge a telemetry sample",
		Errors:      pathErrors,
	}, func(ctx context.Context, in *struct {
		PathID string `path:"pathId"`
		Body   topology.MetricsUpdate
	}) (*pathOutput, error) {
		return s.update(ctx, in.PathID, func(p *topology.Path) error {
			return s.cfg.Flow.ApplyMetrics(p, in.Body)
		})
	})
}
