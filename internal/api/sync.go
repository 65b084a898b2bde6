package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	isync "github.com/gatemesh/pathsync/internal/sync"
)

type syncOutput struct {
	Body *ResultView
}

func (s *server) lastResult(pathID string) *isync.Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.results[pathID]
}

func (s *server) storeResult(res *isync.Result) {
	s.mu.Lock()
	s.results[res.PathID] = res
	s.mu.Unlock()
}

func (s *server) registerSync(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "sync-path",
		Method:      http.MethodPost,
		Path:        "/paths/{pathId}/sync",
		Summary:     "Push the path's schedules to its nodes",
		Errors:      pathErrors,
	}, func(ctx context.Context, in *struct {
		PathID string       `path:"pathId"`
		Body   *SyncRequest `required:"false"`
	}) (*syncOutput, error) {
		p, err := s.cfg.Paths.Store().GetPath(ctx, in.PathID)
		if err != nil {
			return nil, handleError(err)
		}

		targets := p.NodeIDs()
		if in.Body != nil && len(in.Body.Targets) > 0 {
			targets = in.Body.Targets
		}

		res, err := s.cfg.Sync.SyncAll(ctx, p.ID, p.Schedules, targets, s.cfg.Transport)
		if err != nil {
			return nil, handleError(err)
		}

		s.storeResult(res)

		return &syncOutput{Body: NewResultView(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "retry-sync",
		Method:      http.MethodPost,
		Path:        "/paths/{pathId}/sync/retry",
		Summary:     "Re-send to the targets that failed last round",
		Errors:      pathErrors,
	}, func(ctx context.Context, in *pathInput) (*syncOutput, error) {
		p, err := s.cfg.Paths.Store().GetPath(ctx, in.PathID)
		if err != nil {
			return nil, handleError(err)
		}

		prev := s.lastResult(p.ID)
		if prev == nil {
			return nil, handleError(errNoRound)
		}

		res, err := s.cfg.Sync.RetryFailed(ctx, p.ID, prev, p.Schedules, s.cfg.Transport)
		if err != nil {
			return nil, handleError(err)
		}

		s.storeResult(res)

		return &syncOutput{Body: NewResultView(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-sync",
		Method:      http.MethodGet,
		Path:        "/paths/{pathId}/sync",
		Summary:     "Last sync round for a path",
		Errors:      []int{http.StatusNotFound},
	}, func(_ context.Context, in *pathInput) (*syncOutput, error) {
		prev := s.lastResult(in.PathID)
		if prev == nil {
			return nil, handleError(errNoRound)
		}

		return &syncOutput{Body: NewResultView(prev)}, nil
	})
}
