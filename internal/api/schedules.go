package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/gatemesh/pathsync/internal/schedule"
	"github.com/gatemesh/pathsync/internal/topology"
)

type scheduleOutput struct {
	Body schedule.Schedule
}

func (s *server) registerSchedules(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-schedule",
		Method:        http.MethodPost,
		Path:          "/paths/{pathId}/schedules",
		Summary:       "Attach a schedule",
		DefaultStatus: http.StatusCreated,
		Errors:        pathErrors,
	}, func(ctx context.Context, in *struct {
		PathID string `path:"pathId"`
		Body   ScheduleRequest
	}) (*scheduleOutput, error) {
		def, err := in.Body.toSchedule()
		if err != nil {
			return nil, handleError(err)
		}

		var out schedule.Schedule

		_, err = s.cfg.Paths.Update(ctx, in.PathID, func(p *topology.Path) error {
			out, err = p.AddSchedule(s.cfg.Engine, def, s.cfg.Now())

			return err
		})
		if err != nil {
			return nil, handleError(err)
		}

		return &scheduleOutput{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-schedule",
		Method:      http.MethodPut,
		Path:        "/paths/{pathId}/schedules/{scheduleId}",
		Summary:     "Replace a schedule definition",
		Errors:      pathErrors,
	}, func(ctx context.Context, in *struct {
		PathID     string `path:"pathId"`
		ScheduleID string `path:"scheduleId"`
		Body       ScheduleRequest
	}) (*scheduleOutput, error) {
		def, err := in.Body.toSchedule()
		if err != nil {
			return nil, handleError(err)
		}

		def.ID = in.ScheduleID

		var out schedule.Schedule

		_, err = s.cfg.Paths.Update(ctx, in.PathID, func(p *topology.Path) error {
			out, err = p.UpdateSchedule(s.cfg.Engine, def, s.cfg.Now())

			return err
		})
		if err != nil {
			return nil, handleError(err)
		}

		return &scheduleOutput{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-schedule",
		Method:        http.MethodDelete,
		Path:          "/paths/{pathId}/schedules/{scheduleId}",
		Summary:       "Detach a schedule",
		DefaultStatus: http.StatusNoContent,
		Errors:        pathErrors,
	}, func(ctx context.Context, in *struct {
		PathID     string `path:"pathId"`
		ScheduleID string `path:"scheduleId"`
	}) (*struct{}, error) {
		_, err := s.cfg.Paths.Update(ctx, in.PathID, func(p *topology.Path) error {
			return p.RemoveSchedule(in.ScheduleID)
		})
		if err != nil {
			return nil, handleError(err)
		}

		return nil, nil
	})
}
