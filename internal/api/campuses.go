package api

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/campus-map/internal/service"
)

type CampusIDInput struct {
	ID string `path:"id" doc:"Campus preset ID" example:"bourges"`
}

type CampusOutput struct {
	Body service.CampusPreset
}

type CampusesOutput struct {
	Body []service.CampusPreset
}

// RegisterCampuses registers campus preset CRUD routes.
func (h *APIHandler) RegisterCampuses(api huma.API) {
	huma.Get(api, "/api/v1/campuses", h.GetCampuses, huma.OperationTags("campuses"))
	huma.Post(api, "/api/v1/campuses", h.CreateCampus, huma.OperationTags("campuses"))
	huma.Get(api, "/api/v1/campuses/{id}", h.GetCampus, huma.OperationTags("campuses"))
	huma.Put(api, "/api/v1/campuses/{id}", h.PutCampus, huma.OperationTags("campuses"))
	huma.Delete(api, "/api/v1/campuses/{id}", h.DeleteCampus, huma.OperationTags("campuses"))
}

func (h *APIHandler) GetCampuses(ctx context.Context, input *struct{}) (*CampusesOutput, error) {
	if h.svc.Campuses == nil {
		return &CampusesOutput{Body: []service.CampusPreset{}}, nil
	}
	return &CampusesOutput{Body: h.svc.Campuses.List()}, nil
}

func (h *APIHandler) CreateCampus(ctx context.Context, input *struct{ Body service.CampusPreset }) (*CampusOutput, error) {
	if h.svc.Campuses == nil {
		return nil, huma.Error503ServiceUnavailable("campus presets not available")
	}
	created, err := h.svc.Campuses.Create(input.Body)
	if err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}
	return &CampusOutput{Body: created}, nil
}

func (h *APIHandler) GetCampus(ctx context.Context, input *CampusIDInput) (*CampusOutput, error) {
	if h.svc.Campuses == nil {
		return nil, huma.Error404NotFound("campus preset not found")
	}
	p, ok := h.svc.Campuses.Get(input.ID)
	if !ok {
		return nil, huma.Error404NotFound("campus preset not found")
	}
	return &CampusOutput{Body: p}, nil
}

func (h *APIHandler) PutCampus(ctx context.Context, input *struct {
	CampusIDInput
	Body service.CampusPreset
}) (*CampusOutput, error) {
	if h.svc.Campuses == nil {
		return nil, huma.Error503ServiceUnavailable("campus presets not available")
	}
	updated, err := h.svc.Campuses.Update(input.ID, input.Body)
	if err != nil {
		return nil, presetError(err)
	}
	return &CampusOutput{Body: updated}, nil
}

func (h *APIHandler) DeleteCampus(ctx context.Context, input *CampusIDInput) (*struct{ Body MessageBody }, error) {
	if h.svc.Campuses == nil {
		return nil, huma.Error503ServiceUnavailable("campus presets not available")
	}
	if err := h.svc.Campuses.Delete(input.ID); err != nil {
		return nil, presetError(err)
	}
	return &struct{ Body MessageBody }{Body: MessageBody{Message: "Campus preset deleted"}}, nil
}

func presetError(err error) error {
	if errors.Is(err, service.ErrPresetNotFound) {
		return huma.Error404NotFound(err.Error())
	}
	return huma.Error500InternalServerError("saving campus presets failed", err)
}
