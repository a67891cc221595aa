// Package api defines the Huma REST API routes and handlers.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"go.uber.org/zap"

	"github.com/joeblew999/campus-map/internal/campus"
	"github.com/joeblew999/campus-map/internal/humastar"
	"github.com/joeblew999/campus-map/internal/journal"
	"github.com/joeblew999/campus-map/internal/service"
	"github.com/joeblew999/campus-map/internal/wfs"
)

// Catalog answers the read questions of the API; *resolver.Resolver
// implements it.
type Catalog interface {
	AllBuildings(ctx context.Context) ([]campus.Building, error)
	Building(ctx context.Context, id string) (campus.Building, bool, error)
	ServicesForBuilding(ctx context.Context, buildingID string) ([]campus.Service, error)
	AllServices(ctx context.Context) ([]campus.Service, error)
	BuildingsForService(ctx context.Context, serviceID string) ([]campus.Building, error)
	AllDistinctAudienceTags(ctx context.Context) ([]string, error)
	BuildingsForAudience(ctx context.Context, tag string) ([]campus.Building, error)
	EnrichedServices(ctx context.Context) ([]campus.EnrichedService, error)
}

// Relocator moves a building; *wfs.Gateway implements it.
type Relocator interface {
	UpdateBuildingGeometry(ctx context.Context, featureID string, lon, lat float64) (wfs.WriteResult, error)
}

// Journal lists and appends write entries; *journal.Journal implements it.
type Journal interface {
	Record(ctx context.Context, e journal.Entry) error
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
}

// Services holds the dependencies of the API handlers. Campuses, Journal,
// Relocator and Bus may be nil.
type Services struct {
	Catalog   Catalog
	Relocator Relocator
	Campuses  *service.CampusService
	Journal   Journal
	Bus       *service.EventBus
	Logger    *zap.Logger
}

// RegisterRoutes registers every REST route of the API.
func RegisterRoutes(api huma.API, svc *Services) {
	huma.AutoRegister(api, NewAPIHandler(svc))
}

// Types

type IDInput struct {
	ID string `path:"id" doc:"Feature id" example:"batiments.12"`
}

type TagInput struct {
	Tag string `path:"tag" doc:"Audience tag" example:"students"`
}

type MessageBody struct {
	Message string `json:"message" doc:"Result message"`
}

type HealthBody struct {
	Status  string `json:"status" doc:"Health status" example:"ok"`
	Version string `json:"version" doc:"API version" example:"1.0.0"`
}

// BuildingBody is a building with its services. Buildings without services
// advertise the relocate action.
type BuildingBody struct {
	campus.Building
	Services []campus.Service `json:"services" doc:"Services offered in the building"`
}

var relocateAction = humastar.ActionDef{
	Rel: "relocate", Pattern: "/api/v1/buildings/%s/location", Method: "PUT", Title: "Move this building",
}

func (b BuildingBody) Actions() []humastar.Action {
	if len(b.Services) > 0 {
		return nil
	}
	return []humastar.Action{relocateAction.For(b.ID)}
}

type LocationBody struct {
	Lon float64 `json:"lon" minimum:"-180" maximum:"180" doc:"Longitude (EPSG:4326)" example:"1.934"`
	Lat float64 `json:"lat" minimum:"-90" maximum:"90" doc:"Latitude (EPSG:4326)" example:"47.844"`
}

// APIHandler holds all REST API handlers. Methods named Register* are
// auto-discovered by huma.AutoRegister.
type APIHandler struct {
	svc    *Services
	logger *zap.Logger
}

func NewAPIHandler(svc *Services) *APIHandler {
	logger := svc.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &APIHandler{svc: svc, logger: logger.Named("api")}
}

// RegisterHealth registers health check routes.
func (h *APIHandler) RegisterHealth(api huma.API) {
	huma.Get(api, "/health", h.GetHealth, huma.OperationTags("health"))
}

// RegisterBuildings registers building routes.
func (h *APIHandler) RegisterBuildings(api huma.API) {
	huma.Get(api, "/api/v1/buildings", h.GetBuildings, huma.OperationTags("buildings"))
	huma.Get(api, "/api/v1/buildings/{id}", h.GetBuilding, huma.OperationTags("buildings"))
	huma.Get(api, "/api/v1/buildings/{id}/services", h.GetBuildingServices, huma.OperationTags("buildings"))
	huma.Put(api, "/api/v1/buildings/{id}/location", h.PutBuildingLocation, huma.OperationTags("buildings"))
}

// RegisterServices registers service and audience routes.
func (h *APIHandler) RegisterServices(api huma.API) {
	huma.Get(api, "/api/v1/services", h.GetServices, huma.OperationTags("services"))
	huma.Get(api, "/api/v1/services/{id}/buildings", h.GetServiceBuildings, huma.OperationTags("services"))
	huma.Get(api, "/api/v1/audiences", h.GetAudiences, huma.OperationTags("services"))
	huma.Get(api, "/api/v1/audiences/{tag}/buildings", h.GetAudienceBuildings, huma.OperationTags("services"))
}

// Handlers

func (h *APIHandler) GetHealth(ctx context.Context, input *struct{}) (*struct{ Body HealthBody }, error) {
	return &struct{ Body HealthBody }{Body: HealthBody{Status: "ok", Version: Version}}, nil
}

func (h *APIHandler) GetBuildings(ctx context.Context, input *humastar.PageInput) (*struct {
	Body humastar.PageBody[campus.Building]
}, error) {
	buildings, err := h.svc.Catalog.AllBuildings(ctx)
	if err != nil {
		return nil, h.upstream("list buildings", err)
	}
	return &struct {
		Body humastar.PageBody[campus.Building]
	}{Body: humastar.Paginate(buildings, *input)}, nil
}

func (h *APIHandler) GetBuilding(ctx context.Context, input *IDInput) (*struct{ Body BuildingBody }, error) {
	b, err := h.building(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	services, err := h.svc.Catalog.ServicesForBuilding(ctx, b.ID)
	if err != nil {
		return nil, h.upstream("services of building", err)
	}
	return &struct{ Body BuildingBody }{Body: BuildingBody{Building: b, Services: nonNil(services)}}, nil
}

func (h *APIHandler) GetBuildingServices(ctx context.Context, input *IDInput) (*struct{ Body []campus.Service }, error) {
	services, err := h.svc.Catalog.ServicesForBuilding(ctx, input.ID)
	if err != nil {
		return nil, h.upstream("services of building", err)
	}
	return &struct{ Body []campus.Service }{Body: nonNil(services)}, nil
}

// PutBuildingLocation moves a building that offers no service.
func (h *APIHandler) PutBuildingLocation(ctx context.Context, input *struct {
	IDInput
	Body LocationBody
}) (*struct{ Body BuildingBody }, error) {
	if h.svc.Relocator == nil {
		return nil, huma.Error503ServiceUnavailable("relocation not available")
	}
	b, err := h.building(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	services, err := h.svc.Catalog.ServicesForBuilding(ctx, b.ID)
	if err != nil {
		return nil, h.upstream("services of building", err)
	}
	if len(services) > 0 {
		return nil, huma.Error409Conflict("only buildings without services can be moved")
	}

	res, err := h.svc.Relocator.UpdateBuildingGeometry(ctx, b.ID, input.Body.Lon, input.Body.Lat)
	h.record(ctx, b.ID, res, err)
	if err != nil {
		return nil, h.upstream("relocate building", err)
	}
	if h.svc.Bus != nil {
		h.svc.Bus.Publish(service.Event{Resource: service.ResourceBuildings, Action: "updated", ID: b.ID, Origin: "api"})
	}

	b.Lon, b.Lat = input.Body.Lon, input.Body.Lat
	return &struct{ Body BuildingBody }{Body: BuildingBody{Building: b, Services: []campus.Service{}}}, nil
}

func (h *APIHandler) GetServices(ctx context.Context, input *struct{}) (*struct{ Body []campus.Service }, error) {
	services, err := h.svc.Catalog.AllServices(ctx)
	if err != nil {
		return nil, h.upstream("list services", err)
	}
	return &struct{ Body []campus.Service }{Body: nonNil(services)}, nil
}

func (h *APIHandler) GetServiceBuildings(ctx context.Context, input *IDInput) (*struct{ Body []campus.Building }, error) {
	buildings, err := h.svc.Catalog.BuildingsForService(ctx, input.ID)
	if err != nil {
		return nil, h.upstream("buildings of service", err)
	}
	return &struct{ Body []campus.Building }{Body: nonNil(buildings)}, nil
}

func (h *APIHandler) GetAudiences(ctx context.Context, input *struct{}) (*struct{ Body []string }, error) {
	tags, err := h.svc.Catalog.AllDistinctAudienceTags(ctx)
	if err != nil {
		return nil, h.upstream("list audiences", err)
	}
	return &struct{ Body []string }{Body: nonNil(tags)}, nil
}

func (h *APIHandler) GetAudienceBuildings(ctx context.Context, input *TagInput) (*struct{ Body []campus.Building }, error) {
	buildings, err := h.svc.Catalog.BuildingsForAudience(ctx, input.Tag)
	if err != nil {
		return nil, h.upstream("buildings of audience", err)
	}
	return &struct{ Body []campus.Building }{Body: nonNil(buildings)}, nil
}

func (h *APIHandler) building(ctx context.Context, id string) (campus.Building, error) {
	b, ok, err := h.svc.Catalog.Building(ctx, id)
	if err != nil {
		return campus.Building{}, h.upstream("get building", err)
	}
	if !ok {
		return campus.Building{}, huma.Error404NotFound("building not found")
	}
	return b, nil
}

func (h *APIHandler) record(ctx context.Context, featureID string, res wfs.WriteResult, err error) {
	if h.svc.Journal == nil {
		return
	}
	e := journal.Entry{Op: "update", TypeName: wfs.TypeBuildings, FeatureID: featureID, Confirmed: err == nil && res.Confirmed}
	if err != nil {
		e.Error = err.Error()
	}
	if jerr := h.svc.Journal.Record(context.WithoutCancel(ctx), e); jerr != nil {
		h.logger.Warn("journal write failed", zap.Error(jerr))
	}
}

// upstream maps a WFS failure to a 502, anything else to a 500.
func (h *APIHandler) upstream(what string, err error) error {
	h.logger.Warn(what+" failed", zap.Error(err))
	var se *wfs.ServerError
	switch {
	case errors.Is(err, context.Canceled):
		return huma.NewError(499, "request cancelled")
	case wfs.IsNetworkError(err), errors.As(err, &se), errors.Is(err, wfs.ErrWriteUnconfirmed):
		return huma.Error502BadGateway(what+": map server unavailable or rejected the request", err)
	}
	return huma.NewError(http.StatusInternalServerError, what+" failed", err)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
