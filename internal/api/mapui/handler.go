// Package mapui contains the Datastar SSE handlers behind the campus map page.
//
// Every handler reads the Datastar signals posted by the page (the session
// id is the "session" signal), applies one controller operation, then
// answers with the popup fragment, the page signals and a "map-state"
// custom event carrying the displayed features for OpenLayers.
package mapui

import (
	"context"
	"errors"
	"html/template"

	"github.com/danielgtaylor/huma/v2"
	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"github.com/joeblew999/campus-map/internal/campus"
	"github.com/joeblew999/campus-map/internal/humastar"
	"github.com/joeblew999/campus-map/internal/mapstate"
	"github.com/joeblew999/campus-map/internal/service"
	"github.com/joeblew999/campus-map/internal/templates"
)

// Catalog lists the data behind the filter buttons.
type Catalog interface {
	AllServices(ctx context.Context) ([]campus.Service, error)
	AllDistinctAudienceTags(ctx context.Context) ([]string, error)
}

// MapHandler serves /api/v1/map.
type MapHandler struct {
	humastar.Handler
	controller *mapstate.Controller
	catalog    Catalog
	campuses   *service.CampusService
	bus        *service.EventBus
	logger     *zap.Logger
}

// NewMapHandler creates the map handler. bus may be nil, in which case the
// events stream only closes when the client leaves.
func NewMapHandler(controller *mapstate.Controller, catalog Catalog, campuses *service.CampusService,
	bus *service.EventBus, renderer *templates.Renderer, logger *zap.Logger) *MapHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MapHandler{
		Handler:    humastar.Handler{Renderer: renderer},
		controller: controller,
		catalog:    catalog,
		campuses:   campuses,
		bus:        bus,
		logger:     logger.Named("mapui"),
	}
}

func (h *MapHandler) RegisterRoutes(api huma.API) {
	tags := huma.OperationTags("map")
	huma.Post(api, "/api/v1/map/open", h.Open, tags)
	huma.Post(api, "/api/v1/map/click", h.Click, tags)
	huma.Post(api, "/api/v1/map/submit", h.Submit, tags)
	huma.Post(api, "/api/v1/map/cancel", h.Cancel, tags)
	huma.Post(api, "/api/v1/map/relocate", h.Relocate, tags)
	huma.Post(api, "/api/v1/map/edit", h.ToggleEdit, tags)
	huma.Post(api, "/api/v1/map/search", h.Search, tags)
	huma.Post(api, "/api/v1/map/reset", h.Reset, tags)
	huma.Post(api, "/api/v1/map/filter/service/{id}", h.FilterByService, tags)
	huma.Post(api, "/api/v1/map/filter/audience/{tag}", h.FilterByAudience, tags)
	huma.Post(api, "/api/v1/map/campus/{id}", h.SelectCampus, tags)
	huma.Get(api, "/api/v1/map/events", h.Events, tags)
}

// mapState is the detail of the "map-state" custom event.
type mapState struct {
	Session      string                 `json:"session"`
	State        string                 `json:"state"`
	Editing      bool                   `json:"editing"`
	Interactions []mapstate.Interaction `json:"interactions"`
	Features     []mapstate.Feature     `json:"features"`
	Popup        *orb.Point             `json:"popup"`
	Relocating   string                 `json:"relocating,omitempty"`
}

type infoPopup struct {
	Building    campus.Building
	Services    []campus.Service
	CanRelocate bool
}

type formPopup struct {
	Lon, Lat float64
	Form     campus.BuildingForm
	Errors   map[string]string
	Options  template.HTML
}

type filterButton struct {
	Label string
	Href  string
	Title string
}

// respond pushes the session view after an operation. Superseded
// operations send nothing; the newer one answers.
func (h *MapHandler) respond(ctx context.Context, sse humastar.SSE, id string, opErr error) {
	switch {
	case errors.Is(opErr, mapstate.ErrSuperseded):
		return
	case errors.Is(opErr, mapstate.ErrSessionNotFound):
		sse.Signals(map[string]any{"error": "Your map session has expired. Reload the page.", "expired": true})
		return
	}

	view, err := h.controller.View(id)
	if err != nil {
		sse.Error(err.Error())
		return
	}

	sse.Patch(h.renderPopup(ctx, view.Popup), "#popup")
	sse.DispatchCustomEvent("map-state", stateOf(view))

	signals := map[string]any{
		"editing": view.Editing,
		"search":  view.SearchText,
		"mode":    view.State.String(),
	}
	if banner := h.controller.Banner(id); banner != "" {
		signals["error"] = banner
	} else if opErr != nil && (view.Popup == nil || view.Popup.Errors == nil) {
		signals["error"] = opErr.Error()
	}
	sse.Signals(signals)
}

func stateOf(v mapstate.View) mapState {
	st := mapState{
		Session:      v.SessionID,
		State:        v.State.String(),
		Editing:      v.Editing,
		Interactions: v.Interactions,
		Features:     v.Features,
		Relocating:   v.Relocating,
	}
	if st.Interactions == nil {
		st.Interactions = []mapstate.Interaction{}
	}
	if v.Popup != nil {
		anchor := campus.ToDisplay(v.Popup.Building.Location)
		if v.Popup.Kind == mapstate.PopupForm {
			anchor = campus.ToDisplay(v.Popup.Location)
		}
		st.Popup = &anchor
	}
	return st
}

func (h *MapHandler) renderPopup(ctx context.Context, p *mapstate.Popup) string {
	if p == nil {
		return ""
	}
	if p.Kind == mapstate.PopupInfo {
		return h.Render("popup-info", infoPopup{Building: p.Building, Services: p.Services, CanRelocate: p.CanRelocate})
	}

	data := formPopup{Lon: p.Location.Lon(), Lat: p.Location.Lat(), Form: p.Form, Errors: p.Errors}
	services, err := h.catalog.AllServices(ctx)
	if err != nil {
		h.logger.Warn("service list unavailable for the creation form", zap.Error(err))
	}
	options := make([]humastar.SelectOptionData, 0, len(services))
	for _, s := range services {
		options = append(options, humastar.SelectOptionData{Value: s.ID, Label: s.Name})
	}
	// Options are rendered by the escaping select-option template.
	data.Options = template.HTML(h.RenderSelect("No service", options))
	return h.Render("popup-form", data)
}
