package mapui

import (
	"context"
	"net/url"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/campus-map/internal/campus"
	"github.com/joeblew999/campus-map/internal/humastar"
	"github.com/joeblew999/campus-map/internal/mapstate"
)

type FilterInput struct {
	ID      string `path:"id" doc:"Service or campus preset id" example:"services.1"`
	RawBody []byte
}

type AudienceInput struct {
	Tag     string `path:"tag" doc:"Audience tag" example:"students"`
	RawBody []byte
}

// FilterByService shows the buildings offering a service.
func (h *MapHandler) FilterByService(ctx context.Context, input *FilterInput) (*huma.StreamResponse, error) {
	id, err := sessionOf(input.RawBody)
	if err != nil {
		return nil, err
	}
	return h.Stream(func(sse humastar.SSE) {
		h.respond(ctx, sse, id, h.controller.FilterByService(ctx, id, input.ID))
	}), nil
}

// FilterByAudience shows the buildings serving an audience.
func (h *MapHandler) FilterByAudience(ctx context.Context, input *AudienceInput) (*huma.StreamResponse, error) {
	id, err := sessionOf(input.RawBody)
	if err != nil {
		return nil, err
	}
	return h.Stream(func(sse humastar.SSE) {
		h.respond(ctx, sse, id, h.controller.FilterByAudience(ctx, id, input.Tag))
	}), nil
}

// Search shows the buildings named like the "search" signal.
func (h *MapHandler) Search(ctx context.Context, input *humastar.SignalsInput) (*huma.StreamResponse, error) {
	signals, err := input.MustParse()
	if err != nil {
		return nil, err
	}
	id := signals.String("session")
	text := signals.String("search")
	return h.Stream(func(sse humastar.SSE) {
		h.respond(ctx, sse, id, h.controller.Search(ctx, id, text))
	}), nil
}

// SelectCampus shows the buildings of a campus preset and frames its view.
func (h *MapHandler) SelectCampus(ctx context.Context, input *FilterInput) (*huma.StreamResponse, error) {
	id, err := sessionOf(input.RawBody)
	if err != nil {
		return nil, err
	}
	preset, ok := h.campuses.Get(input.ID)
	if !ok {
		return nil, huma.Error404NotFound("campus preset not found")
	}
	return h.Stream(func(sse humastar.SSE) {
		center := campus.ToDisplay(preset.Center)
		sse.DispatchCustomEvent("map-view", map[string]any{"center": center, "zoom": preset.Zoom})
		h.respond(ctx, sse, id, h.controller.SelectCampus(ctx, id, preset))
	}), nil
}

// Reset leaves edit mode, clears the search and shows every building.
func (h *MapHandler) Reset(ctx context.Context, input *humastar.SignalsInput) (*huma.StreamResponse, error) {
	signals, err := input.MustParse()
	if err != nil {
		return nil, err
	}
	id := signals.String("session")
	return h.Stream(func(sse humastar.SSE) {
		h.respond(ctx, sse, id, h.controller.Reset(ctx, id))
	}), nil
}

// renderFilters renders the service, audience and campus buttons.
func (h *MapHandler) renderFilters(ctx context.Context, sse humastar.SSE) {
	services, err := h.catalog.AllServices(ctx)
	if err != nil {
		sse.Error(bannerOr(err, "Services could not be loaded"))
	}
	buttons := make([]any, 0, len(services))
	for _, s := range services {
		buttons = append(buttons, filterButton{
			Label: s.Name, Title: s.Description,
			Href: "/api/v1/map/filter/service/" + url.PathEscape(s.ID),
		})
	}
	sse.Patch(h.RenderList("filter-button", buttons, "No services", ""), "#service-filters")

	tags, err := h.catalog.AllDistinctAudienceTags(ctx)
	if err != nil {
		sse.Error(bannerOr(err, "Audiences could not be loaded"))
	}
	buttons = make([]any, 0, len(tags))
	for _, tag := range tags {
		buttons = append(buttons, filterButton{Label: tag, Href: "/api/v1/map/filter/audience/" + url.PathEscape(tag)})
	}
	sse.Patch(h.RenderList("filter-button", buttons, "No audiences", ""), "#audience-filters")

	h.renderCampuses(sse)
}

func (h *MapHandler) renderCampuses(sse humastar.SSE) {
	presets := h.campuses.List()
	buttons := make([]any, 0, len(presets))
	for _, p := range presets {
		buttons = append(buttons, filterButton{Label: p.Name, Href: "/api/v1/map/campus/" + url.PathEscape(p.ID)})
	}
	sse.Patch(h.RenderList("filter-button", buttons, "No campus presets", ""), "#campus-buttons")
}

func sessionOf(body []byte) (string, error) {
	signals, err := (&humastar.SignalsInput{RawBody: body}).MustParse()
	if err != nil {
		return "", err
	}
	return signals.String("session"), nil
}

func bannerOr(err error, fallback string) string {
	if msg := mapstate.BannerMessage(err); msg != "" {
		return msg
	}
	return fallback
}
