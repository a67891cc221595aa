package mapui

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"github.com/joeblew999/campus-map/internal/campus"
	"github.com/joeblew999/campus-map/internal/humastar"
	"github.com/joeblew999/campus-map/internal/mapstate"
)

// Open starts a map session, renders the filter buttons and loads every
// building.
func (h *MapHandler) Open(ctx context.Context, input *humastar.SignalsInput) (*huma.StreamResponse, error) {
	return h.Stream(func(sse humastar.SSE) {
		s := h.controller.Open()
		h.logger.Debug("map session opened", zap.String("session", s.ID))
		sse.Signals(map[string]any{"session": s.ID})
		h.renderFilters(ctx, sse)
		h.respond(ctx, sse, s.ID, h.controller.Refresh(ctx, s.ID))
	}), nil
}

// Click handles a map click. The page sends the hit feature (if any) and
// the display-projection coordinate.
func (h *MapHandler) Click(ctx context.Context, input *humastar.SignalsInput) (*huma.StreamResponse, error) {
	signals, err := input.MustParse()
	if err != nil {
		return nil, err
	}
	if !signals.Has("clickx") || !signals.Has("clicky") {
		return nil, huma.Error400BadRequest("click coordinates are required")
	}
	id := signals.String("session")
	ev := mapstate.ClickEvent{
		FeatureID:  signals.String("clickfeature"),
		Coordinate: orb.Point{signals.Float("clickx"), signals.Float("clicky")},
	}
	return h.Stream(func(sse humastar.SSE) {
		h.respond(ctx, sse, id, h.controller.Click(ctx, id, ev))
	}), nil
}

// Submit saves the building being created.
func (h *MapHandler) Submit(ctx context.Context, input *humastar.SignalsInput) (*huma.StreamResponse, error) {
	signals, err := input.MustParse()
	if err != nil {
		return nil, err
	}
	id := signals.String("session")
	form := parseBuildingForm(signals)
	return h.Stream(func(sse humastar.SSE) {
		err := h.controller.Submit(ctx, id, form)
		if err == nil {
			sse.Signals(resetFormSignals())
			sse.Success("Building '" + form.Name + "' saved")
		}
		h.respond(ctx, sse, id, err)
	}), nil
}

// Cancel closes the popup, discarding an unsaved building.
func (h *MapHandler) Cancel(ctx context.Context, input *humastar.SignalsInput) (*huma.StreamResponse, error) {
	signals, err := input.MustParse()
	if err != nil {
		return nil, err
	}
	id := signals.String("session")
	return h.Stream(func(sse humastar.SSE) {
		err := h.controller.Cancel(id)
		sse.Signals(resetFormSignals())
		h.respond(ctx, sse, id, err)
	}), nil
}

// Relocate arms relocation of the "relocateid" building; the next click
// is its new location.
func (h *MapHandler) Relocate(ctx context.Context, input *humastar.SignalsInput) (*huma.StreamResponse, error) {
	signals, err := input.MustParse()
	if err != nil {
		return nil, err
	}
	id := signals.String("session")
	building := signals.String("relocateid")
	if building == "" {
		return nil, huma.Error400BadRequest("relocateid is required")
	}
	return h.Stream(func(sse humastar.SSE) {
		err := h.controller.RequestRelocation(id, building)
		if err == nil {
			sse.Success("Click the new location of the building")
		}
		h.respond(ctx, sse, id, err)
	}), nil
}

// ToggleEdit enters or leaves edit mode.
func (h *MapHandler) ToggleEdit(ctx context.Context, input *humastar.SignalsInput) (*huma.StreamResponse, error) {
	signals, err := input.MustParse()
	if err != nil {
		return nil, err
	}
	id := signals.String("session")
	return h.Stream(func(sse humastar.SSE) {
		_, err := h.controller.ToggleEdit(id)
		h.respond(ctx, sse, id, err)
	}), nil
}

func parseBuildingForm(s humastar.Signals) campus.BuildingForm {
	return campus.BuildingForm{
		Name:       s.String("name"),
		Component:  s.String("component"),
		Campus:     s.String("campus"),
		PostalCode: s.String("postalcode"),
		Street:     s.String("street"),
		ServiceID:  s.String("serviceid"),
	}
}

func resetFormSignals() map[string]any {
	return map[string]any{
		"name":       "",
		"component":  "",
		"campus":     "",
		"postalcode": "",
		"street":     "",
		"serviceid":  "",
	}
}
