package mapui

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
	"go.uber.org/zap"

	"github.com/joeblew999/campus-map/internal/humastar"
	"github.com/joeblew999/campus-map/internal/service"
)

type EventsInput struct {
	Session string `query:"session" required:"true" doc:"Map session id"`
}

// Events streams changes made by other sessions: edited buildings and links
// refresh the displayed set, edited presets re-render the campus buttons.
func (h *MapHandler) Events(ctx context.Context, input *EventsInput) (*huma.StreamResponse, error) {
	return h.Stream(func(sse humastar.SSE) {
		if h.bus == nil {
			<-ctx.Done()
			return
		}
		ch := h.bus.Subscribe()
		defer h.bus.Unsubscribe(ch)

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				switch ev.Resource {
				case service.ResourceBuildings, service.ResourceLinks:
					if ev.Origin == input.Session {
						continue
					}
					h.logger.Debug("refreshing after remote change", zap.String("session", input.Session),
						zap.String("resource", ev.Resource), zap.String("id", ev.ID))
					h.respond(ctx, sse, input.Session, h.controller.Refresh(ctx, input.Session))
				case service.ResourceCampuses:
					h.renderCampuses(sse)
				}
				sse.DispatchCustomEvent("resource-changed", map[string]any{
					"resource": ev.Resource, "action": ev.Action, "id": ev.ID,
				})
			}
		}
	}), nil
}
