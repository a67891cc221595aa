package mapui

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/campus-map/internal/campus"
	"github.com/joeblew999/campus-map/internal/mapstate"
	"github.com/joeblew999/campus-map/internal/resolver"
	"github.com/joeblew999/campus-map/internal/service"
	"github.com/joeblew999/campus-map/internal/templates"
	"github.com/joeblew999/campus-map/internal/wfs/wfstest"
)

type harness struct {
	mux  *http.ServeMux
	mem  *wfstest.Memory
	ctrl *mapstate.Controller
	bus  *service.EventBus
}

func setup(t *testing.T) *harness {
	t.Helper()
	mem := wfstest.New()
	mem.AddBuilding("1", "Hall B", 1.930, 47.840)
	mem.AddBuilding("2", "Library", 1.936, 47.845)
	mem.AddBuilding("4", "EGS", 1.938, 47.843)
	mem.AddService("1", "Library", "Books", "students-staff")
	mem.AddService("2", "Sports", "Courts", "students")
	mem.Link("2", "1")

	renderer, err := templates.New("../../../web/templates/fragments")
	require.NoError(t, err)

	bus := service.NewEventBus()
	res := resolver.New(mem, nil)
	ctrl := mapstate.New(mapstate.Deps{Reader: res, Writer: mem, Bus: bus})

	mux := http.NewServeMux()
	api := humago.New(mux, huma.DefaultConfig("campus map test", "1.0.0"))
	NewMapHandler(ctrl, res, service.NewCampusService(t.TempDir(), bus), bus, renderer, nil).RegisterRoutes(api)

	return &harness{mux: mux, mem: mem, ctrl: ctrl, bus: bus}
}

func (h *harness) post(t *testing.T, path string, signals map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(signals)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.mux.ServeHTTP(rec, req)
	return rec
}

func (h *harness) open(t *testing.T) string {
	t.Helper()
	s := h.ctrl.Open()
	require.NoError(t, h.ctrl.Refresh(context.Background(), s.ID))
	return s.ID
}

func clickAt(id, feature string, lon, lat float64) map[string]any {
	p := campus.ToDisplay(orb.Point{lon, lat})
	return map[string]any{"session": id, "clickfeature": feature, "clickx": p.X(), "clicky": p.Y()}
}

func TestOpenStartsSessionAndRendersFilters(t *testing.T) {
	h := setup(t)

	rec := h.post(t, "/api/v1/map/open", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/event-stream")
	assert.Equal(t, 1, h.ctrl.Sessions().Len())

	body := rec.Body.String()
	assert.Contains(t, body, "datastar-patch-signals")
	assert.Contains(t, body, `"session":`)
	assert.Contains(t, body, "#service-filters")
	assert.Contains(t, body, "Sports")
	assert.Contains(t, body, "#audience-filters")
	assert.Contains(t, body, "staff")
	assert.Contains(t, body, "#campus-buttons")
	assert.Contains(t, body, "Bourges")
	assert.Contains(t, body, "map-state")
	assert.Contains(t, body, "Hall B")
}

func TestClickOnBuildingShowsServices(t *testing.T) {
	h := setup(t)
	id := h.open(t)

	rec := h.post(t, "/api/v1/map/click", clickAt(id, "batiments.2", 1.936, 47.845))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "#popup")
	assert.Contains(t, body, "Books")
	assert.NotContains(t, body, "Move building")

	rec = h.post(t, "/api/v1/map/click", clickAt(id, "batiments.4", 1.938, 47.843))
	assert.Contains(t, rec.Body.String(), "Move building")
}

func TestCreateBuildingThroughTheForm(t *testing.T) {
	h := setup(t)
	id := h.open(t)

	rec := h.post(t, "/api/v1/map/edit", map[string]any{"session": id})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"editing":true`)

	rec = h.post(t, "/api/v1/map/click", clickAt(id, "", 1.934, 47.844))
	assert.Contains(t, rec.Body.String(), "New building")
	assert.Contains(t, rec.Body.String(), `"mode":"awaiting-form"`)

	rec = h.post(t, "/api/v1/map/submit", map[string]any{"session": id, "name": "Hall A"})
	assert.Contains(t, rec.Body.String(), "field-error")
	assert.Empty(t, h.mem.Calls("InsertBuilding"))

	rec = h.post(t, "/api/v1/map/submit", map[string]any{
		"session": id, "name": "Hall A", "component": "IUT", "serviceid": "services.2",
	})
	body := rec.Body.String()
	assert.Contains(t, body, "Building 'Hall A' saved")
	assert.Contains(t, body, `"mode":"idle"`)
	assert.Len(t, h.mem.Calls("InsertBuilding"), 1)
	assert.Len(t, h.mem.Calls("InsertServiceLink"), 1)
}

func TestCancelDiscardsForm(t *testing.T) {
	h := setup(t)
	id := h.open(t)
	_, err := h.ctrl.ToggleEdit(id)
	require.NoError(t, err)
	h.post(t, "/api/v1/map/click", clickAt(id, "", 1.934, 47.844))

	rec := h.post(t, "/api/v1/map/cancel", map[string]any{"session": id})
	assert.Contains(t, rec.Body.String(), `"mode":"idle"`)
	view, err := h.ctrl.View(id)
	require.NoError(t, err)
	assert.Nil(t, view.Popup)
	assert.Empty(t, h.mem.Calls("InsertBuilding"))
}

func TestRelocateRequiresBuilding(t *testing.T) {
	h := setup(t)
	id := h.open(t)

	rec := h.post(t, "/api/v1/map/relocate", map[string]any{"session": id})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	h.post(t, "/api/v1/map/click", clickAt(id, "batiments.4", 1.938, 47.843))
	rec = h.post(t, "/api/v1/map/relocate", map[string]any{"session": id, "relocateid": "batiments.4"})
	assert.Contains(t, rec.Body.String(), `"mode":"awaiting-relocation"`)

	h.post(t, "/api/v1/map/click", clickAt(id, "", 1.950, 47.850))
	assert.Len(t, h.mem.Calls("UpdateBuildingGeometry"), 1)
}

func TestRelocateRejectsBuildingWithServices(t *testing.T) {
	h := setup(t)
	id := h.open(t)

	h.post(t, "/api/v1/map/click", clickAt(id, "batiments.2", 1.936, 47.845))
	rec := h.post(t, "/api/v1/map/relocate", map[string]any{"session": id, "relocateid": "batiments.2"})
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.NotContains(t, body, `"mode":"awaiting-relocation"`)
	assert.Contains(t, body, "cannot be moved")

	view, err := h.ctrl.View(id)
	require.NoError(t, err)
	assert.Equal(t, mapstate.Idle, view.State)
	assert.Empty(t, view.Relocating)

	h.post(t, "/api/v1/map/click", clickAt(id, "", 1.950, 47.850))
	assert.Empty(t, h.mem.Calls("UpdateBuildingGeometry"))

	// Not selected: a building never shown in the popup cannot be armed.
	id = h.open(t)
	rec = h.post(t, "/api/v1/map/relocate", map[string]any{"session": id, "relocateid": "batiments.4"})
	assert.NotContains(t, rec.Body.String(), `"mode":"awaiting-relocation"`)
}

func TestFilterAndSearch(t *testing.T) {
	h := setup(t)
	id := h.open(t)

	rec := h.post(t, "/api/v1/map/filter/service/services.1", map[string]any{"session": id})
	require.Equal(t, http.StatusOK, rec.Code)
	view, err := h.ctrl.View(id)
	require.NoError(t, err)
	require.Len(t, view.Features, 1)
	assert.Equal(t, "batiments.2", view.Features[0].ID)

	h.post(t, "/api/v1/map/search", map[string]any{"session": id, "search": "Hall B"})
	view, err = h.ctrl.View(id)
	require.NoError(t, err)
	require.Len(t, view.Features, 1)
	assert.Equal(t, "batiments.1", view.Features[0].ID)

	rec = h.post(t, "/api/v1/map/reset", map[string]any{"session": id})
	assert.Contains(t, rec.Body.String(), `"search":""`)
	view, err = h.ctrl.View(id)
	require.NoError(t, err)
	assert.Len(t, view.Features, 3)
}

func TestSelectCampus(t *testing.T) {
	h := setup(t)
	id := h.open(t)

	rec := h.post(t, "/api/v1/map/campus/orleans", map[string]any{"session": id})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "map-view")
	view, err := h.ctrl.View(id)
	require.NoError(t, err)
	require.Len(t, view.Features, 1)
	assert.Equal(t, "batiments.4", view.Features[0].ID)

	rec = h.post(t, "/api/v1/map/campus/nowhere", map[string]any{"session": id})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExpiredSession(t *testing.T) {
	h := setup(t)

	rec := h.post(t, "/api/v1/map/click", clickAt("gone", "", 1.934, 47.844))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Your map session has expired")
	assert.Contains(t, rec.Body.String(), `"expired":true`)
}

func TestEventsRefreshOnRemoteChange(t *testing.T) {
	h := setup(t)
	id := h.open(t)

	srv := httptest.NewServer(h.mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/map/events?session="+id, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Eventually(t, func() bool { return h.bus.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)
	h.mem.AddBuilding("9", "Annex", 1.931, 47.841)
	h.bus.Publish(service.Event{Resource: service.ResourceBuildings, Action: "created", ID: "batiments.9", Origin: "other"})

	scanner := bufio.NewScanner(resp.Body)
	sawState := false
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, "map-state") {
			sawState = true
		}
		if strings.Contains(line, "resource-changed") {
			break
		}
	}
	assert.True(t, sawState)

	view, err := h.ctrl.View(id)
	require.NoError(t, err)
	assert.Len(t, view.Features, 4)
}
