package mapstate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/campus-map/internal/campus"
	"github.com/joeblew999/campus-map/internal/journal"
	"github.com/joeblew999/campus-map/internal/resolver"
	"github.com/joeblew999/campus-map/internal/service"
	"github.com/joeblew999/campus-map/internal/wfs"
	"github.com/joeblew999/campus-map/internal/wfs/wfstest"
)

type recorder struct {
	mu      sync.Mutex
	entries []journal.Entry
}

func (r *recorder) Record(_ context.Context, e journal.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

type harness struct {
	c    *Controller
	mem  *wfstest.Memory
	rec  *recorder
	bus  *service.EventBus
	sess *Session
}

func setup(t *testing.T) *harness {
	t.Helper()
	mem := wfstest.New()
	mem.AddBuilding("1", "Hall B", 1.930, 47.840)
	mem.AddBuilding("2", "Library", 1.936, 47.845)
	mem.AddBuilding("3", "Gym", 1.940, 47.846)
	mem.AddBuilding("4", "EGS", 1.938, 47.843)
	mem.AddService("1", "Library", "Books", "students-staff")
	mem.AddService("2", "Sports", "Courts", "students")
	mem.Link("2", "1")
	mem.Link("3", "2")

	h := &harness{mem: mem, rec: &recorder{}, bus: service.NewEventBus()}
	h.c = New(Deps{
		Reader:  resolver.New(mem, nil),
		Writer:  mem,
		Journal: h.rec,
		Bus:     h.bus,
	})
	h.sess = h.c.Open()
	require.NoError(t, h.c.Refresh(context.Background(), h.sess.ID))
	return h
}

func featureIDs(v View) []string {
	out := make([]string, 0, len(v.Features))
	for _, f := range v.Features {
		out = append(out, f.ID)
	}
	return out
}

func display(lon, lat float64) orb.Point {
	return campus.ToDisplay(orb.Point{lon, lat})
}

func TestOpenLoadsEveryBuildingInDisplayProjection(t *testing.T) {
	h := setup(t)
	v := h.sess.View()

	assert.Equal(t, Idle, v.State)
	assert.Equal(t, FilterAll, v.Filter.Kind)
	require.Len(t, v.Features, 4)
	want := display(1.930, 47.840)
	assert.InDelta(t, want.X(), v.Features[0].Coordinates.X(), 1e-6)
	assert.InDelta(t, want.Y(), v.Features[0].Coordinates.Y(), 1e-6)
}

func TestCreateBuildingAndLinkService(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	events := h.bus.Subscribe()
	defer h.bus.Unsubscribe(events)

	editing, err := h.c.ToggleEdit(h.sess.ID)
	require.NoError(t, err)
	require.True(t, editing)

	require.NoError(t, h.c.Click(ctx, h.sess.ID, ClickEvent{Coordinate: display(1.934, 47.844)}))
	v := h.sess.View()
	require.Equal(t, AwaitingNewBuildingForm, v.State)
	require.NotNil(t, v.Popup)
	assert.Equal(t, PopupForm, v.Popup.Kind)
	assert.InDelta(t, 1.934, v.Popup.Location.Lon(), 1e-9)
	assert.InDelta(t, 47.844, v.Popup.Location.Lat(), 1e-9)
	require.Len(t, v.Features, 5)
	assert.True(t, v.Features[4].Provisional)

	err = h.c.Submit(ctx, h.sess.ID, campus.BuildingForm{Name: "Hall A", Component: "IUT", ServiceID: "services.1"})
	require.NoError(t, err)

	inserts := h.mem.Calls("InsertBuilding")
	links := h.mem.Calls("InsertServiceLink")
	require.Len(t, inserts, 1)
	require.Len(t, links, 1)
	assert.Contains(t, inserts[0].Args, "nom=Hall A")

	writes := []string{}
	for _, call := range h.mem.Calls("") {
		if call.Op == "InsertBuilding" || call.Op == "InsertServiceLink" {
			writes = append(writes, call.Op)
		}
	}
	assert.Equal(t, []string{"InsertBuilding", "InsertServiceLink"}, writes)

	v = h.sess.View()
	assert.Equal(t, Idle, v.State)
	assert.True(t, v.Editing)
	assert.Nil(t, v.Popup)
	require.Len(t, v.Features, 5)
	created := v.Features[4]
	assert.False(t, created.Provisional)
	assert.Equal(t, []string{created.ID, "services.1"}, links[0].Args)

	stored, ok := h.mem.Feature(wfs.TypeBuildings, created.ID)
	require.True(t, ok)
	assert.InDelta(t, 1.934, stored.Geometry.(orb.Point).Lon(), 1e-9)

	require.Len(t, h.rec.entries, 2)
	assert.Equal(t, "insert", h.rec.entries[0].Op)
	assert.True(t, h.rec.entries[0].Confirmed)
	assert.Equal(t, "link", h.rec.entries[1].Op)

	assert.Equal(t, service.Event{Resource: service.ResourceBuildings, Action: "created", ID: created.ID, Origin: h.sess.ID}, <-events)
	assert.Equal(t, service.ResourceLinks, (<-events).Resource)
}

func TestCreateBuildingWithoutServiceSkipsLink(t *testing.T) {
	h := setup(t)
	ctx := context.Background()

	_, err := h.c.ToggleEdit(h.sess.ID)
	require.NoError(t, err)
	require.NoError(t, h.c.Click(ctx, h.sess.ID, ClickEvent{Coordinate: display(1.934, 47.844)}))
	require.NoError(t, h.c.Submit(ctx, h.sess.ID, campus.BuildingForm{Name: "Hall A", Component: "IUT"}))

	assert.Len(t, h.mem.Calls("InsertBuilding"), 1)
	assert.Empty(t, h.mem.Calls("InsertServiceLink"))
}

func TestCancelDiscardsProvisionalBuilding(t *testing.T) {
	h := setup(t)
	ctx := context.Background()

	_, err := h.c.ToggleEdit(h.sess.ID)
	require.NoError(t, err)
	require.NoError(t, h.c.Click(ctx, h.sess.ID, ClickEvent{Coordinate: display(1.934, 47.844)}))
	require.NoError(t, h.c.Cancel(h.sess.ID))

	v := h.sess.View()
	assert.Equal(t, Idle, v.State)
	assert.Nil(t, v.Popup)
	assert.Len(t, v.Features, 4)
	assert.Empty(t, h.mem.Calls("InsertBuilding"))
	assert.Empty(t, h.mem.Calls("InsertServiceLink"))

	err = h.c.Submit(ctx, h.sess.ID, campus.BuildingForm{Name: "Hall A", Component: "IUT"})
	assert.ErrorIs(t, err, ErrSessionState)
}

func TestClickElsewhereDismissesForm(t *testing.T) {
	h := setup(t)
	ctx := context.Background()

	_, err := h.c.ToggleEdit(h.sess.ID)
	require.NoError(t, err)
	require.NoError(t, h.c.Click(ctx, h.sess.ID, ClickEvent{Coordinate: display(1.934, 47.844)}))
	require.NoError(t, h.c.Click(ctx, h.sess.ID, ClickEvent{Coordinate: display(1.939, 47.841)}))

	v := h.sess.View()
	assert.Equal(t, Idle, v.State)
	assert.Len(t, v.Features, 4)
	assert.Empty(t, h.mem.Calls("InsertBuilding"))
}

func TestSubmitInvalidFormKeepsForm(t *testing.T) {
	h := setup(t)
	ctx := context.Background()

	_, err := h.c.ToggleEdit(h.sess.ID)
	require.NoError(t, err)
	require.NoError(t, h.c.Click(ctx, h.sess.ID, ClickEvent{Coordinate: display(1.934, 47.844)}))

	err = h.c.Submit(ctx, h.sess.ID, campus.BuildingForm{Component: "IUT", PostalCode: "45A"})
	require.Error(t, err)
	var verrs validator.ValidationErrors
	assert.True(t, errors.As(err, &verrs))

	v := h.sess.View()
	assert.Equal(t, AwaitingNewBuildingForm, v.State)
	require.NotNil(t, v.Popup)
	assert.Equal(t, "required", v.Popup.Errors["name"])
	assert.Contains(t, v.Popup.Errors, "postalCode")
	assert.Empty(t, h.mem.Calls("InsertBuilding"))
}

func TestFailedInsertSetsBannerAndKeepsForm(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	h.mem.Fail["InsertBuilding"] = &wfs.NetworkError{Op: "insert", StatusCode: 502}

	_, err := h.c.ToggleEdit(h.sess.ID)
	require.NoError(t, err)
	require.NoError(t, h.c.Click(ctx, h.sess.ID, ClickEvent{Coordinate: display(1.934, 47.844)}))

	err = h.c.Submit(ctx, h.sess.ID, campus.BuildingForm{Name: "Hall A", Component: "IUT", ServiceID: "services.1"})
	require.Error(t, err)
	assert.True(t, wfs.IsNetworkError(err))
	assert.Empty(t, h.mem.Calls("InsertServiceLink"))
	assert.Equal(t, AwaitingNewBuildingForm, h.sess.View().State)
	assert.NotEmpty(t, h.c.Banner(h.sess.ID))
	assert.Empty(t, h.c.Banner(h.sess.ID))

	require.Len(t, h.rec.entries, 1)
	assert.False(t, h.rec.entries[0].Confirmed)
	assert.NotEmpty(t, h.rec.entries[0].Error)
}

func TestInspectBuilding(t *testing.T) {
	h := setup(t)
	ctx := context.Background()

	require.NoError(t, h.c.Click(ctx, h.sess.ID, ClickEvent{FeatureID: "batiments.2"}))
	v := h.sess.View()
	require.NotNil(t, v.Popup)
	assert.Equal(t, PopupInfo, v.Popup.Kind)
	assert.Equal(t, "Library", v.Popup.Building.Name)
	require.Len(t, v.Popup.Services, 1)
	assert.Equal(t, "services.1", v.Popup.Services[0].ID)
	assert.False(t, v.Popup.CanRelocate)

	require.NoError(t, h.c.Click(ctx, h.sess.ID, ClickEvent{FeatureID: "batiments.1"}))
	v = h.sess.View()
	require.NotNil(t, v.Popup)
	assert.True(t, v.Popup.CanRelocate)

	require.NoError(t, h.c.Click(ctx, h.sess.ID, ClickEvent{Coordinate: display(1.9, 47.8)}))
	assert.Nil(t, h.sess.View().Popup)
}

func TestRelocationConsumesExactlyOneClick(t *testing.T) {
	h := setup(t)
	ctx := context.Background()

	require.NoError(t, h.c.Click(ctx, h.sess.ID, ClickEvent{FeatureID: "batiments.1"}))
	require.NoError(t, h.c.RequestRelocation(h.sess.ID, "batiments.1"))
	assert.Equal(t, AwaitingRelocationClick, h.sess.View().State)

	// The click lands on another building; it is still the new location.
	require.NoError(t, h.c.Click(ctx, h.sess.ID, ClickEvent{FeatureID: "batiments.2", Coordinate: display(2.0, 47.0)}))

	updates := h.mem.Calls("UpdateBuildingGeometry")
	require.Len(t, updates, 1)
	assert.Equal(t, "batiments.1", updates[0].Args[0])
	v := h.sess.View()
	assert.Equal(t, Idle, v.State)
	assert.Nil(t, v.Popup)

	moved, ok := h.mem.Feature(wfs.TypeBuildings, "1")
	require.True(t, ok)
	assert.InDelta(t, 2.0, moved.Geometry.(orb.Point).Lon(), 1e-9)
	assert.InDelta(t, 47.0, moved.Geometry.(orb.Point).Lat(), 1e-9)

	want := display(2.0, 47.0)
	assert.InDelta(t, want.X(), v.Features[0].Coordinates.X(), 1e-3)

	require.NoError(t, h.c.Click(ctx, h.sess.ID, ClickEvent{FeatureID: "batiments.2", Coordinate: display(2.1, 47.1)}))
	assert.Len(t, h.mem.Calls("UpdateBuildingGeometry"), 1)
	require.NotNil(t, h.sess.View().Popup)
	assert.Equal(t, "Library", h.sess.View().Popup.Building.Name)
}

func TestRelocationRejectedWhileFormOpen(t *testing.T) {
	h := setup(t)
	_, err := h.c.ToggleEdit(h.sess.ID)
	require.NoError(t, err)
	require.NoError(t, h.c.Click(context.Background(), h.sess.ID, ClickEvent{Coordinate: display(1.934, 47.844)}))

	assert.ErrorIs(t, h.c.RequestRelocation(h.sess.ID, "batiments.1"), ErrSessionState)
}

func TestRelocationRejectedForBuildingWithServices(t *testing.T) {
	h := setup(t)
	ctx := context.Background()

	require.NoError(t, h.c.Click(ctx, h.sess.ID, ClickEvent{FeatureID: "batiments.2"}))
	require.NotNil(t, h.sess.View().Popup)
	require.False(t, h.sess.View().Popup.CanRelocate)

	err := h.c.RequestRelocation(h.sess.ID, "batiments.2")
	require.ErrorIs(t, err, ErrSessionState)
	v := h.sess.View()
	assert.Equal(t, Idle, v.State)
	assert.Empty(t, v.Relocating)
	require.NotNil(t, v.Popup)
	assert.Equal(t, "Library", v.Popup.Building.Name)

	require.NoError(t, h.c.Click(ctx, h.sess.ID, ClickEvent{Coordinate: display(2.0, 47.0)}))
	assert.Empty(t, h.mem.Calls("UpdateBuildingGeometry"))
}

func TestRelocationRequiresSelectedBuilding(t *testing.T) {
	h := setup(t)
	ctx := context.Background()

	assert.ErrorIs(t, h.c.RequestRelocation(h.sess.ID, "batiments.1"), ErrSessionState)

	// The popup shows another building.
	require.NoError(t, h.c.Click(ctx, h.sess.ID, ClickEvent{FeatureID: "batiments.4"}))
	assert.ErrorIs(t, h.c.RequestRelocation(h.sess.ID, "batiments.1"), ErrSessionState)
	assert.Equal(t, Idle, h.sess.View().State)

	require.NoError(t, h.c.RequestRelocation(h.sess.ID, "4"))
	assert.Equal(t, AwaitingRelocationClick, h.sess.View().State)
	assert.Equal(t, "batiments.4", h.sess.View().Relocating)
}

// idlessWriter stores the building but reports no feature id.
type idlessWriter struct {
	*wfstest.Memory
}

func (w idlessWriter) InsertBuilding(ctx context.Context, fields []wfs.Field, location orb.Point) (wfs.WriteResult, error) {
	res, err := w.Memory.InsertBuilding(ctx, fields, location)
	if err != nil {
		return res, err
	}
	return wfs.WriteResult{Confirmed: true, Inserted: res.Inserted}, nil
}

func TestSubmitWithoutFeatureIDSkipsLink(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	h.c = New(Deps{
		Reader:  resolver.New(h.mem, nil),
		Writer:  idlessWriter{h.mem},
		Journal: h.rec,
		Bus:     h.bus,
	})
	h.sess = h.c.Open()
	require.NoError(t, h.c.Refresh(ctx, h.sess.ID))

	_, err := h.c.ToggleEdit(h.sess.ID)
	require.NoError(t, err)
	require.NoError(t, h.c.Click(ctx, h.sess.ID, ClickEvent{Coordinate: display(1.934, 47.844)}))
	prov := h.sess.View().Features[4]
	require.True(t, prov.Provisional)

	err = h.c.Submit(ctx, h.sess.ID, campus.BuildingForm{Name: "Hall A", Component: "IUT", ServiceID: "services.1"})
	require.ErrorIs(t, err, wfs.ErrWriteUnconfirmed)

	assert.Len(t, h.mem.Calls("InsertBuilding"), 1)
	assert.Empty(t, h.mem.Calls("InsertServiceLink"))

	require.Len(t, h.rec.entries, 1)
	assert.Equal(t, "insert", h.rec.entries[0].Op)
	assert.False(t, h.rec.entries[0].Confirmed)
	assert.Empty(t, h.rec.entries[0].FeatureID)

	v := h.sess.View()
	assert.Equal(t, Idle, v.State)
	assert.Nil(t, v.Popup)
	require.Len(t, v.Features, 5)
	for _, f := range v.Features {
		assert.False(t, f.Provisional)
		assert.NotEqual(t, prov.ID, f.ID)
	}
	assert.Equal(t, "The map server did not confirm the change.", h.c.Banner(h.sess.ID))
}

func TestToggleEditInstallsAndRemovesAllInteractions(t *testing.T) {
	h := setup(t)
	ctx := context.Background()

	on, err := h.c.ToggleEdit(h.sess.ID)
	require.NoError(t, err)
	assert.True(t, on)
	assert.ElementsMatch(t, []Interaction{InteractionDraw, InteractionModify, InteractionSnap}, h.sess.View().Interactions)

	require.NoError(t, h.c.Click(ctx, h.sess.ID, ClickEvent{Coordinate: display(1.934, 47.844)}))
	require.NotNil(t, h.sess.View().Popup)

	off, err := h.c.ToggleEdit(h.sess.ID)
	require.NoError(t, err)
	assert.False(t, off)
	v := h.sess.View()
	assert.Empty(t, v.Interactions)
	assert.Nil(t, v.Popup)
	assert.Equal(t, Idle, v.State)
	assert.Len(t, v.Features, 4)
}

func TestFilters(t *testing.T) {
	h := setup(t)
	ctx := context.Background()

	require.NoError(t, h.c.FilterByService(ctx, h.sess.ID, "services.2"))
	assert.Equal(t, []string{"batiments.3"}, featureIDs(h.sess.View()))

	require.NoError(t, h.c.FilterByAudience(ctx, h.sess.ID, "students"))
	assert.Equal(t, []string{"batiments.2", "batiments.3"}, featureIDs(h.sess.View()))

	require.NoError(t, h.c.Search(ctx, h.sess.ID, " Gym "))
	v := h.sess.View()
	assert.Equal(t, []string{"batiments.3"}, featureIDs(v))
	assert.Equal(t, "Gym", v.SearchText)

	require.NoError(t, h.c.SelectCampus(ctx, h.sess.ID, service.CampusPreset{Property: "nom", Value: "EGS"}))
	assert.Equal(t, []string{"batiments.4"}, featureIDs(h.sess.View()))

	require.NoError(t, h.c.Search(ctx, h.sess.ID, ""))
	assert.Len(t, h.sess.View().Features, 4)
}

func TestFilterClearsPopup(t *testing.T) {
	h := setup(t)
	ctx := context.Background()

	require.NoError(t, h.c.Click(ctx, h.sess.ID, ClickEvent{FeatureID: "batiments.2"}))
	require.NotNil(t, h.sess.View().Popup)
	require.NoError(t, h.c.FilterByService(ctx, h.sess.ID, "services.1"))
	assert.Nil(t, h.sess.View().Popup)
}

func TestResetClearsEditingAndSearch(t *testing.T) {
	h := setup(t)
	ctx := context.Background()

	_, err := h.c.ToggleEdit(h.sess.ID)
	require.NoError(t, err)
	require.NoError(t, h.c.Search(ctx, h.sess.ID, "Gym"))
	require.NoError(t, h.c.Reset(ctx, h.sess.ID))

	v := h.sess.View()
	assert.False(t, v.Editing)
	assert.Empty(t, v.Interactions)
	assert.Empty(t, v.SearchText)
	assert.Equal(t, FilterAll, v.Filter.Kind)
	assert.Len(t, v.Features, 4)
}

func TestSupersededFilterIsDiscarded(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	block := make(chan struct{})
	h.mem.Block = block

	first := make(chan error, 1)
	go func() { first <- h.c.FilterByService(ctx, h.sess.ID, "services.2") }()
	require.Eventually(t, func() bool { return len(h.mem.Calls("FetchByFilter")) == 1 }, time.Second, 5*time.Millisecond)

	second := make(chan error, 1)
	go func() { second <- h.c.Search(ctx, h.sess.ID, "Library") }()
	require.Eventually(t, func() bool { return len(h.mem.Calls("FetchByCQL")) == 1 }, time.Second, 5*time.Millisecond)

	close(block)
	assert.ErrorIs(t, <-first, ErrSuperseded)
	require.NoError(t, <-second)

	v := h.sess.View()
	assert.Equal(t, []string{"batiments.2"}, featureIDs(v))
	assert.Equal(t, FilterSearch, v.Filter.Kind)
}

func TestSupersededInspectionDoesNotReopenPopup(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	block := make(chan struct{})
	h.mem.Block = block

	done := make(chan error, 1)
	go func() { done <- h.c.Click(ctx, h.sess.ID, ClickEvent{FeatureID: "batiments.2"}) }()
	require.Eventually(t, func() bool { return len(h.mem.Calls("FetchByID")) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, h.c.Click(ctx, h.sess.ID, ClickEvent{Coordinate: display(1.9, 47.8)}))
	close(block)

	assert.ErrorIs(t, <-done, ErrSuperseded)
	assert.Nil(t, h.sess.View().Popup)
}

func TestNetworkErrorShowsBannerAndEmptiesLayer(t *testing.T) {
	h := setup(t)
	h.mem.Fail["FetchByFilter"] = &wfs.NetworkError{Op: "filter", StatusCode: 503}

	err := h.c.FilterByService(context.Background(), h.sess.ID, "services.1")
	require.Error(t, err)
	assert.Empty(t, h.sess.View().Features)
	assert.Equal(t, "The map server could not be reached. Try again in a moment.", h.c.Banner(h.sess.ID))
}

func TestUnknownSession(t *testing.T) {
	h := setup(t)
	assert.ErrorIs(t, h.c.Click(context.Background(), "nope", ClickEvent{}), ErrSessionNotFound)
	_, err := h.c.ToggleEdit("nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Empty(t, h.c.Banner("nope"))
}

func TestBannerMessage(t *testing.T) {
	assert.Contains(t, BannerMessage(&wfs.ServerError{Messages: []string{"bad geometry"}}), "bad geometry")
	assert.NotEmpty(t, BannerMessage(wfs.ErrWriteUnconfirmed))
	assert.Empty(t, BannerMessage(context.Canceled))
}
