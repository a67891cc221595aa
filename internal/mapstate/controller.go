package mapstate

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"github.com/joeblew999/campus-map/internal/campus"
	"github.com/joeblew999/campus-map/internal/journal"
	"github.com/joeblew999/campus-map/internal/service"
	"github.com/joeblew999/campus-map/internal/wfs"
)

var (
	ErrSessionNotFound = errors.New("map session not found")
	ErrSessionState    = errors.New("operation not valid in the current map state")
	ErrSuperseded      = errors.New("superseded by a newer map operation")
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Reader answers the queries that fill popups and the displayed set.
type Reader interface {
	Building(ctx context.Context, id string) (campus.Building, bool, error)
	ServicesForBuilding(ctx context.Context, buildingID string) ([]campus.Service, error)
	BuildingsForService(ctx context.Context, serviceID string) ([]campus.Building, error)
	BuildingsForAudience(ctx context.Context, tag string) ([]campus.Building, error)
	AllBuildings(ctx context.Context) ([]campus.Building, error)
	SearchBuildings(ctx context.Context, property, value string) ([]campus.Building, error)
}

// Writer performs the three map edits.
type Writer interface {
	InsertBuilding(ctx context.Context, fields []wfs.Field, location orb.Point) (wfs.WriteResult, error)
	InsertServiceLink(ctx context.Context, buildingID, serviceID string) (wfs.WriteResult, error)
	UpdateBuildingGeometry(ctx context.Context, featureID string, lon, lat float64) (wfs.WriteResult, error)
}

// Recorder journals write outcomes.
type Recorder interface {
	Record(ctx context.Context, e journal.Entry) error
}

// Publisher announces data changes to other sessions.
type Publisher interface {
	Publish(e service.Event)
}

// Deps are the collaborators of a Controller. Journal and Bus are optional.
type Deps struct {
	Reader     Reader
	Writer     Writer
	Journal    Recorder
	Bus        Publisher
	Logger     *zap.Logger
	SessionTTL time.Duration
}

// ClickEvent is a map click. FeatureID is the building hit by the click,
// empty when the click landed on empty map. Coordinate is EPSG:3857.
type ClickEvent struct {
	FeatureID  string    `json:"featureId,omitempty"`
	Coordinate orb.Point `json:"coordinate"`
}

// Controller drives map sessions.
type Controller struct {
	reader   Reader
	writer   Writer
	journal  Recorder
	bus      Publisher
	logger   *zap.Logger
	sessions *Store
	now      func() time.Time
}

// New creates a controller.
func New(d Deps) *Controller {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		reader:   d.Reader,
		writer:   d.Writer,
		journal:  d.Journal,
		bus:      d.Bus,
		logger:   logger.Named("mapstate"),
		sessions: NewStore(d.SessionTTL),
		now:      time.Now,
	}
}

// Sessions returns the session store.
func (c *Controller) Sessions() *Store { return c.sessions }

// Open starts a session with the unfiltered dataset selected.
func (c *Controller) Open() *Session { return c.sessions.Open() }

// View returns a copy of a session's state.
func (c *Controller) View(id string) (View, error) {
	s, err := c.session(id)
	if err != nil {
		return View{}, err
	}
	return s.View(), nil
}

// Banner returns and clears the pending user-visible error of a session.
func (c *Controller) Banner(id string) string {
	s, ok := c.sessions.Get(id)
	if !ok {
		return ""
	}
	return s.TakeBanner()
}

// Click handles a map click according to the session state. A pending
// relocation consumes the click whatever it hit.
func (c *Controller) Click(ctx context.Context, id string, ev ClickEvent) error {
	s, err := c.session(id)
	if err != nil {
		return err
	}

	var next func() error
	s.mu.Lock()
	switch {
	case s.state == AwaitingRelocationClick:
		target := s.relocating
		s.state = Idle
		s.relocating = ""
		s.popupOp.supersede()
		next = func() error { return c.relocate(ctx, s, target, ev.Coordinate) }
	case s.state == AwaitingNewBuildingForm:
		s.discardProvisional()
	case ev.FeatureID != "":
		next = func() error { return c.inspect(ctx, s, ev.FeatureID) }
	case s.editing:
		s.popupOp.supersede()
		s.provisional = &Feature{
			ID:          wfs.QualifiedID(wfs.TypeBuildings, strconv.FormatInt(c.now().UnixMilli(), 10)),
			Coordinates: ev.Coordinate,
			Provisional: true,
		}
		s.popup = &Popup{Kind: PopupForm, Location: campus.ToStorage(ev.Coordinate)}
		s.state = AwaitingNewBuildingForm
	default:
		s.popupOp.supersede()
		s.popup = nil
	}
	s.mu.Unlock()

	if next != nil {
		return next()
	}
	return nil
}

// Submit saves the provisional building, then links it to the chosen
// service once the insert is confirmed.
func (c *Controller) Submit(ctx context.Context, id string, form campus.BuildingForm) error {
	s, err := c.session(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.state != AwaitingNewBuildingForm || s.provisional == nil || s.saving {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: submit while %s", ErrSessionState, state)
	}
	prov := *s.provisional
	if err := validate.Struct(form); err != nil {
		if s.popup != nil {
			s.popup.Form = form
			s.popup.Errors = FieldErrors(err)
		}
		s.mu.Unlock()
		return fmt.Errorf("invalid building form: %w", err)
	}
	s.saving = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.saving = false
		s.mu.Unlock()
	}()

	location := campus.ToStorage(prov.Coordinates)
	res, err := c.writer.InsertBuilding(ctx, form.Fields(location), location)
	var fid string
	missingID := err == nil && len(res.FeatureIDs) == 0
	if missingID {
		err = fmt.Errorf("%w: insert returned no feature id", wfs.ErrWriteUnconfirmed)
	} else if err == nil {
		fid = res.FeatureIDs[0]
	}
	c.record(ctx, "insert", wfs.TypeBuildings, fid, res, err)
	if err != nil {
		c.fail(s, err)
		if missingID {
			// The row may exist server side under an id we never learned.
			c.closeUnconfirmed(ctx, s, prov.ID)
		}
		return fmt.Errorf("insert building: %w", err)
	}
	c.publish(service.ResourceBuildings, "created", fid, s.ID)

	var linkErr error
	if form.ServiceID != "" {
		lres, err := c.writer.InsertServiceLink(ctx, fid, form.ServiceID)
		c.record(ctx, "link", wfs.TypeLinks, fid, lres, err)
		if err != nil {
			c.fail(s, err)
			linkErr = fmt.Errorf("link %s to %s: %w", fid, form.ServiceID, err)
		} else {
			c.publish(service.ResourceLinks, "created", fid, s.ID)
		}
	}

	s.mu.Lock()
	if s.provisional != nil && s.provisional.ID == prov.ID {
		s.provisional = nil
		s.popup = nil
		s.state = Idle
	}
	s.layer = append(s.layer, Feature{ID: fid, Name: form.Name, Coordinates: prov.Coordinates})
	s.mu.Unlock()

	c.logger.Info("building created", zap.String("session", s.ID), zap.String("fid", fid),
		zap.String("service", form.ServiceID))
	return linkErr
}

// closeUnconfirmed drops the provisional building and reloads the layer so
// the map shows whatever the server actually stored.
func (c *Controller) closeUnconfirmed(ctx context.Context, s *Session, provID string) {
	s.mu.Lock()
	if s.provisional != nil && s.provisional.ID == provID {
		s.discardProvisional()
	}
	s.mu.Unlock()
	c.publish(service.ResourceBuildings, "created", "", s.ID)
	if err := c.Refresh(ctx, s.ID); err != nil && !errors.Is(err, ErrSuperseded) {
		c.logger.Warn("reload after unconfirmed insert", zap.String("session", s.ID), zap.Error(err))
	}
}

// Cancel dismisses the popup. A provisional building is discarded and a
// pending relocation is abandoned.
func (c *Controller) Cancel(id string) error {
	s, err := c.session(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case AwaitingNewBuildingForm:
		s.discardProvisional()
	case AwaitingRelocationClick:
		s.state = Idle
		s.relocating = ""
	}
	s.popupOp.supersede()
	s.popup = nil
	return nil
}

// RequestRelocation makes the next click the new location of buildingID.
// The building must be the one shown in the open info popup, and only a
// building without service links can be moved.
func (c *Controller) RequestRelocation(id, buildingID string) error {
	s, err := c.session(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == AwaitingNewBuildingForm {
		return fmt.Errorf("%w: relocate while %s", ErrSessionState, s.state)
	}
	fid := wfs.QualifiedID(wfs.TypeBuildings, buildingID)
	p := s.popup
	if p == nil || p.Kind != PopupInfo || wfs.QualifiedID(wfs.TypeBuildings, p.Building.ID) != fid {
		return fmt.Errorf("%w: building %s is not selected", ErrSessionState, fid)
	}
	if !p.CanRelocate {
		return fmt.Errorf("%w: building %s offers services and cannot be moved", ErrSessionState, fid)
	}
	s.popupOp.supersede()
	s.popup = nil
	s.state = AwaitingRelocationClick
	s.relocating = fid
	return nil
}

// ToggleEdit enters or leaves edit mode and reports the new mode. The draw,
// modify and snap interactions are installed and removed together; leaving
// also closes the popup and discards any provisional building.
func (c *Controller) ToggleEdit(id string) (bool, error) {
	s, err := c.session(id)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.editing = !s.editing
	if s.editing {
		s.interactions = append([]Interaction(nil), editInteractions...)
		return true, nil
	}
	s.interactions = nil
	s.popupOp.supersede()
	s.popup = nil
	s.discardProvisional()
	return false, nil
}

// FilterByService displays the buildings offering a service.
func (c *Controller) FilterByService(ctx context.Context, id, serviceID string) error {
	return c.filter(ctx, id, Filter{Kind: FilterService, Value: serviceID}, nil)
}

// FilterByAudience displays the buildings of every service for an
// audience tag.
func (c *Controller) FilterByAudience(ctx context.Context, id, tag string) error {
	return c.filter(ctx, id, Filter{Kind: FilterAudience, Value: tag}, nil)
}

// Search displays the buildings whose name equals text. An empty text
// displays everything.
func (c *Controller) Search(ctx context.Context, id, text string) error {
	text = strings.TrimSpace(text)
	f := Filter{Kind: FilterSearch, Property: campus.PropName, Value: text}
	if text == "" {
		f = Filter{Kind: FilterAll}
	}
	return c.filter(ctx, id, f, func(s *Session) { s.search = text })
}

// SelectCampus displays the buildings of a campus preset.
func (c *Controller) SelectCampus(ctx context.Context, id string, p service.CampusPreset) error {
	return c.filter(ctx, id, Filter{Kind: FilterCampus, Property: p.Property, Value: p.Value}, nil)
}

// Reset leaves edit mode, clears the search text and displays the
// unfiltered dataset.
func (c *Controller) Reset(ctx context.Context, id string) error {
	return c.filter(ctx, id, Filter{Kind: FilterAll}, func(s *Session) {
		s.editing = false
		s.interactions = nil
		s.search = ""
		s.relocating = ""
		s.state = Idle
	})
}

// Refresh re-runs the active filter without touching the popup.
func (c *Controller) Refresh(ctx context.Context, id string) error {
	s, err := c.session(id)
	if err != nil {
		return err
	}
	var f Filter
	return c.run(ctx, s, &s.layerOp, func() { f = s.filter }, func(ctx context.Context) (func(), error) {
		return c.fill(ctx, s, f)
	})
}

func (c *Controller) filter(ctx context.Context, id string, f Filter, prepare func(*Session)) error {
	s, err := c.session(id)
	if err != nil {
		return err
	}
	return c.run(ctx, s, &s.layerOp, func() {
		if prepare != nil {
			prepare(s)
		}
		s.popupOp.supersede()
		s.popup = nil
		s.discardProvisional()
		s.layer = nil
		s.filter = f
	}, func(ctx context.Context) (func(), error) {
		return c.fill(ctx, s, f)
	})
}

func (c *Controller) fill(ctx context.Context, s *Session, f Filter) (func(), error) {
	buildings, err := c.query(ctx, f)
	if err != nil {
		return nil, err
	}
	features := displayFeatures(buildings)
	return func() { s.layer = features }, nil
}

func (c *Controller) query(ctx context.Context, f Filter) ([]campus.Building, error) {
	switch f.Kind {
	case FilterService:
		return c.reader.BuildingsForService(ctx, f.Value)
	case FilterAudience:
		return c.reader.BuildingsForAudience(ctx, f.Value)
	case FilterSearch, FilterCampus:
		return c.reader.SearchBuildings(ctx, f.Property, f.Value)
	}
	return c.reader.AllBuildings(ctx)
}

func (c *Controller) inspect(ctx context.Context, s *Session, featureID string) error {
	return c.run(ctx, s, &s.popupOp, func() { s.popup = nil }, func(ctx context.Context) (func(), error) {
		b, ok, err := c.reader.Building(ctx, featureID)
		if err != nil || !ok {
			return func() {}, err
		}
		services, err := c.reader.ServicesForBuilding(ctx, b.ID)
		if err != nil {
			return nil, err
		}
		return func() {
			s.popup = &Popup{Kind: PopupInfo, Building: b, Services: services, CanRelocate: len(services) == 0}
		}, nil
	})
}

func (c *Controller) relocate(ctx context.Context, s *Session, buildingID string, at orb.Point) error {
	p := campus.ToStorage(at)
	res, err := c.writer.UpdateBuildingGeometry(ctx, buildingID, p.Lon(), p.Lat())
	c.record(ctx, "update", wfs.TypeBuildings, wfs.QualifiedID(wfs.TypeBuildings, buildingID), res, err)
	if err != nil {
		c.fail(s, err)
		return fmt.Errorf("relocate %s: %w", buildingID, err)
	}
	c.publish(service.ResourceBuildings, "updated", buildingID, s.ID)
	return c.Refresh(ctx, s.ID)
}

// run executes fetch without the session lock inside slot and applies its
// result only if no newer operation took the slot meanwhile.
func (c *Controller) run(ctx context.Context, s *Session, slot *op, prepare func(), fetch func(context.Context) (func(), error)) error {
	s.mu.Lock()
	opCtx, gen := slot.start(ctx)
	prepare()
	s.mu.Unlock()

	apply, err := fetch(opCtx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !slot.finish(gen) {
		return ErrSuperseded
	}
	if err != nil {
		s.noteError(err)
		c.logger.Warn("map operation failed", zap.String("session", s.ID), zap.Error(err))
		return err
	}
	apply()
	return nil
}

func (c *Controller) fail(s *Session, err error) {
	s.mu.Lock()
	s.noteError(err)
	s.mu.Unlock()
}

func (c *Controller) record(ctx context.Context, op, typeName, featureID string, res wfs.WriteResult, err error) {
	if c.journal == nil {
		return
	}
	e := journal.Entry{Op: op, TypeName: typeName, FeatureID: featureID, Confirmed: err == nil && res.Confirmed}
	if err != nil {
		e.Error = err.Error()
	}
	if jerr := c.journal.Record(context.WithoutCancel(ctx), e); jerr != nil {
		c.logger.Warn("journal write failed", zap.String("op", op), zap.Error(jerr))
	}
}

func (c *Controller) publish(resource, action, id, origin string) {
	if c.bus != nil {
		c.bus.Publish(service.Event{Resource: resource, Action: action, ID: id, Origin: origin})
	}
}

func (c *Controller) session(id string) (*Session, error) {
	s, ok := c.sessions.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// noteError sets the banner for errors the user should see. Caller holds mu.
func (s *Session) noteError(err error) {
	if msg := BannerMessage(err); msg != "" {
		s.banner = msg
	}
}

// BannerMessage is the user-facing text for a WFS failure, or "" when err
// should not be shown.
func BannerMessage(err error) string {
	var se *wfs.ServerError
	switch {
	case wfs.IsNetworkError(err):
		return "The map server could not be reached. Try again in a moment."
	case errors.As(err, &se):
		return "The map server rejected the change: " + strings.Join(se.Messages, "; ")
	case errors.Is(err, wfs.ErrWriteUnconfirmed):
		return "The map server did not confirm the change."
	}
	return ""
}

// FieldErrors maps form fields to validation messages.
func FieldErrors(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]string{"form": err.Error()}
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			out[fe.Field()] = "required"
		case "max":
			out[fe.Field()] = "at most " + fe.Param() + " characters"
		case "len":
			out[fe.Field()] = "exactly " + fe.Param() + " characters"
		case "numeric":
			out[fe.Field()] = "digits only"
		default:
			out[fe.Field()] = "invalid"
		}
	}
	return out
}
