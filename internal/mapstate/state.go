// Package mapstate owns the per-session state of an interactive campus map:
// which buildings are displayed, which editing interactions are installed,
// and where the user is in the create/relocate flows.
package mapstate

import (
	"context"
	"sync"
	"time"

	"github.com/paulmach/orb"

	"github.com/joeblew999/campus-map/internal/campus"
)

// State is the position of a session in the click-handling state machine.
// Edit mode is orthogonal and tracked separately.
type State int

const (
	Idle State = iota
	AwaitingNewBuildingForm
	AwaitingRelocationClick
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingNewBuildingForm:
		return "awaiting-form"
	case AwaitingRelocationClick:
		return "awaiting-relocation"
	}
	return "unknown"
}

// Interaction is a browser-side map editing interaction.
type Interaction string

const (
	InteractionDraw   Interaction = "draw"
	InteractionModify Interaction = "modify"
	InteractionSnap   Interaction = "snap"
)

// editInteractions are installed and removed together.
var editInteractions = []Interaction{InteractionDraw, InteractionModify, InteractionSnap}

// Feature is one displayed building. Coordinates are EPSG:3857.
type Feature struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Coordinates orb.Point `json:"coordinates"`
	Provisional bool      `json:"provisional,omitempty"`
}

// FilterKind selects the query that fills the displayed set.
type FilterKind string

const (
	FilterAll      FilterKind = "all"
	FilterService  FilterKind = "service"
	FilterAudience FilterKind = "audience"
	FilterSearch   FilterKind = "search"
	FilterCampus   FilterKind = "campus"
)

// Filter is the query behind the displayed set. Property is used by the
// search and campus kinds only.
type Filter struct {
	Kind     FilterKind `json:"kind"`
	Property string     `json:"property,omitempty"`
	Value    string     `json:"value,omitempty"`
}

// PopupKind tells the renderer which popup template to use.
type PopupKind int

const (
	PopupInfo PopupKind = iota + 1
	PopupForm
)

// Popup is the on-map popup. Info popups carry a building and its services;
// form popups carry the storage location of the provisional building.
type Popup struct {
	Kind        PopupKind
	Building    campus.Building
	Services    []campus.Service
	CanRelocate bool

	Location orb.Point
	Form     campus.BuildingForm
	Errors   map[string]string
}

// View is a point-in-time copy of a session for rendering.
type View struct {
	SessionID    string
	State        State
	Editing      bool
	Interactions []Interaction
	Features     []Feature
	Popup        *Popup
	SearchText   string
	Filter       Filter
	Relocating   string
}

// Session is the state of one browser map. All fields are guarded by mu;
// network calls are made without holding it.
type Session struct {
	ID string

	mu           sync.Mutex
	state        State
	editing      bool
	interactions []Interaction
	layer        []Feature
	provisional  *Feature
	relocating   string
	popup        *Popup
	search       string
	filter       Filter
	banner       string
	saving       bool

	popupOp  op
	layerOp  op
	lastSeen time.Time
}

// op is one cancellable operation slot. Starting a new operation in a slot
// supersedes the previous one, whose results are then dropped.
type op struct {
	gen    uint64
	cancel context.CancelFunc
}

func (o *op) supersede() {
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.gen++
}

func (o *op) start(parent context.Context) (context.Context, uint64) {
	o.supersede()
	ctx, cancel := context.WithCancel(parent)
	o.cancel = cancel
	return ctx, o.gen
}

// finish reports whether gen is still current and releases its context.
func (o *op) finish(gen uint64) bool {
	if o.gen != gen {
		return false
	}
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	return true
}

func newSession(id string, now time.Time) *Session {
	return &Session{ID: id, filter: Filter{Kind: FilterAll}, lastSeen: now}
}

// View returns a copy of the session state.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{
		SessionID:    s.ID,
		State:        s.state,
		Editing:      s.editing,
		Interactions: append([]Interaction(nil), s.interactions...),
		Features:     s.features(),
		SearchText:   s.search,
		Filter:       s.filter,
		Relocating:   s.relocating,
	}
	if s.popup != nil {
		p := *s.popup
		p.Services = append([]campus.Service(nil), s.popup.Services...)
		v.Popup = &p
	}
	return v
}

// TakeBanner returns the pending user-visible error and clears it.
func (s *Session) TakeBanner() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.banner
	s.banner = ""
	return b
}

// features returns the displayed set including the provisional feature.
// Caller holds mu.
func (s *Session) features() []Feature {
	out := make([]Feature, 0, len(s.layer)+1)
	out = append(out, s.layer...)
	if s.provisional != nil {
		out = append(out, *s.provisional)
	}
	return out
}

// discardProvisional drops the unsaved building and its form. Caller
// holds mu.
func (s *Session) discardProvisional() {
	s.provisional = nil
	if s.popup != nil && s.popup.Kind == PopupForm {
		s.popup = nil
	}
	if s.state == AwaitingNewBuildingForm {
		s.state = Idle
	}
}

func displayFeatures(buildings []campus.Building) []Feature {
	out := make([]Feature, 0, len(buildings))
	for _, b := range buildings {
		out = append(out, Feature{ID: b.ID, Name: b.Name, Coordinates: campus.ToDisplay(b.Location)})
	}
	return out
}
