// Package wfstest provides an in-memory stand-in for the WFS gateway.
package wfstest

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/campus-map/internal/wfs"
)

// Call records one gateway invocation.
type Call struct {
	Op       string // method name, e.g. "InsertBuilding"
	TypeName string
	Args     []string
}

// Memory holds feature tables keyed by type name. It is safe for
// concurrent use.
type Memory struct {
	mu     sync.Mutex
	tables map[string][]wfs.Feature
	calls  []Call
	nextID int

	// Fail makes every call of the named op return the error.
	Fail map[string]error
	// Block, when set, is received from before each call returns.
	Block chan struct{}
}

// New creates an empty store.
func New() *Memory {
	return &Memory{
		tables: map[string][]wfs.Feature{},
		Fail:   map[string]error{},
		nextID: 1000,
	}
}

// AddBuilding stores a building at a (lon, lat) location.
func (m *Memory) AddBuilding(id string, name string, lon, lat float64) {
	m.add(wfs.TypeBuildings, wfs.Feature{
		ID:       wfs.QualifiedID(wfs.TypeBuildings, id),
		Geometry: orb.Point{lon, lat},
		Properties: geojson.Properties{
			"nom":             name,
			"coordonnees_lat": lat,
			"coordonnees_lon": lon,
		},
	})
}

// AddService stores a service.
func (m *Memory) AddService(id, name, description, audience string) {
	m.add(wfs.TypeServices, wfs.Feature{
		ID: wfs.QualifiedID(wfs.TypeServices, id),
		Properties: geojson.Properties{
			"nom_service":         name,
			"description_service": description,
			"public_cible":        audience,
		},
	})
}

// Link associates bare building and service ids.
func (m *Memory) Link(buildingID, serviceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.tables[wfs.TypeLinks] = append(m.tables[wfs.TypeLinks], wfs.Feature{
		ID: wfs.QualifiedID(wfs.TypeLinks, strconv.Itoa(m.nextID)),
		Properties: geojson.Properties{
			wfs.LinkBuildingID: buildingID,
			wfs.LinkServiceID:  serviceID,
		},
	})
}

func (m *Memory) add(typeName string, f wfs.Feature) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[typeName] = append(m.tables[typeName], f)
}

// Calls returns the recorded calls of op, or all calls when op is empty.
func (m *Memory) Calls(op string) []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Call
	for _, c := range m.calls {
		if op == "" || c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Feature returns a stored feature by qualified id.
func (m *Memory) Feature(typeName, id string) (wfs.Feature, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.tables[typeName] {
		if f.ID == wfs.QualifiedID(typeName, id) {
			return f, true
		}
	}
	return wfs.Feature{}, false
}

func (m *Memory) record(op, typeName string, args ...string) error {
	m.mu.Lock()
	m.calls = append(m.calls, Call{Op: op, TypeName: typeName, Args: args})
	err := m.Fail[op]
	block := m.Block
	m.mu.Unlock()
	if block != nil {
		<-block
	}
	return err
}

func (m *Memory) FetchByFilter(ctx context.Context, typeName, attribute, value string) ([]wfs.Feature, error) {
	if err := m.record("FetchByFilter", typeName, attribute, value); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []wfs.Feature{}
	for _, f := range m.tables[typeName] {
		if fmt.Sprint(f.Properties[attribute]) == value {
			out = append(out, f)
		}
	}
	return out, ctx.Err()
}

func (m *Memory) FetchByID(ctx context.Context, typeName, id string) ([]wfs.Feature, error) {
	if err := m.record("FetchByID", typeName, id); err != nil {
		return nil, err
	}
	if f, ok := m.Feature(typeName, id); ok {
		return []wfs.Feature{f}, ctx.Err()
	}
	return []wfs.Feature{}, ctx.Err()
}

func (m *Memory) FetchByCQL(ctx context.Context, property, value string) ([]wfs.Feature, error) {
	if err := m.record("FetchByCQL", wfs.TypeBuildings, property, value); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []wfs.Feature{}
	for _, f := range m.tables[wfs.TypeBuildings] {
		if fmt.Sprint(f.Properties[property]) == value {
			out = append(out, f)
		}
	}
	return out, ctx.Err()
}

func (m *Memory) FetchAll(ctx context.Context, typeName string) ([]wfs.Feature, error) {
	if err := m.record("FetchAll", typeName); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]wfs.Feature{}, m.tables[typeName]...), ctx.Err()
}

func (m *Memory) InsertBuilding(ctx context.Context, fields []wfs.Field, location orb.Point) (wfs.WriteResult, error) {
	args := make([]string, 0, len(fields))
	for _, f := range fields {
		args = append(args, f.Name+"="+f.Value)
	}
	if err := m.record("InsertBuilding", wfs.TypeBuildings, args...); err != nil {
		return wfs.WriteResult{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	props := geojson.Properties{}
	for _, f := range fields {
		props[f.Name] = f.Value
	}
	fid := wfs.QualifiedID(wfs.TypeBuildings, strconv.Itoa(m.nextID))
	m.tables[wfs.TypeBuildings] = append(m.tables[wfs.TypeBuildings], wfs.Feature{
		ID: fid, Geometry: location, Properties: props,
	})
	return wfs.WriteResult{Confirmed: true, Inserted: 1, FeatureIDs: []string{fid}}, nil
}

func (m *Memory) InsertServiceLink(ctx context.Context, buildingID, serviceID string) (wfs.WriteResult, error) {
	if err := m.record("InsertServiceLink", wfs.TypeLinks, buildingID, serviceID); err != nil {
		return wfs.WriteResult{}, err
	}
	m.Link(wfs.BareID(wfs.TypeBuildings, buildingID), wfs.BareID(wfs.TypeServices, serviceID))
	return wfs.WriteResult{Confirmed: true, Inserted: 1}, nil
}

func (m *Memory) UpdateBuildingGeometry(ctx context.Context, featureID string, lon, lat float64) (wfs.WriteResult, error) {
	if err := m.record("UpdateBuildingGeometry", wfs.TypeBuildings, featureID,
		strconv.FormatFloat(lon, 'f', -1, 64), strconv.FormatFloat(lat, 'f', -1, 64)); err != nil {
		return wfs.WriteResult{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	fid := wfs.QualifiedID(wfs.TypeBuildings, featureID)
	for i, f := range m.tables[wfs.TypeBuildings] {
		if f.ID == fid {
			// Geometry only, like the server update; the attributes go stale.
			m.tables[wfs.TypeBuildings][i].Geometry = orb.Point{lon, lat}
			return wfs.WriteResult{Confirmed: true, Updated: 1}, nil
		}
	}
	return wfs.WriteResult{}, fmt.Errorf("%w: no feature %s", wfs.ErrWriteUnconfirmed, fid)
}
