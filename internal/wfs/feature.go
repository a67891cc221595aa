package wfs

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Feature is one decoded WFS feature. Geometry is nil for attribute-only
// types such as services and batiment_service.
type Feature struct {
	ID         string
	Geometry   orb.Geometry
	Properties geojson.Properties
}

// Field is one attribute written by an Insert, in document order.
type Field struct {
	Name  string
	Value string
}

type rawCollection struct {
	Type     string       `json:"type"`
	Features []rawFeature `json:"features"`
}

type rawFeature struct {
	ID         any                `json:"id"`
	Geometry   json.RawMessage    `json:"geometry"`
	Properties geojson.Properties `json:"properties"`
}

// decodeFeatures parses a GeoJSON FeatureCollection. Null geometries are
// kept as nil so link rows decode the same way as buildings.
func decodeFeatures(data []byte) ([]Feature, error) {
	var fc rawCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("decoding feature collection: %w", err)
	}

	features := make([]Feature, 0, len(fc.Features))
	for _, rf := range fc.Features {
		f := Feature{Properties: rf.Properties}
		if rf.ID != nil {
			f.ID = fmt.Sprint(rf.ID)
		}
		if f.Properties == nil {
			f.Properties = geojson.Properties{}
		}
		if len(rf.Geometry) > 0 && string(rf.Geometry) != "null" {
			g, err := geojson.UnmarshalGeometry(rf.Geometry)
			if err != nil {
				return nil, fmt.Errorf("decoding geometry of %q: %w", f.ID, err)
			}
			f.Geometry = g.Geometry()
		}
		features = append(features, f)
	}
	return features, nil
}

// QualifiedID returns "<typeName>.<id>", leaving already-prefixed ids alone.
func QualifiedID(typeName, id string) string {
	if strings.HasPrefix(id, typeName+".") {
		return id
	}
	return typeName + "." + id
}

// BareID strips the "<typeName>." prefix from a feature id.
func BareID(typeName, id string) string {
	return strings.TrimPrefix(id, typeName+".")
}
