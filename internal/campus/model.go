// Package campus holds the campus domain types and their mapping to WFS
// feature records.
package campus

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"

	"github.com/joeblew999/campus-map/internal/wfs"
)

// Attribute names of the batiments feature type.
const (
	PropName       = "nom"
	PropComponent  = "composante"
	PropCampus     = "campus"
	PropPostalCode = "code_postal"
	PropStreet     = "rue"
	PropLat        = "coordonnees_lat"
	PropLon        = "coordonnees_lon"
)

// Attribute names of the services feature type.
const (
	PropServiceName        = "nom_service"
	PropServiceDescription = "description_service"
	PropServiceAudience    = "public_cible"
)

// Building is one batiments feature. Location is in EPSG:4326.
type Building struct {
	ID         string    `json:"id" doc:"Feature id" example:"batiments.12"`
	Name       string    `json:"name" doc:"Building name" example:"Hall A"`
	Component  string    `json:"component,omitempty" doc:"Department or component" example:"IUT"`
	Campus     string    `json:"campus,omitempty" doc:"Campus" example:"Orleans"`
	PostalCode string    `json:"postalCode,omitempty" doc:"Postal code" example:"45100"`
	Street     string    `json:"street,omitempty" doc:"Street address"`
	Lat        float64   `json:"lat" doc:"Latitude (EPSG:4326)" example:"47.844"`
	Lon        float64   `json:"lon" doc:"Longitude (EPSG:4326)" example:"1.934"`
	Location   orb.Point `json:"-"`
}

// Service is one services feature.
type Service struct {
	ID          string `json:"id" doc:"Feature id" example:"services.1"`
	Name        string `json:"name" doc:"Service name" example:"Library"`
	Description string `json:"description,omitempty" doc:"Service description"`
	Audience    string `json:"audience,omitempty" doc:"Hyphen-delimited target audience" example:"students-staff"`
}

// Link is one batiment_service row. Both ids are bare.
type Link struct {
	BuildingID string `json:"buildingId"`
	ServiceID  string `json:"serviceId"`
}

// EnrichedService is a service with the coordinates of the building that
// offers it; one export row.
type EnrichedService struct {
	Name        string  `json:"name" doc:"Service name"`
	Description string  `json:"description" doc:"Service description"`
	Lat         float64 `json:"lat" doc:"Latitude (EPSG:4326)"`
	Lon         float64 `json:"lon" doc:"Longitude (EPSG:4326)"`
}

// BuildingForm is the creation form submitted for a provisional building.
type BuildingForm struct {
	Name       string `json:"name" validate:"required,max=100"`
	Component  string `json:"component" validate:"required,max=200"`
	Campus     string `json:"campus" validate:"max=100"`
	PostalCode string `json:"postalCode" validate:"omitempty,numeric,len=5"`
	Street     string `json:"street" validate:"max=200"`
	ServiceID  string `json:"serviceId" validate:"max=64"`
}

// BuildingFromFeature decodes a batiments feature. The point geometry is
// authoritative for Lat and Lon; the coordinate attributes are only used
// when the feature has no point geometry.
func BuildingFromFeature(f wfs.Feature) Building {
	p := f.Properties
	b := Building{
		ID:         f.ID,
		Name:       p.MustString(PropName, ""),
		Component:  p.MustString(PropComponent, ""),
		Campus:     p.MustString(PropCampus, ""),
		PostalCode: stringProp(p, PropPostalCode),
		Street:     p.MustString(PropStreet, ""),
		Lat:        floatProp(p, PropLat),
		Lon:        floatProp(p, PropLon),
	}
	if pt, ok := f.Geometry.(orb.Point); ok {
		b.Location = pt
		b.Lon, b.Lat = pt.Lon(), pt.Lat()
	} else {
		b.Location = orb.Point{b.Lon, b.Lat}
	}
	return b
}

// ServiceFromFeature decodes a services feature.
func ServiceFromFeature(f wfs.Feature) Service {
	return Service{
		ID:          f.ID,
		Name:        f.Properties.MustString(PropServiceName, ""),
		Description: f.Properties.MustString(PropServiceDescription, ""),
		Audience:    f.Properties.MustString(PropServiceAudience, ""),
	}
}

// LinkFromFeature decodes a batiment_service feature.
func LinkFromFeature(f wfs.Feature) Link {
	return Link{
		BuildingID: stringProp(f.Properties, wfs.LinkBuildingID),
		ServiceID:  stringProp(f.Properties, wfs.LinkServiceID),
	}
}

// Fields returns the Insert attributes of a submitted form at a storage
// location.
func (f BuildingForm) Fields(location orb.Point) []wfs.Field {
	fields := []wfs.Field{
		{Name: PropName, Value: f.Name},
		{Name: PropComponent, Value: f.Component},
	}
	for _, opt := range []wfs.Field{
		{Name: PropCampus, Value: f.Campus},
		{Name: PropPostalCode, Value: f.PostalCode},
		{Name: PropStreet, Value: f.Street},
	} {
		if opt.Value != "" {
			fields = append(fields, opt)
		}
	}
	return append(fields,
		wfs.Field{Name: PropLat, Value: strconv.FormatFloat(location.Lat(), 'f', -1, 64)},
		wfs.Field{Name: PropLon, Value: strconv.FormatFloat(location.Lon(), 'f', -1, 64)},
	)
}

// stringProp reads an attribute that GeoServer may encode as a number.
func stringProp(p map[string]any, key string) string {
	switch v := p[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// floatProp reads an attribute that may be encoded as a string.
func floatProp(p map[string]any, key string) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0
		}
		return f
	}
	return 0
}
