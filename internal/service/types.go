// Package service contains the campus preset store and the change event bus.
package service

// CampusPreset is one campus selection button: the buildings whose Property
// equals Value, framed at Center and Zoom.
type CampusPreset struct {
	ID       string     `json:"id,omitempty" doc:"Unique preset identifier" example:"bourges"`
	Name     string     `json:"name" required:"true" minLength:"1" maxLength:"100" doc:"Button label" example:"Bourges"`
	Property string     `json:"property" required:"true" pattern:"^[A-Za-z_][A-Za-z0-9_]*$" doc:"Building attribute to match" example:"campus"`
	Value    string     `json:"value" required:"true" doc:"Attribute value to match" example:"Bourges"`
	Center   [2]float64 `json:"center" doc:"View center as [lon, lat] (EPSG:4326)" example:"[2.3986, 47.0811]"`
	Zoom     float64    `json:"zoom,omitempty" minimum:"0" maximum:"22" default:"15" doc:"View zoom level" example:"15"`
	Order    int        `json:"order,omitempty" doc:"Display order of the button"`
}

// DefaultPresets are the campuses offered when no presets file exists.
func DefaultPresets() []CampusPreset {
	return []CampusPreset{
		{ID: "bourges", Name: "Bourges", Property: "campus", Value: "Bourges", Center: [2]float64{2.4138, 47.0843}, Zoom: 16, Order: 1},
		{ID: "orleans", Name: "Orléans", Property: "nom", Value: "EGS", Center: [2]float64{1.9372, 47.8446}, Zoom: 15, Order: 2},
	}
}
