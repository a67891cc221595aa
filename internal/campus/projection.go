package campus

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// Projections used by the map: features are stored in EPSG:4326 and drawn
// in EPSG:3857.
const (
	StorageSRS = "EPSG:4326"
	DisplaySRS = "EPSG:3857"
)

// ToDisplay projects a storage (lon, lat) point to web mercator.
func ToDisplay(p orb.Point) orb.Point {
	return project.Point(p, project.WGS84.ToMercator)
}

// ToStorage projects a web mercator point back to (lon, lat).
func ToStorage(p orb.Point) orb.Point {
	return project.Point(p, project.Mercator.ToWGS84)
}
