// Package wfs is a small OGC WFS client for the campus feature types.
//
// Reads are GetFeature requests decoded from GeoJSON. Writes are WFS 1.1.0
// Transactions whose responses are parsed, so an insert or update is only
// reported as done once the server has confirmed it.
package wfs

import "time"

// Feature type names served by the campus workspace.
const (
	TypeBuildings = "batiments"
	TypeServices  = "services"
	TypeLinks     = "batiment_service"
)

// Link table columns.
const (
	LinkBuildingID = "batiment_id"
	LinkServiceID  = "service_id"
)

// Protocol versions used per request kind.
const (
	versionFilter = "1.1.0"
	versionByID   = "1.1.0"
	versionCQL    = "1.0.0"
	versionList   = "2.0.0"
	versionTx     = "1.1.0"
)

// Config holds the WFS endpoint settings.
type Config struct {
	BaseURL          string        // GeoServer root, e.g. http://localhost:8080/geoserver
	Workspace        string        // feature type prefix, e.g. "projet"
	NamespaceURI     string        // namespace bound to Workspace; defaults to Workspace
	MaxFeatures      int           // cap on listing and CQL queries
	Timeout          time.Duration // per request
	RetryCount       int           // retries for reads only
	GeometryProperty string        // geometry column of batiments
	SRSName          string        // storage projection
}

// DefaultConfig returns the settings of a local GeoServer with the "projet"
// workspace.
func DefaultConfig() Config {
	return Config{
		BaseURL:          "http://localhost:8080/geoserver",
		Workspace:        "projet",
		MaxFeatures:      100,
		Timeout:          15 * time.Second,
		RetryCount:       2,
		GeometryProperty: "geom",
		SRSName:          "EPSG:4326",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BaseURL == "" {
		c.BaseURL = d.BaseURL
	}
	if c.Workspace == "" {
		c.Workspace = d.Workspace
	}
	if c.NamespaceURI == "" {
		c.NamespaceURI = c.Workspace
	}
	if c.MaxFeatures <= 0 {
		c.MaxFeatures = d.MaxFeatures
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.RetryCount < 0 {
		c.RetryCount = 0
	}
	if c.GeometryProperty == "" {
		c.GeometryProperty = d.GeometryProperty
	}
	if c.SRSName == "" {
		c.SRSName = d.SRSName
	}
	return c
}
