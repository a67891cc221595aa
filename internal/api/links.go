package api

// Links maps operation paths to their RFC 8288 Link header values; pass it
// to humastar.LinkTransformer. Enables restish hypermedia navigation via
// `restish links <url>`.
var Links = map[string][]string{
	"/health": {
		`</api/v1/info>; rel="info"`,
		`</api/v1/buildings>; rel="buildings"`,
		`</api/v1/services>; rel="services"`,
		`</api/v1/campuses>; rel="campuses"`,
	},
	"/api/v1/info": {
		`</health>; rel="health"`,
		`</api/v1/journal>; rel="journal"`,
	},
	"/api/v1/buildings": {
		`</api/v1/services>; rel="services"`,
		`</api/v1/campuses>; rel="campuses"`,
	},
	"/api/v1/buildings/{id}": {
		`</api/v1/buildings>; rel="collection"`,
	},
	"/api/v1/services": {
		`</api/v1/buildings>; rel="buildings"`,
		`</api/v1/audiences>; rel="audiences"`,
		`</api/v1/exports/csv>; rel="export"; type="text/csv"`,
		`</api/v1/exports/geojson>; rel="export"; type="application/geo+json"`,
		`</api/v1/exports/xlsx>; rel="export"; type="application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"`,
	},
	"/api/v1/services/{id}/buildings": {
		`</api/v1/services>; rel="collection"`,
	},
	"/api/v1/audiences": {
		`</api/v1/services>; rel="services"`,
	},
	"/api/v1/campuses": {
		`</api/v1/buildings>; rel="buildings"`,
	},
	"/api/v1/campuses/{id}": {
		`</api/v1/campuses>; rel="collection"`,
	},
	"/api/v1/journal": {
		`</api/v1/info>; rel="info"`,
	},
}
