// Package resolver answers the building/service questions of the map by
// joining the batiment_service link table against services and batiments.
package resolver

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/joeblew999/campus-map/internal/campus"
	"github.com/joeblew999/campus-map/internal/wfs"
)

// audiencePrefix is stripped from audience values before splitting.
const audiencePrefix = "services."

// Source is the subset of the WFS gateway the resolver reads from.
type Source interface {
	FetchByFilter(ctx context.Context, typeName, attribute, value string) ([]wfs.Feature, error)
	FetchByID(ctx context.Context, typeName, id string) ([]wfs.Feature, error)
	FetchByCQL(ctx context.Context, property, value string) ([]wfs.Feature, error)
	FetchAll(ctx context.Context, typeName string) ([]wfs.Feature, error)
}

// Resolver resolves building/service associations. Lookups are issued one
// per link, sequentially.
type Resolver struct {
	src    Source
	logger *zap.Logger
}

// New creates a resolver.
func New(src Source, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{src: src, logger: logger.Named("resolver")}
}

// ServicesForBuilding returns the services linked to a building.
func (r *Resolver) ServicesForBuilding(ctx context.Context, buildingID string) ([]campus.Service, error) {
	links, err := r.links(ctx, wfs.LinkBuildingID, wfs.BareID(wfs.TypeBuildings, buildingID))
	if err != nil {
		return nil, err
	}

	services := make([]campus.Service, 0, len(links))
	for _, l := range links {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		features, err := r.src.FetchByID(ctx, wfs.TypeServices, l.ServiceID)
		if err != nil {
			r.logger.Warn("skipping unresolved service link",
				zap.String("building", buildingID), zap.String("service", l.ServiceID), zap.Error(err))
			continue
		}
		for _, f := range features {
			services = append(services, campus.ServiceFromFeature(f))
		}
	}
	return services, nil
}

// BuildingsForService returns the buildings linked to a service.
func (r *Resolver) BuildingsForService(ctx context.Context, serviceID string) ([]campus.Building, error) {
	links, err := r.links(ctx, wfs.LinkServiceID, wfs.BareID(wfs.TypeServices, serviceID))
	if err != nil {
		return nil, err
	}

	buildings := make([]campus.Building, 0, len(links))
	for _, l := range links {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		features, err := r.src.FetchByID(ctx, wfs.TypeBuildings, l.BuildingID)
		if err != nil {
			r.logger.Warn("skipping unresolved building link",
				zap.String("service", serviceID), zap.String("building", l.BuildingID), zap.Error(err))
			continue
		}
		for _, f := range features {
			buildings = append(buildings, campus.BuildingFromFeature(f))
		}
	}
	return buildings, nil
}

// BuildingsForAudience returns the union of the buildings of every service
// whose audience contains tag as a substring. Buildings offering several
// matching services appear once, in first-seen order.
func (r *Resolver) BuildingsForAudience(ctx context.Context, tag string) ([]campus.Building, error) {
	services, err := r.AllServices(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	buildings := []campus.Building{}
	for _, s := range ServicesWithAudience(services, tag) {
		found, err := r.BuildingsForService(ctx, s.ID)
		if err != nil {
			return nil, fmt.Errorf("buildings for service %s: %w", s.ID, err)
		}
		for _, b := range found {
			if seen[b.ID] {
				continue
			}
			seen[b.ID] = true
			buildings = append(buildings, b)
		}
	}
	return buildings, nil
}

// AllDistinctAudienceTags returns every audience tag used by any service,
// sorted and without duplicates.
func (r *Resolver) AllDistinctAudienceTags(ctx context.Context) ([]string, error) {
	services, err := r.AllServices(ctx)
	if err != nil {
		return nil, err
	}
	return AudienceTags(services), nil
}

// AllServices lists the services collection.
func (r *Resolver) AllServices(ctx context.Context) ([]campus.Service, error) {
	features, err := r.src.FetchAll(ctx, wfs.TypeServices)
	if err != nil {
		return nil, err
	}
	services := make([]campus.Service, 0, len(features))
	for _, f := range features {
		services = append(services, campus.ServiceFromFeature(f))
	}
	return services, nil
}

// AllBuildings lists the batiments collection.
func (r *Resolver) AllBuildings(ctx context.Context) ([]campus.Building, error) {
	features, err := r.src.FetchAll(ctx, wfs.TypeBuildings)
	if err != nil {
		return nil, err
	}
	return buildings(features), nil
}

// SearchBuildings returns buildings whose property equals value.
func (r *Resolver) SearchBuildings(ctx context.Context, property, value string) ([]campus.Building, error) {
	features, err := r.src.FetchByCQL(ctx, property, value)
	if err != nil {
		return nil, err
	}
	return buildings(features), nil
}

// Building returns one building by id.
func (r *Resolver) Building(ctx context.Context, id string) (campus.Building, bool, error) {
	features, err := r.src.FetchByID(ctx, wfs.TypeBuildings, id)
	if err != nil {
		return campus.Building{}, false, err
	}
	if len(features) == 0 {
		return campus.Building{}, false, nil
	}
	return campus.BuildingFromFeature(features[0]), true, nil
}

// EnrichedServices pairs every service with the coordinates of the first
// building that offers it. Services offered nowhere are left out.
func (r *Resolver) EnrichedServices(ctx context.Context) ([]campus.EnrichedService, error) {
	services, err := r.AllServices(ctx)
	if err != nil {
		return nil, err
	}

	rows := make([]campus.EnrichedService, 0, len(services))
	for _, s := range services {
		found, err := r.BuildingsForService(ctx, s.ID)
		if err != nil {
			return nil, fmt.Errorf("buildings for service %s: %w", s.ID, err)
		}
		if len(found) == 0 {
			r.logger.Info("service has no building, not exported", zap.String("service", s.ID))
			continue
		}
		rows = append(rows, campus.EnrichedService{
			Name:        s.Name,
			Description: s.Description,
			Lat:         found[0].Lat,
			Lon:         found[0].Lon,
		})
	}
	return rows, nil
}

func (r *Resolver) links(ctx context.Context, attribute, value string) ([]campus.Link, error) {
	features, err := r.src.FetchByFilter(ctx, wfs.TypeLinks, attribute, value)
	if err != nil {
		return nil, fmt.Errorf("links by %s=%s: %w", attribute, value, err)
	}
	links := make([]campus.Link, 0, len(features))
	for _, f := range features {
		links = append(links, campus.LinkFromFeature(f))
	}
	return links, nil
}

func buildings(features []wfs.Feature) []campus.Building {
	out := make([]campus.Building, 0, len(features))
	for _, f := range features {
		out = append(out, campus.BuildingFromFeature(f))
	}
	return out
}

// ServicesWithAudience keeps the services whose audience contains tag.
// Matching is substring containment: "staff" also matches "nonstaff".
func ServicesWithAudience(services []campus.Service, tag string) []campus.Service {
	var out []campus.Service
	for _, s := range services {
		if strings.Contains(s.Audience, tag) {
			out = append(out, s)
		}
	}
	return out
}

// AudienceTags splits every audience value on "-" and returns the sorted
// set of non-empty tags.
func AudienceTags(services []campus.Service) []string {
	set := make(map[string]struct{})
	for _, s := range services {
		for _, tag := range strings.Split(strings.TrimPrefix(s.Audience, audiencePrefix), "-") {
			if tag = strings.TrimSpace(tag); tag != "" {
				set[tag] = struct{}{}
			}
		}
	}
	tags := make([]string, 0, len(set))
	for tag := range set {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}
