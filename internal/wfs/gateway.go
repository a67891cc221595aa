package wfs

import (
	"context"
	"strconv"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Gateway issues WFS requests against one GeoServer workspace.
type Gateway struct {
	cfg    Config
	read   *resty.Client
	write  *resty.Client
	logger *zap.Logger
}

// New creates a gateway. Reads are retried; transactions are not, since a
// retried Insert could create the feature twice.
func New(cfg Config, logger *zap.Logger) *Gateway {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	read := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetHeader("Accept", "application/json")

	write := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "text/xml")

	return &Gateway{
		cfg:    cfg,
		read:   read,
		write:  write,
		logger: logger.Named("wfs"),
	}
}

// Config returns the effective settings.
func (g *Gateway) Config() Config {
	return g.cfg
}

// FetchByFilter returns the features of typeName whose attribute equals value.
func (g *Gateway) FetchByFilter(ctx context.Context, typeName, attribute, value string) ([]Feature, error) {
	body, err := g.cfg.equalToRequest(typeName, attribute, value)
	if err != nil {
		return nil, err
	}

	resp, err := g.read.R().
		SetContext(ctx).
		SetHeader("Content-Type", "text/xml").
		SetBody(body).
		Post("/wfs")
	return g.features("filter", typeName, resp, err,
		zap.String("attribute", attribute), zap.String("value", value))
}

// FetchByID returns the feature typeName.id. id may be bare or prefixed.
func (g *Gateway) FetchByID(ctx context.Context, typeName, id string) ([]Feature, error) {
	resp, err := g.read.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"service":      "WFS",
			"request":      "GetFeature",
			"version":      versionByID,
			"typeName":     g.cfg.qualified(typeName),
			"outputFormat": "json",
			"FEATUREID":    QualifiedID(typeName, id),
		}).
		Get("/wfs")
	return g.features("by-id", typeName, resp, err, zap.String("id", id))
}

// FetchByCQL returns buildings where property equals value, using a
// CQL_FILTER query string.
func (g *Gateway) FetchByCQL(ctx context.Context, property, value string) ([]Feature, error) {
	cql, err := CQLEquals(property, value)
	if err != nil {
		return nil, err
	}

	resp, err := g.read.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"service":      "WFS",
			"version":      versionCQL,
			"request":      "GetFeature",
			"typeName":     g.cfg.qualified(TypeBuildings),
			"maxFeatures":  strconv.Itoa(g.cfg.MaxFeatures),
			"outputFormat": "application/json",
			"CQL_FILTER":   cql,
		}).
		Get("/" + g.cfg.Workspace + "/ows")
	return g.features("cql", TypeBuildings, resp, err, zap.String("cql", cql))
}

// FetchAll lists typeName, bounded by MaxFeatures.
func (g *Gateway) FetchAll(ctx context.Context, typeName string) ([]Feature, error) {
	resp, err := g.read.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"service":      "WFS",
			"version":      versionList,
			"request":      "GetFeature",
			"typeName":     g.cfg.qualified(typeName),
			"count":        strconv.Itoa(g.cfg.MaxFeatures),
			"outputFormat": "application/json",
		}).
		Get("/" + g.cfg.Workspace + "/wfs")
	return g.features("list", typeName, resp, err)
}

// features turns a GetFeature response into records, logging every failure.
func (g *Gateway) features(op, typeName string, resp *resty.Response, err error, fields ...zap.Field) ([]Feature, error) {
	fields = append(fields, zap.String("op", op), zap.String("type", typeName))

	if err := checkResponse(op, resp, err); err != nil {
		g.logger.Warn("WFS request failed", append(fields, zap.Error(err))...)
		return nil, err
	}

	body := resp.Body()
	if looksLikeXML(body) {
		serr := parseException(op, body)
		g.logger.Warn("WFS server exception", append(fields, zap.Error(serr))...)
		return nil, serr
	}

	features, err := decodeFeatures(body)
	if err != nil {
		g.logger.Warn("WFS response not decodable", append(fields, zap.Error(err))...)
		return nil, err
	}

	g.logger.Debug("WFS features fetched", append(fields, zap.Int("count", len(features)))...)
	return features, nil
}

func checkResponse(op string, resp *resty.Response, err error) error {
	url := ""
	if resp != nil && resp.Request != nil {
		url = resp.Request.URL
	}
	if err != nil {
		return &NetworkError{Op: op, URL: url, Err: err}
	}
	if !resp.IsSuccess() {
		return &NetworkError{Op: op, URL: url, StatusCode: resp.StatusCode()}
	}
	return nil
}

func looksLikeXML(body []byte) bool {
	for _, b := range body {
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		case '<':
			return true
		default:
			return false
		}
	}
	return false
}
