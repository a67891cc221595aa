package wfs

import (
	"context"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"go.uber.org/zap"
)

// WriteResult is the server-confirmed outcome of a transaction.
type WriteResult struct {
	Confirmed  bool
	FeatureIDs []string // ids assigned by an Insert
	Inserted   int
	Updated    int
}

type transactionDoc struct {
	XMLName    xml.Name   `xml:"wfs:Transaction"`
	Service    string     `xml:"service,attr"`
	Version    string     `xml:"version,attr"`
	Namespaces []xml.Attr `xml:",any,attr"`
	Insert     *insertDoc `xml:"wfs:Insert,omitempty"`
	Update     *updateDoc `xml:"wfs:Update,omitempty"`
}

type insertDoc struct {
	Feature element
}

type element struct {
	XMLName  xml.Name
	Text     string    `xml:",chardata"`
	Point    *pointDoc `xml:"gml:Point,omitempty"`
	Children []element `xml:",omitempty"`
}

type pointDoc struct {
	SRSName string `xml:"srsName,attr"`
	Pos     string `xml:"gml:pos"`
}

type updateDoc struct {
	TypeName string      `xml:"typeName,attr"`
	Property propertyDoc `xml:"wfs:Property"`
	Filter   filterDoc   `xml:"ogc:Filter"`
}

type propertyDoc struct {
	Name  string   `xml:"wfs:Name"`
	Value valueDoc `xml:"wfs:Value"`
}

type valueDoc struct {
	Point pointDoc `xml:"gml:Point"`
}

type transactionResponse struct {
	XMLName xml.Name
	Summary struct {
		TotalInserted int `xml:"totalInserted"`
		TotalUpdated  int `xml:"totalUpdated"`
	} `xml:"TransactionSummary"`
	Inserted []struct {
		FID string `xml:"fid,attr"`
	} `xml:"InsertResults>Feature>FeatureId"`
}

// point encodes lon/lat with the URL-style EPSG name, which GeoServer reads
// in lon/lat axis order under GML 3.
func (c Config) point(p orb.Point) *pointDoc {
	return &pointDoc{
		SRSName: "http://www.opengis.net/gml/srs/epsg.xml#" + epsgCode(c.SRSName),
		Pos:     strconv.FormatFloat(p.Lon(), 'f', -1, 64) + " " + strconv.FormatFloat(p.Lat(), 'f', -1, 64),
	}
}

func epsgCode(srs string) string {
	if i := strings.LastIndexByte(srs, ':'); i >= 0 {
		return srs[i+1:]
	}
	return srs
}

func (c Config) transaction() transactionDoc {
	return transactionDoc{
		Service: "WFS",
		Version: versionTx,
		Namespaces: c.namespaces(xml.Attr{
			Name:  xml.Name{Local: "xmlns:gml"},
			Value: nsGML,
		}),
	}
}

// insertRequest encodes an Insert of one feature. A nil location omits the
// geometry, which attribute-only types need.
func (c Config) insertRequest(typeName string, fields []Field, location *orb.Point) ([]byte, error) {
	feature := element{XMLName: xml.Name{Local: c.qualified(typeName)}}
	for _, f := range fields {
		if err := validProperty(f.Name); err != nil {
			return nil, err
		}
		feature.Children = append(feature.Children, element{
			XMLName: xml.Name{Local: c.Workspace + ":" + f.Name},
			Text:    f.Value,
		})
	}
	if location != nil {
		feature.Children = append(feature.Children, element{
			XMLName: xml.Name{Local: c.Workspace + ":" + c.GeometryProperty},
			Point:   c.point(*location),
		})
	}

	doc := c.transaction()
	doc.Insert = &insertDoc{Feature: feature}
	body, err := xml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encoding Insert: %w", err)
	}
	return body, nil
}

// updateGeometryRequest encodes an Update of the geometry of one feature.
func (c Config) updateGeometryRequest(typeName, featureID string, location orb.Point) ([]byte, error) {
	doc := c.transaction()
	doc.Update = &updateDoc{
		TypeName: c.qualified(typeName),
		Property: propertyDoc{
			Name:  c.GeometryProperty,
			Value: valueDoc{Point: *c.point(location)},
		},
		Filter: filterDoc{FeatureID: &featureIDDoc{FID: QualifiedID(typeName, featureID)}},
	}
	body, err := xml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encoding Update: %w", err)
	}
	return body, nil
}

// InsertBuilding inserts a building with the given attributes at a
// storage-projection (lon, lat) location.
func (g *Gateway) InsertBuilding(ctx context.Context, fields []Field, location orb.Point) (WriteResult, error) {
	body, err := g.cfg.insertRequest(TypeBuildings, fields, &location)
	if err != nil {
		return WriteResult{}, err
	}
	res, err := g.transact(ctx, "insert", TypeBuildings, body)
	if err == nil && res.Inserted < 1 {
		err = fmt.Errorf("%w: nothing inserted", ErrWriteUnconfirmed)
	}
	return g.finish("insert", TypeBuildings, res, err)
}

// InsertServiceLink associates a building with a service. Both ids may be
// bare or prefixed; the link table stores bare ids.
func (g *Gateway) InsertServiceLink(ctx context.Context, buildingID, serviceID string) (WriteResult, error) {
	body, err := g.cfg.insertRequest(TypeLinks, []Field{
		{Name: LinkBuildingID, Value: BareID(TypeBuildings, buildingID)},
		{Name: LinkServiceID, Value: BareID(TypeServices, serviceID)},
	}, nil)
	if err != nil {
		return WriteResult{}, err
	}
	res, err := g.transact(ctx, "insert", TypeLinks, body)
	if err == nil && res.Inserted < 1 {
		err = fmt.Errorf("%w: nothing inserted", ErrWriteUnconfirmed)
	}
	return g.finish("insert", TypeLinks, res, err)
}

// UpdateBuildingGeometry moves a building to a storage-projection location.
func (g *Gateway) UpdateBuildingGeometry(ctx context.Context, featureID string, lon, lat float64) (WriteResult, error) {
	body, err := g.cfg.updateGeometryRequest(TypeBuildings, featureID, orb.Point{lon, lat})
	if err != nil {
		return WriteResult{}, err
	}
	res, err := g.transact(ctx, "update", TypeBuildings, body)
	if err == nil && res.Updated < 1 {
		err = fmt.Errorf("%w: no feature %s updated", ErrWriteUnconfirmed, QualifiedID(TypeBuildings, featureID))
	}
	return g.finish("update", TypeBuildings, res, err)
}

func (g *Gateway) finish(op, typeName string, res WriteResult, err error) (WriteResult, error) {
	if err != nil {
		res.Confirmed = false
		g.logger.Warn("WFS transaction failed",
			zap.String("op", op), zap.String("type", typeName), zap.Error(err))
		return res, err
	}
	res.Confirmed = true
	g.logger.Info("WFS transaction confirmed",
		zap.String("op", op), zap.String("type", typeName),
		zap.Strings("fids", res.FeatureIDs), zap.Int("updated", res.Updated))
	return res, nil
}

func (g *Gateway) transact(ctx context.Context, op, typeName string, body []byte) (WriteResult, error) {
	resp, err := g.write.R().
		SetContext(ctx).
		SetBody(body).
		Post("/wfs")
	if err := checkResponse(op, resp, err); err != nil {
		return WriteResult{}, err
	}
	return parseTransaction(op, resp.Body())
}

// parseTransaction reads a TransactionResponse or ExceptionReport.
func parseTransaction(op string, body []byte) (WriteResult, error) {
	var tr transactionResponse
	if err := xml.Unmarshal(body, &tr); err != nil {
		return WriteResult{}, fmt.Errorf("%w: %v", ErrWriteUnconfirmed, err)
	}

	switch tr.XMLName.Local {
	case "TransactionResponse":
		res := WriteResult{
			Inserted: tr.Summary.TotalInserted,
			Updated:  tr.Summary.TotalUpdated,
		}
		for _, f := range tr.Inserted {
			if f.FID != "" {
				res.FeatureIDs = append(res.FeatureIDs, f.FID)
			}
		}
		return res, nil
	case "ExceptionReport", "ServiceExceptionReport":
		return WriteResult{}, parseException(op, body)
	default:
		return WriteResult{}, fmt.Errorf("%w: unexpected root <%s>", ErrWriteUnconfirmed, tr.XMLName.Local)
	}
}

// parseException reads an ExceptionReport returned in place of features.
func parseException(op string, body []byte) error {
	var report struct {
		Exceptions []string `xml:"Exception>ExceptionText"`
		Service    []string `xml:"ServiceException"`
	}
	if err := xml.Unmarshal(body, &report); err != nil {
		return &ServerError{Op: op, Messages: []string{"unreadable XML response"}}
	}
	var msgs []string
	for _, m := range append(report.Exceptions, report.Service...) {
		if m = strings.TrimSpace(m); m != "" {
			msgs = append(msgs, m)
		}
	}
	return &ServerError{Op: op, Messages: msgs}
}
