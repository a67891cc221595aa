package wfs

import (
	"encoding/xml"
	"fmt"
	"regexp"
	"strings"
)

const (
	nsWFS = "http://www.opengis.net/wfs"
	nsOGC = "http://www.opengis.net/ogc"
	nsGML = "http://www.opengis.net/gml"
)

// identifier matches property names safe to place in a filter unquoted.
var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validProperty(name string) error {
	if !identifier.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidProperty, name)
	}
	return nil
}

// CQLEquals builds `property = 'value'` with single quotes in value doubled,
// the CQL escape for string literals.
func CQLEquals(property, value string) (string, error) {
	if err := validProperty(property); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s = '%s'", property, strings.ReplaceAll(value, "'", "''")), nil
}

type getFeatureDoc struct {
	XMLName      xml.Name   `xml:"wfs:GetFeature"`
	Service      string     `xml:"service,attr"`
	Version      string     `xml:"version,attr"`
	OutputFormat string     `xml:"outputFormat,attr"`
	Namespaces   []xml.Attr `xml:",any,attr"`
	Query        queryDoc   `xml:"wfs:Query"`
}

type queryDoc struct {
	TypeName string     `xml:"typeName,attr"`
	SRSName  string     `xml:"srsName,attr"`
	Filter   *filterDoc `xml:"ogc:Filter,omitempty"`
}

type filterDoc struct {
	EqualTo   *equalToDoc   `xml:"ogc:PropertyIsEqualTo,omitempty"`
	FeatureID *featureIDDoc `xml:"ogc:FeatureId,omitempty"`
}

type equalToDoc struct {
	PropertyName string `xml:"ogc:PropertyName"`
	Literal      string `xml:"ogc:Literal"`
}

type featureIDDoc struct {
	FID string `xml:"fid,attr"`
}

// namespaces returns the xmlns declarations shared by request documents.
func (c Config) namespaces(extra ...xml.Attr) []xml.Attr {
	attrs := []xml.Attr{
		{Name: xml.Name{Local: "xmlns:wfs"}, Value: nsWFS},
		{Name: xml.Name{Local: "xmlns:ogc"}, Value: nsOGC},
		{Name: xml.Name{Local: "xmlns:" + c.Workspace}, Value: c.NamespaceURI},
	}
	return append(attrs, extra...)
}

func (c Config) qualified(typeName string) string {
	return c.Workspace + ":" + typeName
}

// equalToRequest encodes a GetFeature with a PropertyIsEqualTo filter.
// Property and literal are element text, so encoding/xml escapes them.
func (c Config) equalToRequest(typeName, property, value string) ([]byte, error) {
	if err := validProperty(property); err != nil {
		return nil, err
	}
	doc := getFeatureDoc{
		Service:      "WFS",
		Version:      versionFilter,
		OutputFormat: "application/json",
		Namespaces:   c.namespaces(),
		Query: queryDoc{
			TypeName: c.qualified(typeName),
			SRSName:  c.SRSName,
			Filter: &filterDoc{EqualTo: &equalToDoc{
				PropertyName: property,
				Literal:      value,
			}},
		},
	}
	body, err := xml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encoding GetFeature: %w", err)
	}
	return body, nil
}
