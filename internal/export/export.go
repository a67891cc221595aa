// Package export renders enriched services as downloadable CSV, GeoJSON and
// XLSX files.
package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/xuri/excelize/v2"

	"github.com/joeblew999/campus-map/internal/campus"
)

// Header is the column order of the tabular exports.
var Header = []string{"name", "description", "coordonnees_lat", "coordonnees_lon"}

// Format is an export file format.
type Format string

const (
	CSV     Format = "csv"
	GeoJSON Format = "geojson"
	XLSX    Format = "xlsx"
)

// Formats lists the supported formats.
var Formats = []Format{CSV, GeoJSON, XLSX}

// ParseFormat accepts a format name, case-insensitively.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown export format %q", s)
}

// Filename is the download name of the format.
func (f Format) Filename() string {
	return "campus." + string(f)
}

// ContentType is the MIME type of the format.
func (f Format) ContentType() string {
	switch f {
	case CSV:
		return "text/csv; charset=utf-8"
	case GeoJSON:
		return "application/geo+json"
	case XLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "application/octet-stream"
}

// Render encodes rows in the format.
func Render(f Format, rows []campus.EnrichedService) ([]byte, error) {
	switch f {
	case CSV:
		s, err := ToCSV(rows)
		return []byte(s), err
	case GeoJSON:
		return ToGeoJSON(rows)
	case XLSX:
		return ToXLSX(rows)
	}
	return nil, fmt.Errorf("unknown export format %q", f)
}

// ToCSV writes the header and one row per service. Fields are quoted when
// they contain commas, quotes or newlines.
func ToCSV(rows []campus.EnrichedService) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(Header); err != nil {
		return "", err
	}
	for _, r := range rows {
		if err := w.Write([]string{r.Name, r.Description, formatCoord(r.Lat), formatCoord(r.Lon)}); err != nil {
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("writing csv: %w", err)
	}
	return buf.String(), nil
}

// ToGeoJSON builds a FeatureCollection with one [lon, lat] Point per row,
// indented with two spaces.
func ToGeoJSON(rows []campus.EnrichedService) ([]byte, error) {
	fc := geojson.NewFeatureCollection()
	for _, r := range rows {
		f := geojson.NewFeature(orb.Point{r.Lon, r.Lat})
		f.Properties["name"] = r.Name
		f.Properties["description"] = r.Description
		fc.Append(f)
	}
	out, err := json.MarshalIndent(fc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding geojson: %w", err)
	}
	return out, nil
}

const sheetName = "Services"

var columnWidths = []float64{30, 60, 16, 16}

// ToXLSX writes the CSV columns to a single-sheet workbook.
func ToXLSX(rows []campus.EnrichedService) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if _, err := f.NewSheet(sheetName); err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("failed to drop default sheet: %w", err)
	}
	index, err := f.GetSheetIndex(sheetName)
	if err != nil {
		return nil, err
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	for col, header := range Header {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(sheetName, cell, header); err != nil {
			return nil, fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheetName, cell, cell, headerStyle); err != nil {
			return nil, fmt.Errorf("failed to set header style: %w", err)
		}
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetColWidth(sheetName, name, name, columnWidths[col]); err != nil {
			return nil, fmt.Errorf("failed to set column width: %w", err)
		}
	}

	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(sheetName, cell, &[]any{r.Name, r.Description, r.Lat, r.Lon}); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
