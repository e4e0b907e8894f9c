package stops

import "strings"

// Field is a canonical stop attribute that source columns are mapped onto.
type Field string

const (
	FieldCode      Field = "code"
	FieldName      Field = "name"
	FieldIndicator Field = "indicator"
	FieldLocality  Field = "locality"
	FieldLat       Field = "lat"
	FieldLon       Field = "lon"
)

// Aliases lists, per canonical field, the source column names that may carry
// it, highest priority first.
type Aliases map[Field][]string

// DefaultAliases covers the column spellings found across NaPTAN exports and
// GTFS stops.txt.
func DefaultAliases() Aliases {
	return Aliases{
		FieldCode:      {"AtcoCode", "ATCOCode", "ATCO", "StopPointRef", "StopPoint", "StopPointRef (ATCO)", "stop_id"},
		FieldName:      {"CommonName", "Name", "DescriptorCommonName", "StopName", "stop_name"},
		FieldIndicator: {"Indicator", "StopIndicator"},
		FieldLocality:  {"LocalityName", "Locality", "Town"},
		FieldLat:       {"Latitude", "Lat", "StopLatitude", "stop_lat"},
		FieldLon:       {"Longitude", "Lon", "StopLongitude", "stop_lon"},
	}
}

// Resolve returns the first non-empty value among the field's aliases.
func (a Aliases) Resolve(row Row, field Field) string {
	for _, column := range a[field] {
		if v := strings.TrimSpace(row[column]); v != "" {
			return v
		}
	}
	return ""
}
