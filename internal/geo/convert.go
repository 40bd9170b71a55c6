// Package geo converts position reports into geospatial documents and indexes
// them into the search store.
package geo

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"miltracker/internal/adsb"
	"miltracker/internal/storage"
)

type pointGeometry struct {
	Type        string     `json:"type"`
	Coordinates [3]float64 `json:"coordinates"`
}

type featureProperties struct {
	Hex       string   `json:"hex"`
	Flight    *string  `json:"flight"`
	Type      *string  `json:"type"`
	AltBaro   *int     `json:"alt_baro"`
	GS        *float64 `json:"gs"`
	Track     *float64 `json:"track"`
	Timestamp string   `json:"timestamp"`
}

type pointFeature struct {
	Type       string            `json:"type"`
	Geometry   pointGeometry     `json:"geometry"`
	Properties featureProperties `json:"properties"`
}

// Converter builds GeoJSON and WKT representations of a sighting.
type Converter struct {
	now func() time.Time
}

// NewConverter creates a converter stamping documents with now.
func NewConverter(now func() time.Time) *Converter {
	if now == nil {
		now = time.Now
	}
	return &Converter{now: now}
}

// GeoJSON renders rec as a Point feature with [lon, lat, alt] coordinates,
// where alt is the barometric altitude in feet or 0.
func (c *Converter) GeoJSON(rec *adsb.Record, at time.Time) (string, error) {
	if !rec.HasPosition() {
		return "", fmt.Errorf("record %s has no position", rec.Hex)
	}
	f := pointFeature{
		Type: "Feature",
		Geometry: pointGeometry{
			Type:        "Point",
			Coordinates: [3]float64{*rec.Lon, *rec.Lat, float64(rec.BaroAltitudeOrZero())},
		},
		Properties: featureProperties{
			Hex:       rec.Hex,
			Flight:    rec.Flight,
			Type:      rec.TypeCode,
			AltBaro:   rec.AltBaro,
			GS:        rec.GroundSpeed,
			Track:     rec.Track,
			Timestamp: at.UTC().Format(time.RFC3339Nano),
		},
	}
	b, err := json.Marshal(f)
	if err != nil {
		return "", fmt.Errorf("marshal feature: %w", err)
	}
	return string(b), nil
}

// WKT renders rec as "POINT Z(lon lat alt)".
func (c *Converter) WKT(rec *adsb.Record) (string, error) {
	if !rec.HasPosition() {
		return "", fmt.Errorf("record %s has no position", rec.Hex)
	}
	return "POINT Z(" + formatCoord(*rec.Lon) + " " + formatCoord(*rec.Lat) + " " +
		formatCoord(float64(rec.BaroAltitudeOrZero())) + ")", nil
}

// Document builds the indexed document for one sighting.
func (c *Converter) Document(rec *adsb.Record) (storage.GeoDocument, error) {
	at := c.now().UTC()

	geojson, err := c.GeoJSON(rec, at)
	if err != nil {
		return storage.GeoDocument{}, err
	}
	wkt, err := c.WKT(rec)
	if err != nil {
		return storage.GeoDocument{}, err
	}

	doc := storage.GeoDocument{
		ID:          DocumentID(rec.Hex, at),
		Hex:         rec.Hex,
		Lon:         *rec.Lon,
		Lat:         *rec.Lat,
		Alt:         float64(rec.BaroAltitudeOrZero()),
		GroundSpeed: rec.GroundSpeed,
		Track:       rec.Track,
		GeoJSON:     geojson,
		WKT:         wkt,
		ObservedAt:  at,
	}
	if rec.Flight != nil {
		doc.Flight = *rec.Flight
	}
	if rec.TypeCode != nil {
		doc.AircraftType = *rec.TypeCode
	}
	if rec.AltBaro != nil {
		v := int32(*rec.AltBaro)
		doc.AltBaro = &v
	}
	return doc, nil
}

// DocumentID is "<hex>_<unix millis>".
func DocumentID(hex string, at time.Time) string {
	return hex + "_" + strconv.FormatInt(at.UnixMilli(), 10)
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
