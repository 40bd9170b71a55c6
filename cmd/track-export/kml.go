package main

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"miltracker/internal/storage"
)

const feetToMetres = 0.3048

// KML structures follow the KML 2.2 reference:
// https://developers.google.com/kml/documentation/kmlreference

// KML is the root element of a KML document.
type KML struct {
	XMLName   xml.Name `xml:"kml"`
	Namespace string   `xml:"xmlns,attr"`
	Document  Document `xml:"Document"`
}

// Document contains the document metadata and features.
type Document struct {
	Name        string      `xml:"name"`
	Description string      `xml:"description,omitempty"`
	Styles      []Style     `xml:"Style,omitempty"`
	Placemarks  []Placemark `xml:"Placemark"`
}

// Style defines how a track line is drawn.
type Style struct {
	ID        string    `xml:"id,attr"`
	LineStyle LineStyle `xml:"LineStyle"`
}

// LineStyle sets colour (aabbggrr) and width.
type LineStyle struct {
	Color string  `xml:"color"`
	Width float64 `xml:"width"`
}

// Placemark is one track.
type Placemark struct {
	Name         string        `xml:"name"`
	Description  string        `xml:"description,omitempty"`
	StyleURL     string        `xml:"styleUrl,omitempty"`
	TimeSpan     *TimeSpan     `xml:"TimeSpan,omitempty"`
	LineString   LineString    `xml:"LineString"`
	ExtendedData *ExtendedData `xml:"ExtendedData,omitempty"`
}

// TimeSpan bounds the track in time.
type TimeSpan struct {
	Begin string `xml:"begin"`
	End   string `xml:"end,omitempty"`
}

// LineString is the track geometry.
type LineString struct {
	AltitudeMode string `xml:"altitudeMode"`
	Coordinates  string `xml:"coordinates"` // lon,lat,alt tuples separated by spaces
}

// ExtendedData holds custom data associated with a placemark.
type ExtendedData struct {
	Data []Data `xml:"Data"`
}

// Data represents a single piece of extended data.
type Data struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value"`
}

// generateKML creates a KML document with one placemark per track.
// Altitudes are stored in feet and written in metres.
func generateKML(title string, tracks []storage.Track, generated time.Time) KML {
	placemarks := make([]Placemark, len(tracks))
	for i, t := range tracks {
		coords := make([]string, len(t.Points))
		for j, p := range t.Points {
			coords[j] = fmt.Sprintf("%.6f,%.6f,%.0f", p.Lon, p.Lat, p.Alt*feetToMetres)
		}

		span := &TimeSpan{Begin: t.StartTime.UTC().Format(time.RFC3339)}
		if t.EndTime != nil {
			span.End = t.EndTime.UTC().Format(time.RFC3339)
		}

		style := "#openTrack"
		state := "open"
		if !t.Open() {
			style = "#closedTrack"
			state = "closed"
		}

		placemarks[i] = Placemark{
			Name:        fmt.Sprintf("%s %s", t.Hex, t.Flight),
			Description: fmt.Sprintf("Track %d, %d points, %s", t.ID, t.PointCount, state),
			StyleURL:    style,
			TimeSpan:    span,
			LineString: LineString{
				AltitudeMode: "absolute",
				Coordinates:  strings.Join(coords, " "),
			},
			ExtendedData: &ExtendedData{
				Data: []Data{
					{Name: "track_id", Value: fmt.Sprintf("%d", t.ID)},
					{Name: "hex_icao", Value: t.Hex},
					{Name: "flight", Value: t.Flight},
					{Name: "point_count", Value: fmt.Sprintf("%d", t.PointCount)},
				},
			},
		}
	}

	return KML{
		Namespace: "http://www.opengis.net/kml/2.2",
		Document: Document{
			Name:        title,
			Description: fmt.Sprintf("Stitched military flight tracks. Generated %s.", generated.UTC().Format("2006-01-02 15:04:05")),
			Styles: []Style{
				{ID: "openTrack", LineStyle: LineStyle{Color: "ff0000ff", Width: 2}},
				{ID: "closedTrack", LineStyle: LineStyle{Color: "ff888888", Width: 1.5}},
			},
			Placemarks: placemarks,
		},
	}
}

// marshalKML renders the document with the XML header.
func marshalKML(k KML) ([]byte, error) {
	data, err := xml.MarshalIndent(k, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), data...), nil
}
