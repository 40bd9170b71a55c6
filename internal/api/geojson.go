package api

import (
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"

	"miltracker/internal/storage"
)

// trackFeature renders a track as a LineString feature. orb geometries are
// planar, so altitudes travel in the "altitudes" property, one per vertex.
func trackFeature(t *storage.Track) *geojson.Feature {
	line := make(orb.LineString, 0, len(t.Points))
	alts := make([]float64, 0, len(t.Points))
	for _, p := range t.Points {
		line = append(line, orb.Point{p.Lon, p.Lat})
		alts = append(alts, p.Alt)
	}

	f := geojson.NewFeature(line)
	f.ID = t.ID
	if len(line) > 0 {
		f.BBox = geojson.NewBBox(line.Bound())
	}

	f.Properties["aircraft_id"] = t.AircraftID
	f.Properties["hex_icao"] = t.Hex
	f.Properties["flight"] = t.Flight
	f.Properties["point_count"] = t.PointCount
	f.Properties["altitudes"] = alts
	f.Properties["start_time"] = t.StartTime.UTC().Format(time.RFC3339)
	if t.EndTime != nil {
		f.Properties["end_time"] = t.EndTime.UTC().Format(time.RFC3339)
	} else {
		f.Properties["end_time"] = nil
	}
	f.Properties["closed"] = !t.Open()
	f.Properties["length_km"] = geo.Length(line) / 1000

	return f
}

func trackCollection(tracks []storage.Track) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for i := range tracks {
		fc.Append(trackFeature(&tracks[i]))
	}
	return fc
}
