// Package adsb provides ADS-B aircraft report types and decoding.
package adsb

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// GroundToken is the alt_baro value the feed reports for aircraft on the ground.
const GroundToken = "ground"

// BaroAltitude handles the alt_baro field, which is either a number of feet
// or the string "ground".
type BaroAltitude struct {
	Feet     *int
	OnGround bool
}

func (a *BaroAltitude) UnmarshalJSON(data []byte) error {
	*a = BaroAltitude{}
	if string(data) == "null" {
		return nil
	}

	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		a.Feet = toInt(f)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil && strings.EqualFold(strings.TrimSpace(s), GroundToken) {
		a.OnGround = true
	}

	// Anything else is dropped for this field only.
	return nil
}

// FlexFloat handles numeric JSON fields that may arrive as a number or a
// numeric string. Unparseable or non-finite values leave the field unset.
type FlexFloat struct {
	Value *float64
}

func (f *FlexFloat) UnmarshalJSON(data []byte) error {
	f.Value = nil
	if string(data) == "null" {
		return nil
	}

	var v float64
	if err := json.Unmarshal(data, &v); err == nil {
		f.Value = &v
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err == nil && !math.IsNaN(v) && !math.IsInf(v, 0) {
			f.Value = &v
		}
	}
	return nil
}

// Int returns the value truncated to an int, or nil when unset or outside
// the 32-bit range.
func (f FlexFloat) Int() *int {
	if f.Value == nil {
		return nil
	}
	return toInt(*f.Value)
}

// toInt truncates f, returning nil for NaN and values that do not fit the
// integer columns they end up in.
func toInt(f float64) *int {
	if math.IsNaN(f) || f < math.MinInt32 || f > math.MaxInt32 {
		return nil
	}
	i := int(f)
	return &i
}

// FlexString handles text fields that some feeders emit as bare numbers,
// such as squawk or a numeric flight. Other JSON types leave it unset.
type FlexString struct {
	Value *string
}

func (s *FlexString) UnmarshalJSON(data []byte) error {
	s.Value = nil
	if string(data) == "null" {
		return nil
	}

	var v string
	if err := json.Unmarshal(data, &v); err == nil {
		s.Value = &v
		return nil
	}

	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		v := strconv.FormatFloat(f, 'f', -1, 64)
		s.Value = &v
	}
	return nil
}

// wireAircraft mirrors one element of the v2 feed "ac" array.
type wireAircraft struct {
	Hex          string       `json:"hex"`
	Flight       FlexString   `json:"flight"`
	Registration FlexString   `json:"r"`
	TypeCode     FlexString   `json:"t"`
	Description  FlexString   `json:"desc"`
	Operator     FlexString   `json:"ownOp"`
	Lat          FlexFloat    `json:"lat"`
	Lon          FlexFloat    `json:"lon"`
	AltBaro      BaroAltitude `json:"alt_baro"`
	AltGeom      FlexFloat    `json:"alt_geom"`
	GroundSpeed  FlexFloat    `json:"gs"`
	Track        FlexFloat    `json:"track"`
	BaroRate     FlexFloat    `json:"baro_rate"`
	Squawk       FlexString   `json:"squawk"`
	Category     FlexString   `json:"category"`
}

// Record is one decoded position report. Nil pointers mean the source did
// not carry the field.
type Record struct {
	Hex          string   `json:"hex"`
	Flight       *string  `json:"flight,omitempty"`
	Registration *string  `json:"registration,omitempty"`
	TypeCode     *string  `json:"type_code,omitempty"`
	Description  *string  `json:"description,omitempty"`
	Operator     *string  `json:"operator,omitempty"`
	Lat          *float64 `json:"lat,omitempty"`
	Lon          *float64 `json:"lon,omitempty"`
	AltBaro      *int     `json:"alt_baro,omitempty"`
	AltGeom      *int     `json:"alt_geom,omitempty"`
	GroundSpeed  *float64 `json:"gs,omitempty"`
	Track        *float64 `json:"track,omitempty"`
	VerticalRate *int     `json:"baro_rate,omitempty"`
	Squawk       *string  `json:"squawk,omitempty"`
	Category     *string  `json:"category,omitempty"`
	OnGround     bool     `json:"on_ground"`
}

// HasPosition returns true when both latitude and longitude are present.
func (r *Record) HasPosition() bool {
	return r.Lat != nil && r.Lon != nil
}

// GeomAltitude returns the geometric altitude in feet, or 0 when absent.
func (r *Record) GeomAltitude() int {
	if r.AltGeom == nil {
		return 0
	}
	return *r.AltGeom
}

// BaroAltitudeOrZero returns the barometric altitude in feet, or 0 when the
// aircraft is on the ground or the field is absent.
func (r *Record) BaroAltitudeOrZero() int {
	if r.AltBaro == nil {
		return 0
	}
	return *r.AltBaro
}

func (w *wireAircraft) toRecord() *Record {
	return &Record{
		Hex:          NormaliseHex(w.Hex),
		Flight:       trimmed(w.Flight.Value),
		Registration: trimmed(w.Registration.Value),
		TypeCode:     trimmed(w.TypeCode.Value),
		Description:  trimmed(w.Description.Value),
		Operator:     trimmed(w.Operator.Value),
		Lat:          w.Lat.Value,
		Lon:          w.Lon.Value,
		AltBaro:      w.AltBaro.Feet,
		AltGeom:      w.AltGeom.Int(),
		GroundSpeed:  w.GroundSpeed.Value,
		Track:        w.Track.Value,
		VerticalRate: w.BaroRate.Int(),
		Squawk:       trimmed(w.Squawk.Value),
		Category:     trimmed(w.Category.Value),
		OnGround:     w.AltBaro.OnGround,
	}
}

// NormaliseHex trims and upper-cases an ICAO hex identifier.
func NormaliseHex(hex string) string {
	return strings.ToUpper(strings.TrimSpace(hex))
}

// trimmed returns nil for nil, empty or whitespace-only strings.
func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
