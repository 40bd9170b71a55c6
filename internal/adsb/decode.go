package adsb

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMissingHex is returned when a payload has no usable hex identifier.
var ErrMissingHex = errors.New("missing hex identifier")

// DecodeError reports a payload that cannot be turned into a Record.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode position report: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Decode parses one position report payload. Unknown fields are ignored and
// optional fields that fail to parse are left unset; only a payload that is
// not a JSON object, or one without a hex identifier, is rejected.
func Decode(payload []byte) (*Record, error) {
	var w wireAircraft
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, &DecodeError{Err: err}
	}

	rec := w.toRecord()
	if rec.Hex == "" {
		return nil, &DecodeError{Err: ErrMissingHex}
	}
	return rec, nil
}

// PeekHex extracts the normalised hex identifier from a raw feed item
// without decoding the rest of it. It returns "" when there is none.
func PeekHex(raw []byte) string {
	var v struct {
		Hex string `json:"hex"`
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	return NormaliseHex(v.Hex)
}
