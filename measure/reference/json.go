package reference

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// curveFile is the on-disk JSON schema:
//
//	{"bands": [{"freq": 20, "p10": -64, "median": -60, "p90": -56}, ...]}
type curveFile struct {
	Bands []bandJSON `json:"bands"`
}

type bandJSON struct {
	Freq   float64 `json:"freq"`
	P10    float64 `json:"p10"`
	Median float64 `json:"median"`
	P90    float64 `json:"p90"`
}

// LoadJSON reads a reference curve from a JSON file. A missing or
// malformed file yields an error and an empty curve; callers treat an
// empty curve as "no reference".
func LoadJSON(path string) (Curve, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reference: open curve file: %w", err)
	}
	defer f.Close()

	return DecodeJSON(f)
}

// DecodeJSON reads a reference curve from JSON data.
func DecodeJSON(r io.Reader) (Curve, error) {
	var file curveFile
	if err := json.NewDecoder(r).Decode(&file); err != nil {
		return nil, fmt.Errorf("reference: decode curve: %w", err)
	}

	out := make(Curve, 0, len(file.Bands))
	for _, b := range file.Bands {
		if b.Freq <= 0 {
			continue
		}

		out = append(out, Band{Freq: b.Freq, P10: b.P10, Median: b.Median, P90: b.P90})
	}

	out.clampOrdering()
	return out, nil
}

// SaveJSON writes a reference curve to a JSON file.
func SaveJSON(path string, c Curve) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("reference: create curve file: %w", err)
	}

	if err := EncodeJSON(f, c); err != nil {
		f.Close()
		return err
	}

	return f.Close()
}

// EncodeJSON writes a reference curve as JSON.
func EncodeJSON(w io.Writer, c Curve) error {
	file := curveFile{Bands: make([]bandJSON, len(c))}
	for i, b := range c {
		file.Bands[i] = bandJSON{Freq: b.Freq, P10: b.P10, Median: b.Median, P90: b.P90}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(file); err != nil {
		return fmt.Errorf("reference: encode curve: %w", err)
	}

	return nil
}
