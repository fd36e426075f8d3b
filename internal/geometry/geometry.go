// Package geometry holds the planar algorithms used to admit delivery zones
// and orders. Coordinates are GeoJSON positions ([lng, lat]) in degrees.
package geometry

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Epsilon is the tolerance used by every comparison; boundary contact within
// it counts as contained.
const Epsilon = 1e-9

type Kind string

const (
	KindPolygon      Kind = "Polygon"
	KindMultiPolygon Kind = "MultiPolygon"
)

var ErrInvalidGeometry = errors.New("invalid_geometry")

// ValidationError describes why a geometry was rejected.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid geometry: " + e.Reason
}

func (e *ValidationError) Unwrap() error { return ErrInvalidGeometry }

func invalidf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

type Point struct {
	Lng float64
	Lat float64
}

// Ring is a closed sequence of positions; the first and last positions are equal.
type Ring []Point

// Polygon is an outer ring followed by zero or more hole rings.
type Polygon []Ring

func (p Polygon) Outer() Ring {
	if len(p) == 0 {
		return nil
	}
	return p[0]
}

func (p Polygon) Holes() []Ring {
	if len(p) < 2 {
		return nil
	}
	return p[1:]
}

// Geometry is either a Polygon (exactly one entry in Polygons) or a MultiPolygon.
type Geometry struct {
	Type     Kind
	Polygons []Polygon
}

func NewPolygon(rings ...Ring) Geometry {
	return Geometry{Type: KindPolygon, Polygons: []Polygon{rings}}
}

func NewMultiPolygon(polygons ...Polygon) Geometry {
	return Geometry{Type: KindMultiPolygon, Polygons: polygons}
}

func (g Geometry) IsZero() bool {
	return g.Type == "" && len(g.Polygons) == 0
}

type rawGeometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates,omitempty"`
	Geometry    json.RawMessage `json:"geometry,omitempty"`
}

// Parse decodes a GeoJSON Polygon, MultiPolygon or a Feature wrapping one of
// them, and validates the result.
func Parse(data []byte) (Geometry, error) {
	g, err := decode(data, 0)
	if err != nil {
		return Geometry{}, err
	}
	if err := g.Validate(); err != nil {
		return Geometry{}, err
	}
	return g, nil
}

func decode(data []byte, depth int) (Geometry, error) {
	var raw rawGeometry
	if err := json.Unmarshal(data, &raw); err != nil {
		return Geometry{}, invalidf("malformed GeoJSON")
	}

	switch strings.TrimSpace(raw.Type) {
	case "Feature":
		if depth > 0 || len(raw.Geometry) == 0 || string(raw.Geometry) == "null" {
			return Geometry{}, invalidf("feature must carry a polygon geometry")
		}
		return decode(raw.Geometry, depth+1)
	case string(KindPolygon):
		var coords [][][]float64
		if err := json.Unmarshal(raw.Coordinates, &coords); err != nil {
			return Geometry{}, invalidf("polygon coordinates must be an array of rings")
		}
		poly, err := toPolygon(coords)
		if err != nil {
			return Geometry{}, err
		}
		return NewPolygon(poly...), nil
	case string(KindMultiPolygon):
		var coords [][][][]float64
		if err := json.Unmarshal(raw.Coordinates, &coords); err != nil {
			return Geometry{}, invalidf("multipolygon coordinates must be an array of polygons")
		}
		if len(coords) == 0 {
			return Geometry{}, invalidf("multipolygon has no polygons")
		}
		polys := make([]Polygon, 0, len(coords))
		for _, c := range coords {
			poly, err := toPolygon(c)
			if err != nil {
				return Geometry{}, err
			}
			polys = append(polys, poly)
		}
		return NewMultiPolygon(polys...), nil
	default:
		return Geometry{}, invalidf("unsupported geometry type %q", raw.Type)
	}
}

func toPolygon(coords [][][]float64) (Polygon, error) {
	if len(coords) == 0 {
		return nil, invalidf("polygon has no rings")
	}
	poly := make(Polygon, 0, len(coords))
	for _, rc := range coords {
		ring := make(Ring, 0, len(rc))
		for _, pos := range rc {
			if len(pos) < 2 {
				return nil, invalidf("position must have longitude and latitude")
			}
			ring = append(ring, Point{Lng: pos[0], Lat: pos[1]})
		}
		poly = append(poly, ring)
	}
	return poly, nil
}

func (g Geometry) coordinates() any {
	toRings := func(p Polygon) [][][2]float64 {
		out := make([][][2]float64, 0, len(p))
		for _, r := range p {
			ring := make([][2]float64, 0, len(r))
			for _, pt := range r {
				ring = append(ring, [2]float64{pt.Lng, pt.Lat})
			}
			out = append(out, ring)
		}
		return out
	}
	if g.Type == KindPolygon && len(g.Polygons) == 1 {
		return toRings(g.Polygons[0])
	}
	out := make([][][][2]float64, 0, len(g.Polygons))
	for _, p := range g.Polygons {
		out = append(out, toRings(p))
	}
	return out
}

func (g Geometry) MarshalJSON() ([]byte, error) {
	if g.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(struct {
		Type        Kind `json:"type"`
		Coordinates any  `json:"coordinates"`
	}{Type: g.Type, Coordinates: g.coordinates()})
}

func (g *Geometry) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*g = Geometry{}
		return nil
	}
	parsed, err := decode(data, 0)
	if err != nil {
		return err
	}
	*g = parsed
	return nil
}
