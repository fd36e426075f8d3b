package geometry

import (
	"math"
)

const minRingPositions = 4

// Validate rejects malformed or degenerate geometries. Nothing is repaired.
func (g Geometry) Validate() error {
	switch g.Type {
	case KindPolygon:
		if len(g.Polygons) != 1 {
			return invalidf("polygon must have exactly one set of rings")
		}
	case KindMultiPolygon:
		if len(g.Polygons) == 0 {
			return invalidf("multipolygon has no polygons")
		}
	default:
		return invalidf("unsupported geometry type %q", g.Type)
	}

	for i, p := range g.Polygons {
		if err := validatePolygon(p); err != nil {
			if g.Type == KindMultiPolygon {
				return invalidf("polygon %d: %s", i, err.(*ValidationError).Reason)
			}
			return err
		}
	}
	return nil
}

func validatePolygon(p Polygon) error {
	if len(p) == 0 {
		return invalidf("polygon has no rings")
	}
	for i, r := range p {
		if err := validateRing(r); err != nil {
			if i == 0 {
				return invalidf("outer ring: %s", err.(*ValidationError).Reason)
			}
			return invalidf("hole %d: %s", i, err.(*ValidationError).Reason)
		}
	}

	outer := p.Outer()
	holes := p.Holes()
	for i, h := range holes {
		for _, s := range ringSegments(h) {
			for _, o := range ringSegments(outer) {
				if properlyCross(s, o) {
					return invalidf("hole %d crosses the outer ring", i+1)
				}
			}
			for j, other := range holes {
				if j == i {
					continue
				}
				for _, o := range ringSegments(other) {
					if properlyCross(s, o) {
						return invalidf("hole %d crosses hole %d", i+1, j+1)
					}
				}
			}
		}
		for _, v := range h {
			if in, on := locateInRing(v, outer); !in && !on {
				return invalidf("hole %d lies outside the outer ring", i+1)
			}
		}
		if in, _ := locateInRing(interiorPoint(h), outer); !in {
			return invalidf("hole %d lies outside the outer ring", i+1)
		}
	}
	return nil
}

func validateRing(r Ring) error {
	if len(r) < minRingPositions {
		return invalidf("ring needs at least %d positions, got %d", minRingPositions, len(r))
	}
	for _, p := range r {
		if math.IsNaN(p.Lng) || math.IsNaN(p.Lat) || math.IsInf(p.Lng, 0) || math.IsInf(p.Lat, 0) {
			return invalidf("position is not a finite number")
		}
		if p.Lng < -180 || p.Lng > 180 {
			return invalidf("longitude %v out of range", p.Lng)
		}
		if p.Lat < -90 || p.Lat > 90 {
			return invalidf("latitude %v out of range", p.Lat)
		}
	}
	if !samePoint(r[0], r[len(r)-1]) {
		return invalidf("ring is not closed")
	}

	segs := ringSegments(r)
	for _, s := range segs {
		if s.length() <= Epsilon {
			return invalidf("ring has repeated consecutive positions")
		}
	}
	if math.Abs(signedArea(r)) <= Epsilon*Epsilon {
		return invalidf("ring has no area")
	}

	n := len(segs)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			adjacent := j == i+1 || (i == 0 && j == n-1)
			if adjacent {
				// neighbours share one vertex; any further contact is a spike
				far := segs[j].b
				near := segs[i].a
				if i == 0 && j == n-1 {
					far, near = segs[j].a, segs[i].b
				}
				if onSegment(far, segs[i]) || onSegment(near, segs[j]) {
					return invalidf("ring folds back on itself")
				}
				continue
			}
			if touches(segs[i], segs[j]) {
				return invalidf("ring self-intersects")
			}
		}
	}
	return nil
}
