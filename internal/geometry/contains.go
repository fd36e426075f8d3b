package geometry

import "math"

// sideOffset is how far from an edge the union check probes each side.
// Features narrower than this are treated as within tolerance.
const sideOffset = 1e-7

// PointInPolygon reports whether pt lies inside polygon or on its boundary.
// Hole interiors are excluded; hole boundaries count as contained.
func PointInPolygon(pt Point, polygon Polygon) bool {
	in, _ := locate(pt, polygon)
	return in
}

// locate classifies pt against a polygon; boundary is true only when pt is
// within Epsilon of one of its rings.
func locate(pt Point, polygon Polygon) (contained, boundary bool) {
	inOuter, onOuter := locateInRing(pt, polygon.Outer())
	if onOuter {
		return true, true
	}
	if !inOuter {
		return false, false
	}
	for _, h := range polygon.Holes() {
		inHole, onHole := locateInRing(pt, h)
		if onHole {
			return true, true
		}
		if inHole {
			return false, false
		}
	}
	return true, false
}

// Contains reports whether pt falls inside any polygon of g.
func (g Geometry) Contains(pt Point) bool {
	for _, p := range g.Polygons {
		if PointInPolygon(pt, p) {
			return true
		}
	}
	return false
}

// PolygonContainsPolygon reports whether inner lies entirely within outer:
// every vertex of inner is inside or on outer, no edge of inner crosses an
// edge of outer, and no hole of outer is enclosed by inner.
func PolygonContainsPolygon(outer, inner Polygon) bool {
	ring := inner.Outer()
	if len(ring) == 0 || len(outer.Outer()) == 0 {
		return false
	}
	for _, v := range ring {
		if !PointInPolygon(v, outer) {
			return false
		}
	}

	outerSegs := polygonSegments(outer)
	for _, s := range ringSegments(ring) {
		for _, o := range outerSegs {
			if properlyCross(s, o) {
				return false
			}
		}
		// pieces between contacts with outer are wholly inside or outside
		params := splitParams(s, outerSegs)
		for i := 0; i+1 < len(params); i++ {
			if !PointInPolygon(s.at((params[i]+params[i+1])/2), outer) {
				return false
			}
		}
	}

	for _, h := range outer.Holes() {
		if in, on := locateInRing(interiorPoint(h), ring); in && !on {
			return false
		}
	}
	return true
}

// GeometryContains reports whether every polygon of inner lies within a
// single polygon of outer.
func GeometryContains(outer Geometry, inner Geometry) bool {
	if len(inner.Polygons) == 0 {
		return false
	}
	for _, ip := range inner.Polygons {
		ok := false
		for _, op := range outer.Polygons {
			if PolygonContainsPolygon(op, ip) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// UnionContains reports whether candidate lies entirely within the union of
// bounds. Each candidate polygon must either fit inside one bounding polygon
// or be decomposable across several without any candidate edge crossing a
// bounding edge. Anything ambiguous is rejected.
func UnionContains(bounds []Polygon, candidate Geometry) bool {
	if len(bounds) == 0 || len(candidate.Polygons) == 0 {
		return false
	}
	for _, cp := range candidate.Polygons {
		if !polygonInUnion(bounds, cp) {
			return false
		}
	}
	return true
}

// Flatten collects the polygons of several geometries.
func Flatten(geoms ...Geometry) []Polygon {
	var out []Polygon
	for _, g := range geoms {
		out = append(out, g.Polygons...)
	}
	return out
}

func polygonInUnion(bounds []Polygon, cand Polygon) bool {
	for _, b := range bounds {
		if PolygonContainsPolygon(b, cand) {
			return true
		}
	}
	return decomposablyContained(bounds, cand)
}

func inUnion(pt Point, bounds []Polygon) bool {
	for _, b := range bounds {
		if PointInPolygon(pt, b) {
			return true
		}
	}
	return false
}

// decomposablyContained checks a candidate spread over several bounding
// polygons. Every piece of the candidate boundary must be covered, and every
// region adjacent to a boundary piece that lies inside the candidate must be
// covered as well; that second probe finds gaps enclosed by the candidate.
func decomposablyContained(bounds []Polygon, cand Polygon) bool {
	ring := cand.Outer()
	candSegs := ringSegments(ring)
	var boundSegs []segment
	for _, b := range bounds {
		boundSegs = append(boundSegs, polygonSegments(b)...)
	}

	for _, s := range candSegs {
		for _, o := range boundSegs {
			if properlyCross(s, o) {
				return false
			}
		}
	}

	all := make([]segment, 0, len(candSegs)+len(boundSegs))
	all = append(all, candSegs...)
	all = append(all, boundSegs...)

	for idx, s := range all {
		isCandidate := idx < len(candSegs)
		params := splitParams(s, all)
		length := s.length()
		if length == 0 {
			continue
		}
		nx, ny := -(s.b.Lat-s.a.Lat)/length, (s.b.Lng-s.a.Lng)/length

		for i := 0; i+1 < len(params); i++ {
			mid := s.at((params[i] + params[i+1]) / 2)
			if isCandidate && !inUnion(mid, bounds) {
				return false
			}
			if !isCandidate {
				if in, on := locateInRing(mid, ring); !in || on {
					continue
				}
			}

			d := math.Min(sideOffset, (params[i+1]-params[i])*length/4)
			for _, sign := range []float64{1, -1} {
				probe := Point{Lng: mid.Lng + sign*nx*d, Lat: mid.Lat + sign*ny*d}
				if nearAny(probe, all, d/2) {
					return false
				}
				in, _ := locateInRing(probe, ring)
				if in && !inUnion(probe, bounds) {
					return false
				}
			}
		}
	}
	return true
}

func nearAny(pt Point, segs []segment, dist float64) bool {
	for _, s := range segs {
		if distToSegment(pt, s) < dist {
			return true
		}
	}
	return false
}
