package geometry

import (
	"math"
	"sort"
)

type segment struct {
	a, b Point
}

func (s segment) at(t float64) Point {
	return Point{Lng: s.a.Lng + (s.b.Lng-s.a.Lng)*t, Lat: s.a.Lat + (s.b.Lat-s.a.Lat)*t}
}

func (s segment) length() float64 {
	return math.Hypot(s.b.Lng-s.a.Lng, s.b.Lat-s.a.Lat)
}

func ringSegments(r Ring) []segment {
	if len(r) < 2 {
		return nil
	}
	out := make([]segment, 0, len(r)-1)
	for i := 0; i+1 < len(r); i++ {
		out = append(out, segment{a: r[i], b: r[i+1]})
	}
	return out
}

func polygonSegments(p Polygon) []segment {
	var out []segment
	for _, r := range p {
		out = append(out, ringSegments(r)...)
	}
	return out
}

func samePoint(p, q Point) bool {
	return math.Abs(p.Lng-q.Lng) <= Epsilon && math.Abs(p.Lat-q.Lat) <= Epsilon
}

func cross(o, a, b Point) float64 {
	return (a.Lng-o.Lng)*(b.Lat-o.Lat) - (a.Lat-o.Lat)*(b.Lng-o.Lng)
}

// distToSegment is the euclidean distance from p to the closed segment s.
func distToSegment(p Point, s segment) float64 {
	dx, dy := s.b.Lng-s.a.Lng, s.b.Lat-s.a.Lat
	l2 := dx*dx + dy*dy
	if l2 == 0 {
		return math.Hypot(p.Lng-s.a.Lng, p.Lat-s.a.Lat)
	}
	t := ((p.Lng-s.a.Lng)*dx + (p.Lat-s.a.Lat)*dy) / l2
	t = math.Max(0, math.Min(1, t))
	return math.Hypot(p.Lng-(s.a.Lng+t*dx), p.Lat-(s.a.Lat+t*dy))
}

func onSegment(p Point, s segment) bool {
	return distToSegment(p, s) <= Epsilon
}

// properlyCross reports whether s and t intersect at a single point interior
// to both. Touching at an endpoint or overlapping collinearly is not a crossing.
func properlyCross(s, t segment) bool {
	if onSegment(s.a, t) || onSegment(s.b, t) || onSegment(t.a, s) || onSegment(t.b, s) {
		return false
	}
	d1 := cross(s.a, s.b, t.a)
	d2 := cross(s.a, s.b, t.b)
	d3 := cross(t.a, t.b, s.a)
	d4 := cross(t.a, t.b, s.b)
	return ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0))
}

// touches reports any contact between s and t, including endpoints.
func touches(s, t segment) bool {
	return properlyCross(s, t) ||
		onSegment(s.a, t) || onSegment(s.b, t) || onSegment(t.a, s) || onSegment(t.b, s)
}

// splitParams returns the sorted parameters along s, including 0 and 1, at
// which s meets any of others.
func splitParams(s segment, others []segment) []float64 {
	params := []float64{0, 1}
	length := s.length()
	if length == 0 {
		return params
	}
	rx, ry := s.b.Lng-s.a.Lng, s.b.Lat-s.a.Lat
	project := func(p Point) float64 {
		return ((p.Lng-s.a.Lng)*rx + (p.Lat-s.a.Lat)*ry) / (length * length)
	}
	add := func(t float64) {
		if t > 0 && t < 1 {
			params = append(params, t)
		}
	}

	for _, o := range others {
		if !touches(s, o) {
			continue
		}
		// a collinear overlap contributes only the endpoints of o
		if onSegment(o.a, s) {
			add(project(o.a))
		}
		if onSegment(o.b, s) {
			add(project(o.b))
		}
		ux, uy := o.b.Lng-o.a.Lng, o.b.Lat-o.a.Lat
		denom := rx*uy - ry*ux
		if math.Abs(denom) > Epsilon*Epsilon {
			qx, qy := o.a.Lng-s.a.Lng, o.a.Lat-s.a.Lat
			t := (qx*uy - qy*ux) / denom
			u := (qx*ry - qy*rx) / denom
			if u >= -Epsilon && u <= 1+Epsilon {
				add(t)
			}
		}
	}

	sort.Float64s(params)
	out := params[:1]
	for _, t := range params[1:] {
		if (t-out[len(out)-1])*length > Epsilon {
			out = append(out, t)
		}
	}
	if out[len(out)-1] != 1 {
		out[len(out)-1] = 1
	}
	return out
}

func signedArea(r Ring) float64 {
	var sum float64
	for i := 0; i+1 < len(r); i++ {
		sum += r[i].Lng*r[i+1].Lat - r[i+1].Lng*r[i].Lat
	}
	return sum / 2
}

// locateInRing classifies p against a single ring.
func locateInRing(p Point, r Ring) (inside, boundary bool) {
	for _, s := range ringSegments(r) {
		if onSegment(p, s) {
			return false, true
		}
	}
	n := len(r)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		pi, pj := r[i], r[j]
		if (pi.Lat > p.Lat) != (pj.Lat > p.Lat) {
			x := (pj.Lng-pi.Lng)*(p.Lat-pi.Lat)/(pj.Lat-pi.Lat) + pi.Lng
			if p.Lng < x {
				inside = !inside
			}
		}
	}
	return inside, false
}

// interiorPoint returns a point strictly inside a valid ring.
func interiorPoint(r Ring) Point {
	lats := make([]float64, 0, len(r))
	for _, p := range r {
		lats = append(lats, p.Lat)
	}
	sort.Float64s(lats)
	y := lats[0]
	for _, v := range lats[1:] {
		if v-lats[0] > Epsilon {
			y = (lats[0] + v) / 2
			break
		}
	}

	var xs []float64
	for _, s := range ringSegments(r) {
		if (s.a.Lat > y) != (s.b.Lat > y) {
			xs = append(xs, s.a.Lng+(y-s.a.Lat)*(s.b.Lng-s.a.Lng)/(s.b.Lat-s.a.Lat))
		}
	}
	sort.Float64s(xs)
	if len(xs) < 2 {
		return r[0]
	}
	return Point{Lng: (xs[0] + xs[1]) / 2, Lat: y}
}
