// Package power holds the primitives shared by the voting-power aggregation
// core: the timeline marker, source and call kinds, checked arithmetic, and
// the error taxonomy surfaced by the registry and the engine.
package power

import (
	"math"
	"strconv"
)

// Point is a monotonically increasing timeline marker, analogous to a block
// height. Historical state is indexed by Point.
type Point uint64

// PointMax is the open-ended sentinel: an activation period whose DisabledOn
// equals PointMax never closes.
const PointMax Point = math.MaxUint64

// Next returns the point immediately after p. Saturates at PointMax.
func (p Point) Next() Point {
	if p == PointMax {
		return PointMax
	}
	return p + 1
}

func (p Point) String() string {
	if p == PointMax {
		return "max"
	}
	return strconv.FormatUint(uint64(p), 10)
}

// ParsePoint parses the decimal representation produced by Point.String.
func ParsePoint(s string) (Point, error) {
	if s == "max" {
		return PointMax, nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return Point(v), nil
}

// PointSource reports the current point of the timeline. The counter is
// external to this system; implementations typically proxy a chain head or a
// coordination service.
type PointSource interface {
	Current() Point
}

// ManualPointSource is a PointSource advanced by hand. Used in tests and in
// single-process deployments where the operator drives the timeline.
type ManualPointSource struct {
	point Point
}

// NewManualPointSource starts the timeline at p.
func NewManualPointSource(p Point) *ManualPointSource {
	return &ManualPointSource{point: p}
}

func (m *ManualPointSource) Current() Point { return m.point }

// Advance moves the timeline forward by n points.
func (m *ManualPointSource) Advance(n uint64) { m.point += Point(n) }

// Set jumps the timeline to p. Callers must not move it backwards.
func (m *ManualPointSource) Set(p Point) { m.point = p }
