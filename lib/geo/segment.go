package geo

import "fmt"

type Segment struct {
	Start *Point
	End   *Point
}

func NewSegment(from, to *Point) *Segment {
	return &Segment{from, to}
}

func (s Segment) Length() float64 {
	return EuclideanDistance(s.Start.X, s.Start.Y, s.End.X, s.End.Y)
}

func (s Segment) Intersects(other Segment) bool {
	return IntersectionPoint(s.Start, s.End, other.Start, other.End) != nil
}

func (s Segment) ToString() string {
	return fmt.Sprintf("%v -> %v", s.Start.ToString(), s.End.ToString())
}
