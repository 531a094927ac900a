package geo

import (
	"fmt"
)

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func NewPoint(x, y float64) *Point {
	return &Point{X: x, Y: y}
}

func (p *Point) Copy() *Point {
	return &Point{X: p.X, Y: p.Y}
}

func (p1 *Point) Equals(p2 *Point) bool {
	if p1 == nil {
		return p2 == nil
	} else if p2 == nil {
		return false
	}
	return p1.X == p2.X && p1.Y == p2.Y
}

func (p *Point) ToString() string {
	return fmt.Sprintf("(%.1f, %.1f)", p.X, p.Y)
}

// IntersectionPoint returns the intersection of segments p1p2 and p3p4, or nil
// if they do not intersect.
func IntersectionPoint(p1, p2, p3, p4 *Point) *Point {
	d := (p2.X-p1.X)*(p4.Y-p3.Y) - (p2.Y-p1.Y)*(p4.X-p3.X)
	if d == 0 {
		return nil
	}

	t := ((p3.X-p1.X)*(p4.Y-p3.Y) - (p3.Y-p1.Y)*(p4.X-p3.X)) / d
	u := ((p3.X-p1.X)*(p2.Y-p1.Y) - (p3.Y-p1.Y)*(p2.X-p1.X)) / d
	if t < 0 || t > 1 || u < 0 || u > 1 {
		return nil
	}

	return NewPoint(p1.X+t*(p2.X-p1.X), p1.Y+t*(p2.Y-p1.Y))
}
