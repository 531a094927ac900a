package geo

import (
	"math"
)

type Route []*Point

func (route Route) Length() float64 {
	l := 0.
	for i := 0; i < len(route)-1; i++ {
		l += EuclideanDistance(
			route[i].X, route[i].Y,
			route[i+1].X, route[i+1].Y,
		)
	}
	return l
}

func (route Route) Copy() Route {
	copied := make(Route, len(route))
	for i, p := range route {
		copied[i] = p.Copy()
	}
	return copied
}

func (route Route) Move(dx, dy float64) {
	for _, p := range route {
		p.X += dx
		p.Y += dy
	}
}

func (route Route) GetBoundingBox() (tl, br *Point) {
	minX := math.Inf(1)
	minY := math.Inf(1)
	maxX := math.Inf(-1)
	maxY := math.Inf(-1)

	for _, p := range route {
		if p.X < minX {
			minX = p.X
		}
		if p.X > maxX {
			maxX = p.X
		}
		if p.Y < minY {
			minY = p.Y
		}
		if p.Y > maxY {
			maxY = p.Y
		}
	}
	return NewPoint(minX, minY), NewPoint(maxX, maxY)
}

// TrimCollinear removes interior points that lie on the straight line between
// their neighbors, keeping endpoints.
func (route Route) TrimCollinear() Route {
	if len(route) <= 2 {
		return route
	}
	trimmed := Route{route[0]}
	for i := 1; i < len(route)-1; i++ {
		prev := trimmed[len(trimmed)-1]
		curr := route[i]
		next := route[i+1]
		cross := (curr.X-prev.X)*(next.Y-prev.Y) - (curr.Y-prev.Y)*(next.X-prev.X)
		if math.Abs(cross) > 1e-9 {
			trimmed = append(trimmed, curr)
		}
	}
	return append(trimmed, route[len(route)-1])
}
