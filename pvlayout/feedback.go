package pvlayout

import (
	"math"

	"github.com/pipeviz/pipeviz/lib/geo"
)

// routeFeedback routes a cycle-closing edge around the left gutter: drop out
// of the source, swing left past the leftmost endpoint, rise above both
// nodes, and come back down into the target's top. The gutter x is strictly
// left of both endpoints, so no collision search is needed.
func (sc *scope) routeFeedback(e *edgeRef, opts *Opts) {
	src, dst := e.src, e.dst

	srcX := src.CenterX()
	dstX := dst.CenterX()

	startY := opts.visibleBottom(src)
	dropY := startY + opts.StemLength
	// Measured from the box edges so the gutter clears both nodes no matter
	// how wide they are.
	gutterX := math.Min(src.Box.TopLeft.X, dst.Box.TopLeft.X) - opts.FeedbackGutter
	headroomY := math.Min(opts.visibleTop(src), opts.visibleTop(dst)) - opts.FeedbackHeadroom
	endY := opts.visibleTop(dst)

	e.edge.Route = geo.Route{
		geo.NewPoint(srcX, startY),
		geo.NewPoint(srcX, dropY),
		geo.NewPoint(gutterX, dropY),
		geo.NewPoint(gutterX, headroomY),
		geo.NewPoint(dstX, headroomY),
		geo.NewPoint(dstX, endY),
	}
}
