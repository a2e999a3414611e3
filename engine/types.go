package engine

import "fmt"

// Point is a 2D position in pixel coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Scale returns p multiplied by factor on both axes.
func (p Point) Scale(factor float64) Point {
	return Point{X: p.X * factor, Y: p.Y * factor}
}

// Quad is a four-corner polygon bounding a candidate marker. Corners are in
// clockwise order starting at the top-left corner.
type Quad struct {
	Corners [4]Point `json:"corners"`
	Center  Point    `json:"center"`
}

// NewQuad builds a quad and derives its center from the corners.
func NewQuad(corners [4]Point) Quad {
	return Quad{Corners: corners, Center: centroid(corners)}
}

// Scale maps the quad into a space scaled by factor. The controller uses it
// to move working-resolution coordinates back to source resolution.
func (q Quad) Scale(factor float64) Quad {
	var out Quad
	for i, c := range q.Corners {
		out.Corners[i] = c.Scale(factor)
	}
	out.Center = q.Center.Scale(factor)
	return out
}

func centroid(corners [4]Point) Point {
	var c Point
	for _, p := range corners {
		c.X += p.X
		c.Y += p.Y
	}
	c.X /= 4
	c.Y /= 4
	return c
}

// Tag is a decoded marker.
type Tag struct {
	Code uint32 `json:"code"`
	Quad Quad   `json:"quad"`
}

// String returns a short human readable form of the tag.
func (t Tag) String() string {
	return fmt.Sprintf("tag %d @ (%.1f, %.1f)", t.Code, t.Quad.Center.X, t.Quad.Center.Y)
}

// ScaleTags returns a copy of tags with every quad scaled by factor.
func ScaleTags(tags []Tag, factor float64) []Tag {
	if tags == nil {
		return nil
	}
	out := make([]Tag, len(tags))
	for i, t := range tags {
		out[i] = Tag{Code: t.Code, Quad: t.Quad.Scale(factor)}
	}
	return out
}
