// Package grid maps geographic bounds onto the integer cell grid of a
// level of detail.
//
// A grid is anchored at an origin point and divided into square cells of a
// fixed side length (the resolution). Cell (x, y) covers
// [origin.X + x*res, origin.X + (x+1)*res) horizontally and the same range
// vertically for y.
package grid

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// Cell is a grid cell coordinate within one level of detail.
type Cell struct {
	X int
	Y int
}

// String returns the canonical "x,y" key used by the metadata document.
func (c Cell) String() string {
	return strconv.Itoa(c.X) + "," + strconv.Itoa(c.Y)
}

// Less orders cells row-major: by Y, then by X.
func (c Cell) Less(o Cell) bool {
	if c.Y != o.Y {
		return c.Y < o.Y
	}
	return c.X < o.X
}

// Bound returns the rectangle the cell covers.
func (c Cell) Bound(resolution float64, origin orb.Point) orb.Bound {
	minX := origin.X() + float64(c.X)*resolution
	minY := origin.Y() + float64(c.Y)*resolution
	return orb.Bound{
		Min: orb.Point{minX, minY},
		Max: orb.Point{minX + resolution, minY + resolution},
	}
}

// ParseCell parses an "x,y" cell key.
func ParseCell(key string) (Cell, error) {
	xs, ys, ok := strings.Cut(key, ",")
	if !ok {
		return Cell{}, fmt.Errorf("cell key %q: missing comma", key)
	}
	x, err := strconv.Atoi(strings.TrimSpace(xs))
	if err != nil {
		return Cell{}, fmt.Errorf("cell key %q: %w", key, err)
	}
	y, err := strconv.Atoi(strings.TrimSpace(ys))
	if err != nil {
		return Cell{}, fmt.Errorf("cell key %q: %w", key, err)
	}
	return Cell{X: x, Y: y}, nil
}

// View is the rectangular window of cells intersecting a viewport.
type View struct {
	Resolution float64
	MinX       int
	MinY       int
	StepsX     int
	StepsY     int
}

const maxPrealloc = 1 << 16

// MaxCoord bounds cell coordinates on both axes. Windows reaching past it
// are clamped, so MinX+StepsX never overflows.
const MaxCoord = 1 << 30

// Compute returns the window of cells of the given resolution that
// intersect bound. A bound with a NaN edge yields an empty window.
func Compute(resolution float64, origin orb.Point, bound orb.Bound) View {
	minX, okMinX := index(math.Floor((bound.Left() - origin.X()) / resolution))
	minY, okMinY := index(math.Floor((bound.Bottom() - origin.Y()) / resolution))
	maxX, okMaxX := index(math.Ceil((bound.Right() - origin.X()) / resolution))
	maxY, okMaxY := index(math.Ceil((bound.Top() - origin.Y()) / resolution))
	if !okMinX || !okMinY || !okMaxX || !okMaxY {
		return View{Resolution: resolution}
	}

	return View{
		Resolution: resolution,
		MinX:       minX,
		MinY:       minY,
		StepsX:     maxX - minX,
		StepsY:     maxY - minY,
	}
}

// index converts a floored or ceiled cell ordinate to an int, clamping it
// to [-MaxCoord, MaxCoord]. It reports false for NaN.
func index(f float64) (int, bool) {
	switch {
	case math.IsNaN(f):
		return 0, false
	case f < -MaxCoord:
		return -MaxCoord, true
	case f > MaxCoord:
		return MaxCoord, true
	}
	return int(f), true
}

// SameAs reports whether both views cover exactly the same cell window.
// There is no tolerance on the resolution.
func (v View) SameAs(o View) bool {
	return v.Resolution == o.Resolution &&
		v.MinX == o.MinX &&
		v.MinY == o.MinY &&
		v.StepsX == o.StepsX &&
		v.StepsY == o.StepsY
}

// Contains reports whether c falls inside the window.
func (v View) Contains(c Cell) bool {
	return c.X >= v.MinX && c.X < v.MinX+v.StepsX &&
		c.Y >= v.MinY && c.Y < v.MinY+v.StepsY
}

// Len returns the number of cells in the window, saturating at
// math.MaxInt.
func (v View) Len() int {
	if v.StepsX <= 0 || v.StepsY <= 0 {
		return 0
	}
	if v.StepsY > math.MaxInt/v.StepsX {
		return math.MaxInt
	}
	return v.StepsX * v.StepsY
}

// Cells returns every cell of the window in row-major order. Callers
// check Len first: a window near MaxCoord on both axes does not fit in
// memory.
func (v View) Cells() []Cell {
	cells := make([]Cell, 0, min(v.Len(), maxPrealloc))
	for y := v.MinY; y < v.MinY+v.StepsY; y++ {
		for x := v.MinX; x < v.MinX+v.StepsX; x++ {
			cells = append(cells, Cell{X: x, Y: y})
		}
	}
	return cells
}
