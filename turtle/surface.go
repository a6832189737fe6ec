// Copyright (c) 2026 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package turtle

import (
	"image/color"
)

// Point in canvas coordinates: origin at top-left corner, y axis pointing
// down.
type Point struct {
	X, Y float64
}

type Stroke struct {
	Color color.RGBA
	Width float64
}

// Path consists of subpaths.
type Path [][]Point

// MoveTo starts a new subpath.
func (p *Path) MoveTo(pt Point) {
	if n := len(*p); n > 0 && len((*p)[n-1]) == 1 {
		(*p)[n-1][0] = pt
		return
	}
	*p = append(*p, []Point{pt})
}

// LineTo extends the current subpath.
func (p *Path) LineTo(pt Point) {
	n := len(*p)
	if n == 0 {
		p.MoveTo(pt)
		return
	}
	(*p)[n-1] = append((*p)[n-1], pt)
}

func (p Path) clone() Path {
	c := make(Path, len(p))
	for i, sub := range p {
		c[i] = append([]Point(nil), sub...)
	}
	return c
}

// Surface is a 2D drawing target.
type Surface interface {
	Size() (width, height float64)
	Clear()
	Line(from, to Point, s Stroke)

	// Arc angles are in radians, measured clockwise from the positive x
	// axis (y points down).  The arc is drawn from start to end, and the
	// difference between them is less than a full turn.
	Arc(center Point, radius, start, end float64, anticlockwise bool, s Stroke)

	// Fill closes all subpaths and fills them using the non-zero rule.
	Fill(path Path, c color.RGBA)
}
