// Copyright (c) 2026 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package turtle

import (
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"

	"golang.org/x/image/vector"
)

const (
	arcSegment  = math.Pi / 90 // Radians.
	dotSegments = 16
)

var White = color.RGBA{0xff, 0xff, 0xff, 0xff}

// Raster is a Surface backed by an RGBA image.
type Raster struct {
	img        *image.RGBA
	background color.RGBA
	z          *vector.Rasterizer
	drawn      bool
}

func NewRaster(width, height int, background color.RGBA) *Raster {
	r := &Raster{
		img:        image.NewRGBA(image.Rect(0, 0, width, height)),
		background: background,
		z:          vector.NewRasterizer(width, height),
	}
	r.Clear()
	return r
}

func (r *Raster) Size() (width, height float64) {
	b := r.img.Bounds()
	return float64(b.Dx()), float64(b.Dy())
}

func (r *Raster) Clear() {
	draw.Draw(r.img, r.img.Bounds(), image.NewUniform(r.background), image.Point{}, draw.Src)
	r.drawn = false
}

func (r *Raster) Line(from, to Point, s Stroke) {
	half := math.Max(s.Width, 1) / 2

	dx := to.X - from.X
	dy := to.Y - from.Y
	length := math.Hypot(dx, dy)
	if length == 0 {
		r.dot(from, half, s.Color)
		return
	}

	nx := -dy / length * half
	ny := dx / length * half

	r.begin()
	r.moveTo(from.X+nx, from.Y+ny)
	r.lineTo(to.X+nx, to.Y+ny)
	r.lineTo(to.X-nx, to.Y-ny)
	r.lineTo(from.X-nx, from.Y-ny)
	r.z.ClosePath()
	r.paint(s.Color)

	if half > 1 {
		r.dot(to, half, s.Color)
	}
}

func (r *Raster) Arc(center Point, radius, start, end float64, anticlockwise bool, s Stroke) {
	n := int(math.Ceil(math.Abs(end-start) / arcSegment))
	if n < 1 {
		n = 1
	}

	from := Point{center.X + radius*math.Cos(start), center.Y + radius*math.Sin(start)}

	for i := 1; i <= n; i++ {
		a := start + (end-start)*float64(i)/float64(n)
		to := Point{center.X + radius*math.Cos(a), center.Y + radius*math.Sin(a)}
		r.Line(from, to, s)
		from = to
	}
}

func (r *Raster) Fill(path Path, c color.RGBA) {
	r.begin()

	var closed bool

	for _, sub := range path {
		if len(sub) < 3 {
			continue
		}

		r.moveTo(sub[0].X, sub[0].Y)
		for _, pt := range sub[1:] {
			r.lineTo(pt.X, pt.Y)
		}
		r.z.ClosePath()
		closed = true
	}

	if closed {
		r.paint(c)
	}
}

// Drawn is true if something has been drawn since the raster was cleared.
func (r *Raster) Drawn() bool { return r.drawn }

func (r *Raster) Image() image.Image { return r.img }

func (r *Raster) WritePNG(w io.Writer) error {
	return png.Encode(w, r.img)
}

func (r *Raster) dot(center Point, radius float64, c color.RGBA) {
	r.begin()
	for i := 0; i < dotSegments; i++ {
		a := 2 * math.Pi * float64(i) / dotSegments
		x := center.X + radius*math.Cos(a)
		y := center.Y + radius*math.Sin(a)
		if i == 0 {
			r.moveTo(x, y)
		} else {
			r.lineTo(x, y)
		}
	}
	r.z.ClosePath()
	r.paint(c)
}

func (r *Raster) begin() {
	b := r.img.Bounds()
	r.z.Reset(b.Dx(), b.Dy())
}

func (r *Raster) moveTo(x, y float64) { r.z.MoveTo(float32(x), float32(y)) }
func (r *Raster) lineTo(x, y float64) { r.z.LineTo(float32(x), float32(y)) }

func (r *Raster) paint(c color.RGBA) {
	r.z.Draw(r.img, r.img.Bounds(), image.NewUniform(c), image.Point{})
	r.drawn = true
}
