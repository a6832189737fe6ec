// Copyright (c) 2026 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package turtle

import (
	"image/color"
)

type RecordedLine struct {
	From, To Point
	Stroke   Stroke
}

type RecordedArc struct {
	Center        Point
	Radius        float64
	Start, End    float64
	Anticlockwise bool
	Stroke        Stroke
}

type RecordedFill struct {
	Path  Path
	Color color.RGBA
}

// Recorder is a Surface which remembers what has been drawn since it was last
// cleared.
type Recorder struct {
	Width, Height float64
	Clears        int
	Lines         []RecordedLine
	Arcs          []RecordedArc
	Fills         []RecordedFill
}

func NewRecorder(width, height float64) *Recorder {
	return &Recorder{
		Width:  width,
		Height: height,
	}
}

func (r *Recorder) Size() (width, height float64) {
	return r.Width, r.Height
}

func (r *Recorder) Clear() {
	r.Clears++
	r.Lines = nil
	r.Arcs = nil
	r.Fills = nil
}

func (r *Recorder) Line(from, to Point, s Stroke) {
	r.Lines = append(r.Lines, RecordedLine{from, to, s})
}

func (r *Recorder) Arc(center Point, radius, start, end float64, anticlockwise bool, s Stroke) {
	r.Arcs = append(r.Arcs, RecordedArc{center, radius, start, end, anticlockwise, s})
}

func (r *Recorder) Fill(path Path, c color.RGBA) {
	r.Fills = append(r.Fills, RecordedFill{path.clone(), c})
}

// Empty is true if nothing has been drawn.
func (r *Recorder) Empty() bool {
	return len(r.Lines) == 0 && len(r.Arcs) == 0 && len(r.Fills) == 0
}
