// Copyright (c) 2026 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package turtle replays turtle graphics instruction logs as frame-paced
// animations.
//
// Logical turtle coordinates have their origin at the center of the surface
// and the y axis pointing up.  Pen coordinates are canvas coordinates.
// Heading is in degrees, anticlockwise from east.
package turtle

import (
	"image/color"
	"io"
	"log/slog"
	"math"
	"sync/atomic"

	"courseware.dev/coderun/internal/error/public"
)

// DefaultMaxStep limits the distance (or degrees of arc) covered by a single
// animation frame.
const DefaultMaxStep = 5.0

type Config struct {
	MaxStep float64
	Log     *slog.Logger
}

// TextSink receives text payloads.  bytes.Buffer and strings.Builder
// implement it.
type TextSink interface {
	io.Writer
	Reset()
}

// Controller is notified if the player halts due to an error.
type Controller interface {
	Error(message string)
}

// Pen state.
type Pen struct {
	X, Y     float64
	Heading  float64
	Stroke   color.RGBA
	Fill     color.RGBA
	Weight   float64
	Down     bool
	Progress float64 // Of the current instruction.
}

var black = color.RGBA{0, 0, 0, 0xff}

// motion is an instruction which spans multiple frames.
type motion interface {
	step(p *Player) (done bool)
}

// Player is not safe for concurrent use, except for the Cancel method.
type Player struct {
	surface Surface
	text    TextSink
	maxStep float64
	log     *slog.Logger

	ctrl    Controller
	pen     Pen
	path    Path
	program Log
	next    int
	anim    motion
	busy    bool
	err     error

	cancelled atomic.Bool
}

// NewPlayer draws on surface and writes text payloads to text, which may be
// nil.  Config may be nil.
func NewPlayer(surface Surface, text TextSink, config *Config) *Player {
	p := &Player{
		surface: surface,
		text:    text,
		maxStep: DefaultMaxStep,
		log:     slog.Default(),
	}

	if config != nil {
		if config.MaxStep > 0 {
			p.maxStep = config.MaxStep
		}
		if config.Log != nil {
			p.log = config.Log
		}
	}

	p.reset()
	return p
}

// Init clears the surface and the text sink.
func (p *Player) Init(ctrl Controller) {
	p.surface.Clear()
	if p.text != nil {
		p.text.Reset()
	}
	p.reset()
	p.ctrl = ctrl
}

// Receive an instruction log or text.  A log replaces the current drawing and
// resets the pen; text is appended to the text sink.
func (p *Player) Receive(payload string) {
	switch x := ParsePayload(payload); x.Kind {
	case PayloadLog:
		p.surface.Clear()
		p.reset()
		p.program = x.Log
		p.busy = len(x.Log) > 0

	default:
		if p.text != nil {
			io.WriteString(p.text, x.Text)
		}
	}
}

// End does nothing.
func (p *Player) End() {}

// Cancel the current log at the next frame boundary.  It may be called
// concurrently with other methods.
func (p *Player) Cancel() {
	p.cancelled.Store(true)
}

// Frame advances the animation by one step.  Instructions which don't
// animate are executed without consuming a frame.  The return value
// indicates whether there is more to do.
func (p *Player) Frame() bool {
	if !p.busy {
		return false
	}

	if p.cancelled.Load() {
		p.anim = nil
		p.busy = false
		return false
	}

	for p.anim == nil {
		if p.next >= len(p.program) {
			p.busy = false
			return false
		}

		i := p.next
		p.next++

		if err := p.exec(i, p.program[i]); err != nil {
			p.halt(err)
			return false
		}
	}

	if p.anim.step(p) {
		p.anim = nil
		if p.next >= len(p.program) {
			p.busy = false
		}
	}

	return p.busy
}

// Flush executes the rest of the log without pacing.
func (p *Player) Flush() {
	for p.Frame() {
	}
}

// Busy is true until the log has been consumed.
func (p *Player) Busy() bool { return p.busy }

// Err returns the error which halted the player, if any.
func (p *Player) Err() error { return p.err }

func (p *Player) Pen() Pen { return p.pen }

// Position of the pen in logical coordinates.
func (p *Player) Position() (x, y float64) {
	w, h := p.surface.Size()
	return p.pen.X - w/2, h/2 - p.pen.Y
}

func (p *Player) reset() {
	w, h := p.surface.Size()

	p.pen = Pen{
		X:      w / 2,
		Y:      h / 2,
		Stroke: black,
		Fill:   black,
		Weight: 1,
		Down:   true,
	}
	p.path = nil
	p.path.MoveTo(Point{p.pen.X, p.pen.Y})
	p.program = nil
	p.next = 0
	p.anim = nil
	p.busy = false
	p.err = nil
	p.cancelled.Store(false)
}

func (p *Player) halt(err error) {
	p.err = err
	p.anim = nil
	p.busy = false

	p.log.Debug("turtle halted", "error", err)

	if p.ctrl != nil {
		p.ctrl.Error(public.ErrorString(err, err.Error()))
	}
}

func (p *Player) exec(index int, in Instruction) error {
	pen := &p.pen
	pen.Progress = 0

	switch in := in.(type) {
	case BeginFill:

	case EndFill:
		p.surface.Fill(p.path, pen.Fill)
		p.path = nil
		p.path.MoveTo(Point{pen.X, pen.Y})

	case Color:
		pen.Stroke = in.Color
		pen.Fill = in.Color

	case Right:
		pen.Heading = normalize(pen.Heading - in.Angle)

	case Left:
		pen.Heading = normalize(pen.Heading + in.Angle)

	case Forward:
		heading := pen.Heading
		distance := in.Distance
		if distance < 0 {
			heading += 180
			distance = -distance
		}
		sin, cos := sincos(heading)
		p.startLine(Point{pen.X + distance*cos, pen.Y - distance*sin}, distance)

	case SetPosition:
		w, h := p.surface.Size()
		p.goTo(Point{w/2 + in.X, h/2 - in.Y})

	case SetX:
		w, _ := p.surface.Size()
		p.goTo(Point{w/2 + in.X, pen.Y})

	case SetY:
		_, h := p.surface.Size()
		p.goTo(Point{pen.X, h/2 - in.Y})

	case SetHeading:
		pen.Heading = normalize(in.ToAngle)

	case Circle:
		p.startArc(in.Radius, in.Extent)

	case PenUp:
		pen.Down = false

	case PenDown:
		pen.Down = true

	case PenSize:
		pen.Weight = in.Width

	case Unknown:
		return &UnknownInstructionError{Index: index, Name: in.Name}

	default:
		return &UnknownInstructionError{Index: index, Name: in.Op().String()}
	}

	return nil
}

// goTo teleports if the pen is up.
func (p *Player) goTo(target Point) {
	pen := &p.pen

	if !pen.Down {
		pen.X, pen.Y = target.X, target.Y
		p.path.MoveTo(target)
		return
	}

	p.startLine(target, math.Hypot(target.X-pen.X, target.Y-pen.Y))
}

func (p *Player) startLine(target Point, length float64) {
	pen := &p.pen

	if length == 0 {
		pen.X, pen.Y = target.X, target.Y
		return
	}

	p.anim = &line{
		from:   Point{pen.X, pen.Y},
		to:     target,
		length: length,
	}
}

func (p *Player) startArc(radius, extent float64) {
	pen := &p.pen

	if extent == 0 {
		return
	}
	if radius == 0 {
		pen.Heading = normalize(pen.Heading + extent)
		return
	}

	sin, cos := sincos(pen.Heading)

	sweep := extent
	if radius < 0 {
		sweep = -sweep
	}

	p.anim = &arc{
		center: Point{pen.X - radius*sin, pen.Y - radius*cos},
		radius: radius,
		start:  pen.Heading,
		prev:   pen.Heading,
		sweep:  sweep,
		length: math.Abs(extent),
	}
}

func (p *Player) advance(length float64) (progress float64, done bool) {
	pen := &p.pen
	pen.Progress = math.Min(pen.Progress+p.maxStep, length)
	return pen.Progress, pen.Progress >= length
}

func (p *Player) stroke() Stroke {
	return Stroke{p.pen.Stroke, p.pen.Weight}
}

type line struct {
	from   Point
	to     Point
	length float64
}

func (m *line) step(p *Player) bool {
	pen := &p.pen

	progress, done := p.advance(m.length)

	to := m.to
	if !done {
		f := progress / m.length
		to = Point{
			m.from.X + (m.to.X-m.from.X)*f,
			m.from.Y + (m.to.Y-m.from.Y)*f,
		}
	}

	if pen.Down {
		p.surface.Line(Point{pen.X, pen.Y}, to, p.stroke())
		p.path.LineTo(to)
	} else {
		p.path.MoveTo(to)
	}

	pen.X, pen.Y = to.X, to.Y
	return done
}

type arc struct {
	center Point
	radius float64 // Negative radius turns clockwise.
	start  float64 // Heading.
	prev   float64 // Unnormalized heading after the previous frame.
	sweep  float64 // Signed heading change.
	length float64 // Degrees.
}

func (m *arc) step(p *Player) bool {
	pen := &p.pen

	progress, done := p.advance(m.length)

	heading := m.start + m.sweep
	if !done {
		heading = m.start + math.Copysign(progress, m.sweep)
	}

	sin, cos := sincos(heading)
	to := Point{m.center.X + m.radius*sin, m.center.Y + m.radius*cos}

	if pen.Down {
		p.surface.Arc(m.center, math.Abs(m.radius), m.angle(m.prev), m.angle(heading), m.sweep > 0, p.stroke())
		p.path.LineTo(to)
	} else {
		p.path.MoveTo(to)
	}

	m.prev = heading
	pen.X, pen.Y = to.X, to.Y
	pen.Heading = normalize(heading)
	return done
}

// angle of the pen around the center in surface terms.
func (m *arc) angle(heading float64) float64 {
	if m.radius > 0 {
		return (90 - heading) * math.Pi / 180
	}
	return (-90 - heading) * math.Pi / 180
}

// normalize heading to (-180, 180].
func normalize(heading float64) float64 {
	h := math.Mod(heading, 360)
	switch {
	case h <= -180:
		h += 360
	case h > 180:
		h -= 360
	}
	return h
}

// sincos of degrees.  Multiples of 90 are exact.
func sincos(degrees float64) (sin, cos float64) {
	d := math.Mod(degrees, 360)
	if d < 0 {
		d += 360
	}

	switch d {
	case 0:
		return 0, 1
	case 90:
		return 1, 0
	case 180:
		return 0, -1
	case 270:
		return -1, 0
	}

	return math.Sincos(d * math.Pi / 180)
}
