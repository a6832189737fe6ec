// Copyright (c) 2026 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package turtle

import (
	"encoding/json"
	"fmt"
	"image/color"
	"math"
)

// Op is a drawing opcode.
type Op uint8

const (
	OpUnknown Op = iota
	OpBeginFill
	OpEndFill
	OpColor
	OpRight
	OpLeft
	OpForward
	OpSetPosition
	OpSetX
	OpSetY
	OpSetHeading
	OpCircle
	OpPenUp
	OpPenDown
	OpPenSize
)

var opNames = [...]string{
	OpUnknown:     "unknown",
	OpBeginFill:   "beginfill",
	OpEndFill:     "endfill",
	OpColor:       "color",
	OpRight:       "right",
	OpLeft:        "left",
	OpForward:     "forward",
	OpSetPosition: "setposition",
	OpSetX:        "setx",
	OpSetY:        "sety",
	OpSetHeading:  "setheading",
	OpCircle:      "circle",
	OpPenUp:       "penup",
	OpPenDown:     "pendown",
	OpPenSize:     "pensize",
}

func (op Op) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return fmt.Sprintf("op(%d)", op)
}

// LookupOp returns OpUnknown for unsupported names.
func LookupOp(name string) Op {
	for op, s := range opNames {
		if op != int(OpUnknown) && s == name {
			return Op(op)
		}
	}
	return OpUnknown
}

// Instruction is one of the types defined in this package.
type Instruction interface {
	Op() Op
}

type (
	BeginFill   struct{}
	EndFill     struct{}
	Color       struct{ Color color.RGBA }
	Right       struct{ Angle float64 }
	Left        struct{ Angle float64 }
	Forward     struct{ Distance float64 }
	SetPosition struct{ X, Y float64 }
	SetX        struct{ X float64 }
	SetY        struct{ Y float64 }
	SetHeading  struct{ ToAngle float64 }
	PenUp       struct{}
	PenDown     struct{}
	PenSize     struct{ Width float64 }
)

// Circle extent is in degrees.  DecodeLog defaults it to a full circle.
type Circle struct {
	Radius float64
	Extent float64
}

// Unknown instruction halts the player.
type Unknown struct {
	Name string
}

func (BeginFill) Op() Op   { return OpBeginFill }
func (EndFill) Op() Op     { return OpEndFill }
func (Color) Op() Op       { return OpColor }
func (Right) Op() Op       { return OpRight }
func (Left) Op() Op        { return OpLeft }
func (Forward) Op() Op     { return OpForward }
func (SetPosition) Op() Op { return OpSetPosition }
func (SetX) Op() Op        { return OpSetX }
func (SetY) Op() Op        { return OpSetY }
func (SetHeading) Op() Op  { return OpSetHeading }
func (Circle) Op() Op      { return OpCircle }
func (PenUp) Op() Op       { return OpPenUp }
func (PenDown) Op() Op     { return OpPenDown }
func (PenSize) Op() Op     { return OpPenSize }
func (Unknown) Op() Op     { return OpUnknown }

// Log is an ordered instruction sequence.
type Log []Instruction

// args of all opcodes.
type args struct {
	Angle    *float64  `json:"angle"`
	Distance *float64  `json:"distance"`
	X        *float64  `json:"x"`
	Y        *float64  `json:"y"`
	ToAngle  *float64  `json:"to_angle"`
	Radius   *float64  `json:"radius"`
	Extent   *float64  `json:"extent"`
	Width    *float64  `json:"width"`
	RGB      []float64 `json:"args"`
}

// DecodeLog parses a JSON array of [opcode, arguments] pairs.  Unsupported
// opcodes are decoded as Unknown instructions; missing or invalid arguments
// of supported opcodes cause a DecodeError.
func DecodeLog(data []byte) (Log, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}

	log := make(Log, 0, len(items))

	for i, item := range items {
		var pair []json.RawMessage
		if err := json.Unmarshal(item, &pair); err != nil {
			return nil, &DecodeError{Index: i, Err: err}
		}
		if len(pair) < 1 || len(pair) > 2 {
			return nil, &DecodeError{Index: i, Err: fmt.Errorf("instruction has %d elements", len(pair))}
		}

		var name string
		if err := json.Unmarshal(pair[0], &name); err != nil {
			return nil, &DecodeError{Index: i, Err: err}
		}

		var a args
		if len(pair) > 1 && string(pair[1]) != "null" {
			if err := json.Unmarshal(pair[1], &a); err != nil {
				return nil, &DecodeError{Index: i, Name: name, Err: err}
			}
		}

		in, err := a.instruction(name)
		if err != nil {
			return nil, &DecodeError{Index: i, Name: name, Err: err}
		}
		log = append(log, in)
	}

	return log, nil
}

func (a *args) instruction(name string) (Instruction, error) {
	switch op := LookupOp(name); op {
	case OpBeginFill:
		return BeginFill{}, nil

	case OpEndFill:
		return EndFill{}, nil

	case OpColor:
		c, err := rgb(a.RGB)
		return Color{c}, err

	case OpRight:
		x, err := need("angle", a.Angle)
		return Right{x}, err

	case OpLeft:
		x, err := need("angle", a.Angle)
		return Left{x}, err

	case OpForward:
		x, err := need("distance", a.Distance)
		return Forward{x}, err

	case OpSetPosition:
		x, err := need("x", a.X)
		if err != nil {
			return nil, err
		}
		y, err := need("y", a.Y)
		return SetPosition{x, y}, err

	case OpSetX:
		x, err := need("x", a.X)
		return SetX{x}, err

	case OpSetY:
		y, err := need("y", a.Y)
		return SetY{y}, err

	case OpSetHeading:
		x, err := need("to_angle", a.ToAngle)
		return SetHeading{x}, err

	case OpCircle:
		r, err := need("radius", a.Radius)
		if err != nil {
			return nil, err
		}
		extent := 360.0
		if a.Extent != nil {
			extent = *a.Extent
		}
		return Circle{r, extent}, nil

	case OpPenUp:
		return PenUp{}, nil

	case OpPenDown:
		return PenDown{}, nil

	case OpPenSize:
		x, err := need("width", a.Width)
		return PenSize{x}, err

	default:
		return Unknown{name}, nil
	}
}

func need(name string, x *float64) (float64, error) {
	if x == nil {
		return 0, fmt.Errorf("missing %s argument", name)
	}
	if math.IsNaN(*x) || math.IsInf(*x, 0) {
		return 0, fmt.Errorf("invalid %s argument", name)
	}
	return *x, nil
}

func rgb(args []float64) (c color.RGBA, err error) {
	if len(args) != 3 {
		err = fmt.Errorf("color needs 3 arguments, got %d", len(args))
		return
	}

	c = color.RGBA{
		R: channel(args[0]),
		G: channel(args[1]),
		B: channel(args[2]),
		A: 0xff,
	}
	return
}

func channel(x float64) uint8 {
	switch {
	case x <= 0 || math.IsNaN(x):
		return 0
	case x >= 255:
		return 255
	default:
		return uint8(math.Round(x))
	}
}
