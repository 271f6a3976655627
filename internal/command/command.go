// Package command defines the closed set of robot commands and validates raw
// name/params pairs produced by the language-model stage into typed commands.
package command

import (
	"encoding/json"
	"fmt"
	"math"
)

// Name identifies a robot command.
type Name string

const (
	NameMoveTo      Name = "move_to"
	NameRotate      Name = "rotate"
	NameStartPatrol Name = "start_patrol"
)

// Names lists every valid command name in keyword-scan order.
var Names = []Name{NameMoveTo, NameRotate, NameStartPatrol}

const (
	DirectionClockwise        = "clockwise"
	DirectionCounterClockwise = "counter-clockwise"

	SpeedSlow   = "slow"
	SpeedMedium = "medium"
	SpeedFast   = "fast"

	defaultRepeatCount = 1
)

var (
	allowedDirections = []string{DirectionClockwise, DirectionCounterClockwise}
	allowedRoutes     = []string{"first_floor", "bedrooms", "second_floor"}
	allowedSpeeds     = []string{SpeedSlow, SpeedMedium, SpeedFast}
)

// MoveToParams are the coordinates for a move_to command.
type MoveToParams struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// RotateParams are the angle and direction for a rotate command.
type RotateParams struct {
	Angle     float64 `json:"angle"`
	Direction string  `json:"direction"`
}

// StartPatrolParams represents a startPatrolParams. Speed and RepeatCount
// receive defaults only when absent from the raw params.
type StartPatrolParams struct {
	RouteID     string `json:"route_id"`
	Speed       string `json:"speed"`
	RepeatCount int    `json:"repeat_count"`
}

// Command is a validated robot command. Exactly one of the params fields is
// set, matching Name.
type Command struct {
	Name        Name
	MoveTo      *MoveToParams
	Rotate      *RotateParams
	StartPatrol *StartPatrolParams
}

// Params echoes the validated parameters as a generic map, the shape the
// validator service returns to callers.
func (c Command) Params() map[string]any {
	switch c.Name {
	case NameMoveTo:
		return map[string]any{"x": c.MoveTo.X, "y": c.MoveTo.Y}
	case NameRotate:
		return map[string]any{"angle": c.Rotate.Angle, "direction": c.Rotate.Direction}
	case NameStartPatrol:
		return map[string]any{
			"route_id":     c.StartPatrol.RouteID,
			"speed":        c.StartPatrol.Speed,
			"repeat_count": c.StartPatrol.RepeatCount,
		}
	default:
		return nil
	}
}

// Describe returns the human acknowledgment for a validated command.
func (c Command) Describe() string {
	return fmt.Sprintf("Command '%s' validated successfully", c.Name)
}

// UnknownCommandError reports a name outside the closed enumeration.
type UnknownCommandError struct {
	Name string
}

func (e *UnknownCommandError) Error() string {
	return fmt.Sprintf("unknown command %q", e.Name)
}

// InvalidParamsError reports a missing, mistyped or out-of-enumeration field.
type InvalidParamsError struct {
	Command Name
	Field   string
	Reason  string
}

func (e *InvalidParamsError) Error() string {
	return fmt.Sprintf("invalid params for %s: field %q %s", e.Command, e.Field, e.Reason)
}

// Validate coerces rawParams into the typed record required by rawName.
// It is a pure function: no I/O, deterministic, no mutation of rawParams.
// Unknown extra fields are ignored; missing required fields, wrong types and
// out-of-enumeration values fail. Defaults apply only to absent optional
// fields, never to present-but-invalid ones.
func Validate(rawName string, rawParams map[string]any) (Command, error) {
	name := Name(rawName)
	switch name {
	case NameMoveTo:
		return validateMoveTo(rawParams)
	case NameRotate:
		return validateRotate(rawParams)
	case NameStartPatrol:
		return validateStartPatrol(rawParams)
	default:
		return Command{}, &UnknownCommandError{Name: rawName}
	}
}

func validateMoveTo(raw map[string]any) (Command, error) {
	x, err := requireFloat(NameMoveTo, raw, "x")
	if err != nil {
		return Command{}, err
	}
	y, err := requireFloat(NameMoveTo, raw, "y")
	if err != nil {
		return Command{}, err
	}
	return Command{Name: NameMoveTo, MoveTo: &MoveToParams{X: x, Y: y}}, nil
}

func validateRotate(raw map[string]any) (Command, error) {
	angle, err := requireFloat(NameRotate, raw, "angle")
	if err != nil {
		return Command{}, err
	}
	direction, err := requireEnum(NameRotate, raw, "direction", allowedDirections)
	if err != nil {
		return Command{}, err
	}
	return Command{Name: NameRotate, Rotate: &RotateParams{Angle: angle, Direction: direction}}, nil
}

func validateStartPatrol(raw map[string]any) (Command, error) {
	routeID, err := requireEnum(NameStartPatrol, raw, "route_id", allowedRoutes)
	if err != nil {
		return Command{}, err
	}

	speed := SpeedMedium
	if _, present := raw["speed"]; present {
		speed, err = requireEnum(NameStartPatrol, raw, "speed", allowedSpeeds)
		if err != nil {
			return Command{}, err
		}
	}

	repeat := defaultRepeatCount
	if _, present := raw["repeat_count"]; present {
		repeat, err = requireInt(NameStartPatrol, raw, "repeat_count")
		if err != nil {
			return Command{}, err
		}
	}

	return Command{Name: NameStartPatrol, StartPatrol: &StartPatrolParams{
		RouteID:     routeID,
		Speed:       speed,
		RepeatCount: repeat,
	}}, nil
}

func requireFloat(cmd Name, raw map[string]any, field string) (float64, error) {
	value, present := raw[field]
	if !present {
		return 0, &InvalidParamsError{Command: cmd, Field: field, Reason: "is required"}
	}
	f, ok := asFloat(value)
	if !ok {
		return 0, &InvalidParamsError{Command: cmd, Field: field, Reason: "must be a number"}
	}
	return f, nil
}

func requireInt(cmd Name, raw map[string]any, field string) (int, error) {
	value, present := raw[field]
	if !present {
		return 0, &InvalidParamsError{Command: cmd, Field: field, Reason: "is required"}
	}
	f, ok := asFloat(value)
	if !ok || f != math.Trunc(f) {
		return 0, &InvalidParamsError{Command: cmd, Field: field, Reason: "must be an integer"}
	}
	return int(f), nil
}

func requireEnum(cmd Name, raw map[string]any, field string, allowed []string) (string, error) {
	value, present := raw[field]
	if !present {
		return "", &InvalidParamsError{Command: cmd, Field: field, Reason: "is required"}
	}
	s, ok := value.(string)
	if !ok {
		return "", &InvalidParamsError{Command: cmd, Field: field, Reason: "must be a string"}
	}
	for _, candidate := range allowed {
		if s == candidate {
			return s, nil
		}
	}
	return "", &InvalidParamsError{Command: cmd, Field: field, Reason: fmt.Sprintf("must be one of %v", allowed)}
}

// asFloat accepts the numeric types a decoded JSON or YAML document can carry.
func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
