package models

import (
	"encoding/json"
	"strings"
)

// Gesture is one of Rock, Paper, Scissors or the Unknown sentinel.
type Gesture int

const (
	GestureUnknown Gesture = iota
	GestureRock
	GesturePaper
	GestureScissors
)

// NoDetectionLabel is what the detection service reports when it sees no hand.
const NoDetectionLabel = "No detection"

// unknownWireName is how Unknown travels on the coordination channel.
const unknownWireName = "none"

// Gestures lists the recognizable gestures in a stable order.
var Gestures = []Gesture{GestureRock, GesturePaper, GestureScissors}

// NormalizeGesture maps any label to a Gesture. "No detection", "none", empty strings and
// any label outside the enumeration all become Unknown.
func NormalizeGesture(label string) Gesture {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "rock":
		return GestureRock
	case "paper":
		return GesturePaper
	case "scissors":
		return GestureScissors
	default:
		return GestureUnknown
	}
}

func (g Gesture) String() string {
	switch g {
	case GestureRock:
		return "Rock"
	case GesturePaper:
		return "Paper"
	case GestureScissors:
		return "Scissors"
	default:
		return "Unknown"
	}
}

// WireName is the label sent to the coordination server.
func (g Gesture) WireName() string {
	if g == GestureUnknown {
		return unknownWireName
	}
	return g.String()
}

// Known reports whether g is a recognized gesture.
func (g Gesture) Known() bool {
	return g == GestureRock || g == GesturePaper || g == GestureScissors
}

// Beats reports whether g defeats other. A recognized gesture beats Unknown.
func (g Gesture) Beats(other Gesture) bool {
	switch {
	case !g.Known():
		return false
	case !other.Known():
		return true
	}
	return (g == GestureRock && other == GestureScissors) ||
		(g == GestureScissors && other == GesturePaper) ||
		(g == GesturePaper && other == GestureRock)
}

func (g Gesture) MarshalJSON() ([]byte, error) {
	return json.Marshal(g.WireName())
}

func (g *Gesture) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// null or a non-string label still means "nothing recognized"
		*g = GestureUnknown
		return nil
	}
	*g = NormalizeGesture(s)
	return nil
}

// BoundingBox is the detection rectangle in source-frame pixels.
type BoundingBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// BoxFromSlice converts the service's [x1,y1,x2,y2] form. Anything else is "no box".
func BoxFromSlice(v []int) *BoundingBox {
	if len(v) != 4 {
		return nil
	}
	return &BoundingBox{X1: v[0], Y1: v[1], X2: v[2], Y2: v[3]}
}

// DetectionSample is one normalized recognition result.
type DetectionSample struct {
	Gesture Gesture      `json:"gesture"`
	Box     *BoundingBox `json:"bbox,omitempty"`
}
