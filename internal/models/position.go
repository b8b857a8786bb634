package models

import "math"

type Stance string

const (
	StanceFor     Stance = "for"
	StanceAgainst Stance = "against"
)

// Position is an AI stance-holder's debate side plus a bounded confidence
// scalar. Color fields are presentation hints derived from stance and
// intensity; they are recomputed on every change, never stored independently.
type Position struct {
	Stance    Stance  `json:"stance"`
	Intensity float64 `json:"intensity"`
	Color     string  `json:"color"`
	BgColor   string  `json:"bgColor"`
}

const (
	MinIntensity = 0.1
	MaxIntensity = 1.0
)

// NewPosition builds a position from a raw intensity, applying the bounds,
// one-decimal rounding and the >=0.5 stance rule.
func NewPosition(intensity float64) Position {
	p := Position{Intensity: ClampIntensity(intensity)}
	p.derive()
	return p
}

// Shift applies a confidence delta and re-derives stance and colors.
func (p Position) Shift(delta float64) Position {
	return NewPosition(p.Intensity + delta)
}

// ClampIntensity bounds a raw intensity to [0.1, 1.0] rounded to one decimal.
func ClampIntensity(v float64) float64 {
	v = math.Round(v*10) / 10
	if v < MinIntensity {
		return MinIntensity
	}
	if v > MaxIntensity {
		return MaxIntensity
	}
	return v
}

func (p *Position) derive() {
	if p.Intensity >= 0.5 {
		p.Stance = StanceFor
		p.Color = "#15803d"
		p.BgColor = "#dcfce7"
	} else {
		p.Stance = StanceAgainst
		p.Color = "#b91c1c"
		p.BgColor = "#fee2e2"
	}
}
