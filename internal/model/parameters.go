package model

// GateConfig is a position/amplitude window that scopes defect alarms
type GateConfig struct {
	Enabled        bool    `json:"enabled"`
	Start          float64 `json:"start"`
	Width          float64 `json:"width"`
	Height         float64 `json:"height"` // amplitude half-range
	AlarmThreshold float64 `json:"alarmThreshold"`
	Color          string  `json:"color"` // display tag only
}

// Contains reports whether a sample at position with amplitude lies inside
// the gate. A disabled gate or a negative width never matches.
func (g GateConfig) Contains(position, amplitude float64) bool {
	if !g.Enabled || g.Width < 0 {
		return false
	}
	if position < g.Start || position > g.Start+g.Width {
		return false
	}
	if amplitude < 0 {
		amplitude = -amplitude
	}
	return amplitude <= g.Height
}

// TestingParameters are the live acquisition and detection settings of a session
type TestingParameters struct {
	Gain      float64    `json:"gain"` // dB
	Filter    FilterType `json:"filter"`
	Velocity  float64    `json:"velocity"`
	Threshold float64    `json:"threshold"`
	GateA     GateConfig `json:"gateA"`
	GateB     GateConfig `json:"gateB"`
}

// DefaultParameters returns the parameters a new session starts with
func DefaultParameters() TestingParameters {
	return TestingParameters{
		Gain:      40,
		Filter:    FilterBandpass,
		Velocity:  1.0,
		Threshold: 1.0,
		GateA: GateConfig{
			Enabled:        true,
			Start:          0,
			Width:          1.0,
			Height:         5.0,
			AlarmThreshold: 1.5,
			Color:          "#FFD700",
		},
		GateB: GateConfig{
			Enabled:        true,
			Start:          1.0,
			Width:          1.0,
			Height:         5.0,
			AlarmThreshold: 2.0,
			Color:          "#FF69B4",
		},
	}
}

// ParameterUpdate is a partial update; nil fields are left unchanged
type ParameterUpdate struct {
	Gain      *float64    `json:"gain,omitempty"`
	Filter    *FilterType `json:"filter,omitempty"`
	Velocity  *float64    `json:"velocity,omitempty"`
	Threshold *float64    `json:"threshold,omitempty"`
	GateA     *GateConfig `json:"gateA,omitempty"`
	GateB     *GateConfig `json:"gateB,omitempty"`
}

// Merge returns p with the non-nil fields of u applied
func (p TestingParameters) Merge(u ParameterUpdate) TestingParameters {
	if u.Gain != nil {
		p.Gain = *u.Gain
	}
	if u.Filter != nil {
		p.Filter = *u.Filter
	}
	if u.Velocity != nil {
		p.Velocity = *u.Velocity
	}
	if u.Threshold != nil {
		p.Threshold = *u.Threshold
	}
	if u.GateA != nil {
		p.GateA = *u.GateA
	}
	if u.GateB != nil {
		p.GateB = *u.GateB
	}
	return p
}

// Ptr returns a pointer to v, handy for building a ParameterUpdate
func Ptr[T any](v T) *T {
	return &v
}
