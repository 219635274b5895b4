package model

import (
	"math"
	"slices"
)

// Preset ids
const (
	PresetASME   = "ASME-V-Article-7"
	PresetISO    = "ISO-9712-Level-2"
	PresetEN     = "EN-10228"
	PresetASTM   = "ASTM-E709"
	PresetCustom = "CUSTOM"
)

// Preset is a named parameter set recommended by an inspection standard
type Preset struct {
	ID           string
	Name         string
	Description  string
	Standard     Standard
	ReferenceURL string
	Parameters   TestingParameters
}

// Tolerances used by MatchPreset
const (
	gainTolerance  = 0.1
	valueTolerance = 0.01
)

func presetGates(width, height, alarmA, alarmB float64) (GateConfig, GateConfig) {
	defaults := DefaultParameters()
	a := GateConfig{Enabled: true, Start: 0, Width: width, Height: height, AlarmThreshold: alarmA, Color: defaults.GateA.Color}
	b := GateConfig{Enabled: true, Start: width, Width: width, Height: height, AlarmThreshold: alarmB, Color: defaults.GateB.Color}
	return a, b
}

func newPreset(id, name, desc string, std Standard, ref string, gain float64, filter FilterType, velocity, threshold, width, height, alarmA, alarmB float64) Preset {
	a, b := presetGates(width, height, alarmA, alarmB)
	return Preset{
		ID:           id,
		Name:         name,
		Description:  desc,
		Standard:     std,
		ReferenceURL: ref,
		Parameters: TestingParameters{
			Gain:      gain,
			Filter:    filter,
			Velocity:  velocity,
			Threshold: threshold,
			GateA:     a,
			GateB:     b,
		},
	}
}

// presets are kept in display order; the custom preset is last
func presets() []Preset {
	return []Preset{
		newPreset(PresetASME, "ASME Section V, Article 7",
			"ASME Boiler and Pressure Vessel Code, magnetic particle testing",
			StandardASME, "https://www.asme.org/codes-standards/find-codes-standards/bpvc-v-nde",
			60, FilterBandpass, 1.0, 1.2, 100, 5.0, 1.5, 2.0),
		newPreset(PresetISO, "ISO 9712 Level 2",
			"Qualification and certification of NDT personnel, level 2",
			StandardISO, "https://www.iso.org/standard/57037.html",
			55, FilterBandpass, 0.8, 1.0, 120, 4.5, 1.3, 1.8),
		newPreset(PresetEN, "EN 10228",
			"Non-destructive testing of steel forgings",
			StandardEN, "https://www.en-standard.eu/bs-en-10228-3-2016-non-destructive-testing-of-steel-forgings-magnetic-particle-inspection/",
			65, FilterLowpass, 1.2, 1.4, 80, 6.0, 1.6, 2.2),
		newPreset(PresetASTM, "ASTM E709",
			"Standard guide for magnetic particle testing",
			StandardASTM, "https://www.astm.org/e0709-21.html",
			58, FilterBandpass, 0.9, 1.1, 110, 5.5, 1.4, 1.9),
		{
			ID:          PresetCustom,
			Name:        "Custom",
			Description: "User-defined parameter configuration",
			Standard:    StandardCustom,
			Parameters:  DefaultParameters(),
		},
	}
}

// Presets returns every preset
func Presets() []Preset {
	return presets()
}

// PresetByID looks a preset up by id
func PresetByID(id string) (Preset, bool) {
	all := presets()
	i := slices.IndexFunc(all, func(p Preset) bool { return p.ID == id })
	if i < 0 {
		return Preset{}, false
	}
	return all[i], true
}

// PresetParameters returns a copy of the parameters of preset id
func PresetParameters(id string) (TestingParameters, bool) {
	p, ok := PresetByID(id)
	return p.Parameters, ok
}

// MatchPreset returns the id of the standard preset whose gain, filter,
// velocity and threshold match p, or PresetCustom. Gate geometry is not
// compared.
func MatchPreset(p TestingParameters) string {
	for _, preset := range presets() {
		if preset.ID == PresetCustom {
			continue
		}
		q := preset.Parameters
		if math.Abs(p.Gain-q.Gain) < gainTolerance &&
			p.Filter == q.Filter &&
			math.Abs(p.Velocity-q.Velocity) < valueTolerance &&
			math.Abs(p.Threshold-q.Threshold) < valueTolerance {
			return preset.ID
		}
	}
	return PresetCustom
}
