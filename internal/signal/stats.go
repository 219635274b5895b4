package signal

import (
	"math"

	"github.com/tphakala/magtest/internal/model"
)

// Summary describes a run of samples
type Summary struct {
	Count        int     `json:"count"`
	Average      float64 `json:"average"`
	Max          float64 `json:"max"`
	Min          float64 `json:"min"`
	PositionFrom float64 `json:"positionFrom"`
	PositionTo   float64 `json:"positionTo"`
}

// Summarize computes amplitude statistics and the position range. An empty
// input yields the zero Summary.
func Summarize(samples []model.SignalSample) Summary {
	if len(samples) == 0 {
		return Summary{}
	}
	s := Summary{
		Count:        len(samples),
		Max:          math.Inf(-1),
		Min:          math.Inf(1),
		PositionFrom: math.Inf(1),
		PositionTo:   math.Inf(-1),
	}
	var sum float64
	for i := range samples {
		a := samples[i].Amplitude
		sum += a
		s.Max = math.Max(s.Max, a)
		s.Min = math.Min(s.Min, a)
		s.PositionFrom = math.Min(s.PositionFrom, samples[i].Position)
		s.PositionTo = math.Max(s.PositionTo, samples[i].Position)
	}
	s.Average = sum / float64(len(samples))
	return s
}
