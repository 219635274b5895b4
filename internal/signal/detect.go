package signal

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/tphakala/magtest/internal/model"
)

// DefaultMinSeparation is the conventional dedupe window in position units
const DefaultMinSeparation = 0.1

// Severity ratio boundaries, amplitude / effective threshold
const (
	criticalRatio = 3.0
	highRatio     = 2.0
	mediumRatio   = 1.5
)

// DetectDefects evaluates each sample against gates A and B. A sample inside
// both gates reports "both" and uses the lower of the two alarm thresholds.
// threshold is the session threshold; it never replaces a gate alarm
// threshold, even one of 0. Adjacent triggers are not merged; see
// DedupeDefects.
func DetectDefects(samples []model.SignalSample, threshold float64, gateA, gateB model.GateConfig) []model.Defect {
	var defects []model.Defect
	for i := range samples {
		s := &samples[i]
		inA := gateA.Contains(s.Position, s.Amplitude)
		inB := gateB.Contains(s.Position, s.Amplitude)

		var trigger model.GateTrigger
		var alarm float64
		switch {
		case inA && inB:
			trigger = model.GateBoth
			alarm = math.Min(gateA.AlarmThreshold, gateB.AlarmThreshold)
		case inA:
			trigger = model.GateA
			alarm = gateA.AlarmThreshold
		case inB:
			trigger = model.GateB
			alarm = gateB.AlarmThreshold
		default:
			continue
		}

		amp := math.Abs(s.Amplitude)
		if amp <= alarm {
			continue
		}
		defects = append(defects, model.Defect{
			ID:            uuid.NewString(),
			Position:      s.Position,
			Amplitude:     amp,
			Severity:      ClassifySeverity(amp, alarm),
			Timestamp:     time.UnixMilli(s.Timestamp),
			GateTriggered: trigger,
		})
	}
	return defects
}

// ClassifySeverity maps amplitude/threshold to a severity
func ClassifySeverity(amplitude, threshold float64) model.Severity {
	if threshold <= 0 {
		return model.SeverityCritical
	}
	ratio := math.Abs(amplitude) / threshold
	switch {
	case ratio >= criticalRatio:
		return model.SeverityCritical
	case ratio >= highRatio:
		return model.SeverityHigh
	case ratio >= mediumRatio:
		return model.SeverityMedium
	default:
		return model.SeverityLow
	}
}

// DedupeDefects returns the candidates that lie more than minSeparation away
// from every existing defect and every candidate accepted before them.
func DedupeDefects(existing, candidates []model.Defect, minSeparation float64) []model.Defect {
	accepted := make([]model.Defect, 0, len(candidates))
	near := func(pos float64, list []model.Defect) bool {
		for i := range list {
			if math.Abs(list[i].Position-pos) <= minSeparation {
				return true
			}
		}
		return false
	}
	for _, c := range candidates {
		if near(c.Position, existing) || near(c.Position, accepted) {
			continue
		}
		accepted = append(accepted, c)
	}
	return accepted
}
