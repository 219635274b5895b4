// conf/utils.go
package conf

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/tphakala/magtest/internal/errors"
	"github.com/tphakala/magtest/internal/model"
)

// GetDefaultConfigPaths returns the directories searched for config.yaml,
// in priority order. The first entry is where a default file is created.
func GetDefaultConfigPaths() ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategorySystem).
			Context("operation", "get-home-directory").
			Build()
	}

	if runtime.GOOS == "windows" {
		return []string{filepath.Join(homeDir, "AppData", "Roaming", AppName), "."}, nil
	}
	return []string{
		filepath.Join(homeDir, ".config", AppName),
		filepath.Join("/etc", AppName),
		".",
	}, nil
}

// Gate converts gate settings to the domain type
func (g GateSettings) Gate() model.GateConfig {
	return model.GateConfig{
		Enabled:        g.Enabled,
		Start:          g.Start,
		Width:          g.Width,
		Height:         g.Height,
		AlarmThreshold: g.AlarmThreshold,
		Color:          g.Color,
	}
}

// Parameters builds the default session parameters from settings
func (s *TestingSettings) Parameters() (model.TestingParameters, error) {
	filter, err := model.ParseFilterType(s.Filter)
	if err != nil {
		return model.TestingParameters{}, err
	}
	return model.TestingParameters{
		Gain:      s.Gain,
		Filter:    filter,
		Velocity:  s.Velocity,
		Threshold: s.Threshold,
		GateA:     s.GateA.Gate(),
		GateB:     s.GateB.Gate(),
	}, nil
}
