// conf/validate.go
package conf

import (
	"fmt"
	"net/url"

	"github.com/tphakala/magtest/internal/model"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	ve.Errors = append(ve.Errors, validateAcquisitionSettings(&settings.Acquisition)...)
	ve.Errors = append(ve.Errors, validateTestingSettings(&settings.Testing)...)
	ve.Errors = append(ve.Errors, validateRemoteSettings(&settings.Remote)...)
	ve.Errors = append(ve.Errors, validateSyncSettings(&settings.Sync)...)
	ve.Errors = append(ve.Errors, validateAlarmSettings(&settings.Alarm)...)

	if settings.Storage.Path == "" {
		ve.Errors = append(ve.Errors, "storage.path must not be empty")
	}
	if settings.Storage.RetentionDays < 0 {
		ve.Errors = append(ve.Errors, "storage.retentiondays must not be negative")
	}
	if settings.Report.Standard != "" {
		if _, err := model.ParseStandard(settings.Report.Standard); err != nil {
			ve.Errors = append(ve.Errors, fmt.Sprintf("report.standard: %v", err))
		}
	}
	if settings.Telemetry.Sentry.Enabled && settings.Telemetry.Sentry.DSN == "" {
		ve.Errors = append(ve.Errors, "telemetry.sentry.dsn is required when sentry is enabled")
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateAcquisitionSettings(s *AcquisitionSettings) []string {
	var errs []string
	if s.SamplingRate <= 0 || s.SamplingRate > 10000 {
		errs = append(errs, "acquisition.samplingrate must be between 1 and 10000")
	}
	if s.NoiseLevel < 0 {
		errs = append(errs, "acquisition.noiselevel must not be negative")
	}
	if s.StallTolerance < 1 {
		errs = append(errs, "acquisition.stalltolerance must be at least 1")
	}
	if s.WaveformSize < 1 {
		errs = append(errs, "acquisition.waveformsize must be at least 1")
	}
	return errs
}

func validateTestingSettings(s *TestingSettings) []string {
	var errs []string
	params, err := s.Parameters()
	if err != nil {
		return append(errs, fmt.Sprintf("testing.filter: %v", err))
	}
	for _, fe := range model.ValidateParameters(params) {
		errs = append(errs, "testing."+fe.Error())
	}
	if s.FlushThreshold < 1 {
		errs = append(errs, "testing.flushthreshold must be at least 1")
	}
	if s.FlushInterval <= 0 {
		errs = append(errs, "testing.flushinterval must be positive")
	}
	return errs
}

func validateRemoteSettings(s *RemoteSettings) []string {
	var errs []string
	switch s.Driver {
	case "none", "":
	case "rest":
		if s.REST.URL == "" {
			errs = append(errs, "remote.rest.url is required for the rest driver")
		} else if u, err := url.Parse(s.REST.URL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Sprintf("remote.rest.url %q is not a valid URL", s.REST.URL))
		}
		if s.REST.RateLimit < 0 {
			errs = append(errs, "remote.rest.ratelimit must not be negative")
		}
	case "mysql":
		if s.MySQL.Host == "" || s.MySQL.Database == "" {
			errs = append(errs, "remote.mysql.host and remote.mysql.database are required for the mysql driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("remote.driver %q must be one of rest, mysql, none", s.Driver))
	}
	return errs
}

func validateSyncSettings(s *SyncSettings) []string {
	var errs []string
	if s.ChunkSize < 1 {
		errs = append(errs, "sync.chunksize must be at least 1")
	}
	if s.MaxRetries < 1 {
		errs = append(errs, "sync.maxretries must be at least 1")
	}
	if s.Delay < 0 || s.Interval < 0 || s.ConflictWindow < 0 {
		errs = append(errs, "sync durations must not be negative")
	}
	return errs
}

func validateAlarmSettings(s *AlarmSettings) []string {
	var errs []string
	if s.MinSeverity != "" && model.Severity(s.MinSeverity).Rank() == 0 {
		errs = append(errs, fmt.Sprintf("alarm.minseverity %q is not a severity", s.MinSeverity))
	}
	if s.MQTT.Enabled && s.MQTT.Broker == "" {
		errs = append(errs, "alarm.mqtt.broker is required when mqtt is enabled")
	}
	if s.Redis.Enabled && s.Redis.Addr == "" {
		errs = append(errs, "alarm.redis.addr is required when redis is enabled")
	}
	return errs
}
