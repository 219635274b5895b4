// Package conf loads and validates magtest settings
package conf

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/magtest/internal/logger"
)

//go:embed config.yaml
var configFiles embed.FS

// AppName is used for config directories and the env prefix
const AppName = "magtest"

// MainSettings contains application identity
type MainSettings struct {
	Name       string // instrument name shown in logs and reports
	OperatorID string // default operator when none is given
}

// AcquisitionSettings configures the acquisition loop and synthetic source
type AcquisitionSettings struct {
	SamplingRate   int     // samples per second
	Frequency      float64 // synthetic carrier frequency in Hz
	Amplitude      float64 // synthetic carrier amplitude
	NoiseLevel     float64 // peak-to-peak uniform noise
	StallTolerance int     // consecutive source failures before the loop stops
	WaveformSize   int     // samples kept for waveform snapshots
}

// GateSettings mirrors model.GateConfig for configuration files
type GateSettings struct {
	Enabled        bool
	Start          float64
	Width          float64
	Height         float64
	AlarmThreshold float64
	Color          string
}

// TestingSettings contains default session parameters and flush policy
type TestingSettings struct {
	Gain             float64
	Filter           string
	Velocity         float64
	Threshold        float64
	GateA            GateSettings
	GateB            GateSettings
	FlushThreshold   int           // buffered samples that trigger a flush
	FlushInterval    time.Duration // how often the flush threshold is checked
	DedupeSeparation float64       // minimum position gap between two defects
}

// StorageSettings configures the local offline database
type StorageSettings struct {
	Path          string        // sqlite database file
	RetentionDays int           // synced sessions older than this are purged by clean
	SlowQuery     time.Duration // slow query warning threshold, 0 disables
}

// RESTSettings configures the hosted REST backend
type RESTSettings struct {
	URL        string
	APIKey     string
	Bucket     string // object storage bucket for report files
	Timeout    time.Duration
	RetryCount int
	RateLimit  float64       // requests per second, 0 disables limiting
	Burst      int           // rate limiter burst
	CacheTTL   time.Duration // read cache lifetime, 0 disables caching
}

// MySQLSettings configures the SQL backend
type MySQLSettings struct {
	Host      string
	Port      string
	Username  string
	Password  string
	Database  string
	PublicURL string // prefix used to build report file URLs
}

// RemoteSettings selects and configures the remote store
type RemoteSettings struct {
	Driver string // rest, mysql or none
	REST   RESTSettings
	MySQL  MySQLSettings
}

// NetworkSettings configures connectivity monitoring
type NetworkSettings struct {
	HealthURL     string // base URL probed at /api/health; empty disables probing
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration
	SlowDownlink  float64 // Mbps below which the link is considered slow
}

// SyncSettings configures the sync engine
type SyncSettings struct {
	Auto           bool          // sync automatically when connectivity returns
	Delay          time.Duration // stabilization delay after coming online
	Interval       time.Duration // periodic sync interval, 0 disables
	ChunkSize      int           // signal rows per remote insert
	MaxRetries     int           // items at this retry count block their session
	ConflictWindow time.Duration // timestamp difference tolerated before a conflict
}

// MQTTSettings contains settings for MQTT alarm publishing
type MQTTSettings struct {
	Enabled  bool
	Broker   string // tcp://host:port
	Topic    string // base topic
	Username string
	Password string
	Retain   bool
}

// RedisSettings contains settings for the Redis stream alarm sink
type RedisSettings struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	Stream   string
	MaxLen   int64
}

// AlarmSettings configures defect alarm fan-out
type AlarmSettings struct {
	MinSeverity string // lowest severity forwarded to sinks
	BufferSize  int
	Workers     int
	MQTT        MQTTSettings
	Redis       RedisSettings
}

// PrometheusSettings configures the metrics endpoint
type PrometheusSettings struct {
	Enabled bool
	Listen  string
}

// SentrySettings configures error telemetry
type SentrySettings struct {
	Enabled     bool
	DSN         string
	Environment string
	SampleRate  float64
}

// TelemetrySettings groups observability settings
type TelemetrySettings struct {
	Prometheus PrometheusSettings
	Sentry     SentrySettings
}

// ReportSettings holds report defaults
type ReportSettings struct {
	CompanyName     string
	EquipmentModel  string
	EquipmentSerial string
	TestLocation    string
	Standard        string
	OutputDir       string
}

// Settings contains all configuration options
type Settings struct {
	Debug       bool
	Main        MainSettings
	Logging     logger.LoggingConfig
	Acquisition AcquisitionSettings
	Testing     TestingSettings
	Storage     StorageSettings
	Remote      RemoteSettings
	Network     NetworkSettings
	Sync        SyncSettings
	Alarm       AlarmSettings
	Telemetry   TelemetrySettings
	Report      ReportSettings
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads configuration from the default search paths, creating a
// default config file when none exists.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}
	return unmarshalAndValidate()
}

// LoadFile reads configuration from an explicit file path
func LoadFile(path string) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	configureViper()
	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}
	return unmarshalAndValidate()
}

func unmarshalAndValidate() (*Settings, error) {
	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}
	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}
	settingsInstance = settings
	return settings, nil
}

// Setting returns the loaded settings, loading them on first use
func Setting() *Settings {
	settingsMutex.RLock()
	s := settingsInstance
	settingsMutex.RUnlock()
	if s != nil {
		return s
	}
	s, err := Load()
	if err != nil {
		// fall back to defaults so commands like --help still work
		configureViper()
		s = &Settings{}
		_ = viper.Unmarshal(s)
	}
	return s
}

func configureViper() {
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix(strings.ToUpper(AppName))
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	setDefaultConfig()
}

// initViper initializes viper with default values and reads the configuration file
func initViper() error {
	viper.SetConfigName("config")
	configureViper()

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			return createDefaultConfig(configPaths[0])
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}
	return nil
}

// createDefaultConfig writes the embedded default config into dir
func createDefaultConfig(dir string) error {
	configPath := filepath.Join(dir, "config.yaml")

	data, err := configFiles.ReadFile("config.yaml")
	if err != nil {
		return fmt.Errorf("error reading embedded config: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	fmt.Println("Created default config file at:", configPath)
	return viper.ReadInConfig()
}

// SaveYAMLConfig writes settings to configPath atomically
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer os.Remove(tempFileName)

	if _, err := tempFile.Write(yamlData); err != nil {
		tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := os.Rename(tempFileName, configPath); err != nil {
		return fmt.Errorf("error replacing config file: %w", err)
	}
	return nil
}
