// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "DOPPLER MT-2000")
	viper.SetDefault("main.operatorid", "operator")

	viper.SetDefault("logging.default_level", "info")
	viper.SetDefault("logging.timezone", "Local")
	viper.SetDefault("logging.console.enabled", true)
	viper.SetDefault("logging.console.level", "info")
	viper.SetDefault("logging.file_output.enabled", false)
	viper.SetDefault("logging.file_output.path", "logs/magtest.log")
	viper.SetDefault("logging.file_output.level", "info")

	viper.SetDefault("acquisition.samplingrate", 100)
	viper.SetDefault("acquisition.frequency", 100.0)
	viper.SetDefault("acquisition.amplitude", 1.0)
	viper.SetDefault("acquisition.noiselevel", 0.1)
	viper.SetDefault("acquisition.stalltolerance", 5)
	viper.SetDefault("acquisition.waveformsize", 1000)

	viper.SetDefault("testing.gain", 40.0)
	viper.SetDefault("testing.filter", "bandpass")
	viper.SetDefault("testing.velocity", 1.0)
	viper.SetDefault("testing.threshold", 1.0)
	viper.SetDefault("testing.gatea.enabled", true)
	viper.SetDefault("testing.gatea.start", 0.0)
	viper.SetDefault("testing.gatea.width", 1.0)
	viper.SetDefault("testing.gatea.height", 5.0)
	viper.SetDefault("testing.gatea.alarmthreshold", 1.5)
	viper.SetDefault("testing.gatea.color", "#FFD700")
	viper.SetDefault("testing.gateb.enabled", true)
	viper.SetDefault("testing.gateb.start", 1.0)
	viper.SetDefault("testing.gateb.width", 1.0)
	viper.SetDefault("testing.gateb.height", 5.0)
	viper.SetDefault("testing.gateb.alarmthreshold", 2.0)
	viper.SetDefault("testing.gateb.color", "#FF69B4")
	viper.SetDefault("testing.flushthreshold", 100)
	viper.SetDefault("testing.flushinterval", time.Second)
	viper.SetDefault("testing.dedupeseparation", 0.1)

	viper.SetDefault("storage.path", "magtest.db")
	viper.SetDefault("storage.retentiondays", 30)
	viper.SetDefault("storage.slowquery", 200*time.Millisecond)

	viper.SetDefault("remote.driver", "none")
	viper.SetDefault("remote.rest.url", "")
	viper.SetDefault("remote.rest.apikey", "")
	viper.SetDefault("remote.rest.bucket", "reports")
	viper.SetDefault("remote.rest.timeout", 30*time.Second)
	viper.SetDefault("remote.rest.retrycount", 3)
	viper.SetDefault("remote.rest.ratelimit", 10.0)
	viper.SetDefault("remote.rest.burst", 5)
	viper.SetDefault("remote.rest.cachettl", 5*time.Minute)
	viper.SetDefault("remote.mysql.host", "localhost")
	viper.SetDefault("remote.mysql.port", "3306")
	viper.SetDefault("remote.mysql.username", "magtest")
	viper.SetDefault("remote.mysql.password", "")
	viper.SetDefault("remote.mysql.database", "magtest")
	viper.SetDefault("remote.mysql.publicurl", "")

	viper.SetDefault("network.healthurl", "")
	viper.SetDefault("network.probeinterval", 30*time.Second)
	viper.SetDefault("network.probetimeout", 5*time.Second)
	viper.SetDefault("network.slowdownlink", 0.5)

	viper.SetDefault("sync.auto", true)
	viper.SetDefault("sync.delay", 2*time.Second)
	viper.SetDefault("sync.interval", time.Minute)
	viper.SetDefault("sync.chunksize", 1000)
	viper.SetDefault("sync.maxretries", 5)
	viper.SetDefault("sync.conflictwindow", time.Second)

	viper.SetDefault("alarm.minseverity", "medium")
	viper.SetDefault("alarm.buffersize", 1000)
	viper.SetDefault("alarm.workers", 2)
	viper.SetDefault("alarm.mqtt.enabled", false)
	viper.SetDefault("alarm.mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("alarm.mqtt.topic", "magtest")
	viper.SetDefault("alarm.mqtt.retain", false)
	viper.SetDefault("alarm.redis.enabled", false)
	viper.SetDefault("alarm.redis.addr", "localhost:6379")
	viper.SetDefault("alarm.redis.db", 0)
	viper.SetDefault("alarm.redis.stream", "magtest:defects")
	viper.SetDefault("alarm.redis.maxlen", 10000)

	viper.SetDefault("telemetry.prometheus.enabled", false)
	viper.SetDefault("telemetry.prometheus.listen", "0.0.0.0:8090")
	viper.SetDefault("telemetry.sentry.enabled", false)
	viper.SetDefault("telemetry.sentry.environment", "production")
	viper.SetDefault("telemetry.sentry.samplerate", 1.0)

	viper.SetDefault("report.companyname", "DOPPLER")
	viper.SetDefault("report.equipmentmodel", "DOPPLER MT-2000")
	viper.SetDefault("report.standard", "ASME")
	viper.SetDefault("report.outputdir", "reports")
}
