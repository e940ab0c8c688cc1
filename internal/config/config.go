package config

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// FileName is the config file looked up in the config directory.
const FileName = "worldlog.cfg.json"

// RecorderConfig holds the recording engine settings
type RecorderConfig struct {
	TempDir           string  `json:"tempDir" mapstructure:"tempDir"`
	UseDisk           bool    `json:"useDisk" mapstructure:"useDisk"`
	StoreAllPositions bool    `json:"storeAllPositions" mapstructure:"storeAllPositions"`
	TickInterval      float64 `json:"tickInterval" mapstructure:"tickInterval"`
	TotalTime         float64 `json:"totalTime" mapstructure:"totalTime"`
	Method            string  `json:"method" mapstructure:"method"`
	HeapTolerance     uint64  `json:"heapTolerance" mapstructure:"heapTolerance"`
	MemoryLimit       uint64  `json:"memoryLimit" mapstructure:"memoryLimit"`
	ReadCacheSize     int     `json:"readCacheSize" mapstructure:"readCacheSize"`
}

// CatalogConfig selects the recording catalog database
type CatalogConfig struct {
	Type       string `json:"type" mapstructure:"type"` // "sqlite" or "postgres"
	SQLitePath string `json:"sqlitePath" mapstructure:"sqlitePath"`
}

// InfluxConfig holds the time-series export settings
type InfluxConfig struct {
	Enabled    bool   `json:"enabled" mapstructure:"enabled"`
	URL        string `json:"url" mapstructure:"url"`
	Token      string `json:"token" mapstructure:"token"`
	Org        string `json:"org" mapstructure:"org"`
	Bucket     string `json:"bucket" mapstructure:"bucket"`
	BackupPath string `json:"backupPath" mapstructure:"backupPath"`
}

// OtelConfig holds OpenTelemetry metrics settings
type OtelConfig struct {
	Enabled        bool          `json:"enabled" mapstructure:"enabled"`
	ServiceName    string        `json:"serviceName" mapstructure:"serviceName"`
	ExportInterval time.Duration `json:"exportInterval" mapstructure:"exportInterval"`
}

func defaultTempDir() string {
	name := os.Getenv("USER")
	if u, err := user.Current(); err == nil {
		name = u.Username
	}
	if name == "" {
		return filepath.Join(os.TempDir(), "worldlog")
	}
	return filepath.Join(os.TempDir(), "worldlog-"+filepath.Base(name))
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file.
func Load(configDir string) error {
	setDefaults()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	return nil
}

func setDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./worldlogs")

	viper.SetDefault("recorder.tempDir", defaultTempDir())
	viper.SetDefault("recorder.useDisk", true)
	viper.SetDefault("recorder.storeAllPositions", true)
	viper.SetDefault("recorder.tickInterval", 0.001)
	viper.SetDefault("recorder.totalTime", 20.0)
	viper.SetDefault("recorder.method", "")
	viper.SetDefault("recorder.heapTolerance", 4*1024*1024)
	viper.SetDefault("recorder.memoryLimit", 0)
	viper.SetDefault("recorder.readCacheSize", 256)

	viper.SetDefault("catalog.type", "sqlite")
	viper.SetDefault("catalog.sqlitePath", "./worldlog_catalog.db")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "worldlog")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.url", "http://localhost:8086")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "worldlog")
	viper.SetDefault("influx.bucket", "worldstates")
	viper.SetDefault("influx.backupPath", "./worldlog_influx_backup.lp.gz")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "worldlog")
	viper.SetDefault("otel.exportInterval", "10s")
}

// GetRecorderConfig returns the recorder settings.
func GetRecorderConfig() RecorderConfig {
	return RecorderConfig{
		TempDir:           viper.GetString("recorder.tempDir"),
		UseDisk:           viper.GetBool("recorder.useDisk"),
		StoreAllPositions: viper.GetBool("recorder.storeAllPositions"),
		TickInterval:      viper.GetFloat64("recorder.tickInterval"),
		TotalTime:         viper.GetFloat64("recorder.totalTime"),
		Method:            viper.GetString("recorder.method"),
		HeapTolerance:     viper.GetUint64("recorder.heapTolerance"),
		MemoryLimit:       viper.GetUint64("recorder.memoryLimit"),
		ReadCacheSize:     viper.GetInt("recorder.readCacheSize"),
	}
}

// GetCatalogConfig returns the catalog database settings.
func GetCatalogConfig() CatalogConfig {
	return CatalogConfig{
		Type:       viper.GetString("catalog.type"),
		SQLitePath: viper.GetString("catalog.sqlitePath"),
	}
}

// GetInfluxConfig returns the InfluxDB export settings.
func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled:    viper.GetBool("influx.enabled"),
		URL:        viper.GetString("influx.url"),
		Token:      viper.GetString("influx.token"),
		Org:        viper.GetString("influx.org"),
		Bucket:     viper.GetString("influx.bucket"),
		BackupPath: viper.GetString("influx.backupPath"),
	}
}

// GetOtelConfig returns the OpenTelemetry settings.
func GetOtelConfig() OtelConfig {
	return OtelConfig{
		Enabled:        viper.GetBool("otel.enabled"),
		ServiceName:    viper.GetString("otel.serviceName"),
		ExportInterval: viper.GetDuration("otel.exportInterval"),
	}
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}
