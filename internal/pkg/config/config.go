package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	SQLite    SQLiteConfig    `mapstructure:"sqlite"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Valkey    ValkeyConfig    `mapstructure:"valkey"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Temporal  TemporalConfig  `mapstructure:"temporal"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	ArcGIS    ArcGISConfig    `mapstructure:"arcgis"`
	OpenTopo  OpenTopoConfig  `mapstructure:"opentopo"`
	Weather   WeatherConfig   `mapstructure:"weather"`
}

type ServerConfig struct {
	Port         int `mapstructure:"port"`
	ReadTimeout  int `mapstructure:"read_timeout"`
	WriteTimeout int `mapstructure:"write_timeout"`
	RateLimit    int `mapstructure:"rate_limit"` // requests per minute per IP, 0 disables
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	MaxConns int32  `mapstructure:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type NATSConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

type ValkeyConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	Prefix  string `mapstructure:"prefix"`
}

type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
	TempoAddr   string `mapstructure:"tempo_addr"`
	Enabled     bool   `mapstructure:"enabled"`
}

type TemporalConfig struct {
	HostPort  string `mapstructure:"host_port"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

// Backends.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreFile     = "file"

	RunnerLocal    = "local"
	RunnerTemporal = "temporal"
)

type PipelineConfig struct {
	LayersFile       string        `mapstructure:"layers_file"`
	SessionStore     string        `mapstructure:"session_store"`
	ArtifactStore    string        `mapstructure:"artifact_store"`
	ArtifactRoot     string        `mapstructure:"artifact_root"`
	Runner           string        `mapstructure:"runner"`
	RunTimeout       time.Duration `mapstructure:"run_timeout"`
	BufferDegrees    float64       `mapstructure:"buffer_degrees"`
	FetchConcurrency int           `mapstructure:"fetch_concurrency"`
	LayerCacheTTL    int           `mapstructure:"layer_cache_ttl"`

	// Ground distance between elevation samples, in meters.
	HorizontalResolution float64 `mapstructure:"horizontal_resolution"`
}

type ArcGISConfig struct {
	Timeout  time.Duration `mapstructure:"timeout"`
	PageSize int           `mapstructure:"page_size"`
	MaxPages int           `mapstructure:"max_pages"`
}

type OpenTopoConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	DEMType string        `mapstructure:"dem_type"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type WeatherConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	APIKey   string        `mapstructure:"api_key"`
	Timeout  time.Duration `mapstructure:"timeout"`
	CacheTTL int           `mapstructure:"cache_ttl"`
}

// Load reads configuration from file and environment variables.
func Load(service string) (*Config, error) {
	v := viper.New()
	setDefaults(v, service)

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	_ = v.ReadInConfig() // OK if missing

	// Environment variables: TRAILKIT_PIPELINE_RUNNER → pipeline.runner
	v.SetEnvPrefix("TRAILKIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Provider keys keep their conventional names.
	_ = v.BindEnv("opentopo.api_key", "TRAILKIT_OPENTOPO_API_KEY", "OPEN_TOPO_API_KEY")
	_ = v.BindEnv("weather.api_key", "TRAILKIT_WEATHER_API_KEY", "OPENWEATHER_API_KEY")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper, service string) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10)
	v.SetDefault("server.write_timeout", 30)
	v.SetDefault("server.rate_limit", 120)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "trailkit")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "trailkit")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("sqlite.path", "data/trailkit.db")
	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("valkey.enabled", false)
	v.SetDefault("valkey.addr", "localhost:6379")
	v.SetDefault("valkey.prefix", "trailkit")
	v.SetDefault("telemetry.service_name", service)
	v.SetDefault("telemetry.tempo_addr", "tempo:4317")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "trailkit-enrichment")
	v.SetDefault("pipeline.layers_file", "configs/layers.toml")
	v.SetDefault("pipeline.session_store", StoreMemory)
	v.SetDefault("pipeline.artifact_store", StoreFile)
	v.SetDefault("pipeline.artifact_root", "data/artifacts")
	v.SetDefault("pipeline.runner", RunnerLocal)
	v.SetDefault("pipeline.run_timeout", 10*time.Minute)
	v.SetDefault("pipeline.buffer_degrees", 0.001)
	v.SetDefault("pipeline.fetch_concurrency", 1)
	v.SetDefault("pipeline.layer_cache_ttl", 0)
	v.SetDefault("pipeline.horizontal_resolution", 30.0)
	v.SetDefault("arcgis.timeout", 60*time.Second)
	v.SetDefault("arcgis.page_size", 0)
	v.SetDefault("arcgis.max_pages", 20)
	v.SetDefault("opentopo.base_url", "https://portal.opentopography.org/API/globaldem")
	v.SetDefault("opentopo.dem_type", "SRTMGL3")
	v.SetDefault("opentopo.timeout", 120*time.Second)
	v.SetDefault("weather.base_url", "https://api.openweathermap.org")
	v.SetDefault("weather.timeout", 10*time.Second)
	v.SetDefault("weather.cache_ttl", 600)
}

// Validate checks that required configuration fields are present and sane.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, "server.read_timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, "server.write_timeout must be positive")
	}

	p := c.Pipeline
	switch p.SessionStore {
	case StoreMemory, StoreSQLite, StorePostgres:
	default:
		errs = append(errs, fmt.Sprintf("pipeline.session_store must be memory, sqlite or postgres, got %q", p.SessionStore))
	}
	switch p.ArtifactStore {
	case StoreFile, StorePostgres:
	default:
		errs = append(errs, fmt.Sprintf("pipeline.artifact_store must be file or postgres, got %q", p.ArtifactStore))
	}
	switch p.Runner {
	case RunnerLocal, RunnerTemporal:
	default:
		errs = append(errs, fmt.Sprintf("pipeline.runner must be local or temporal, got %q", p.Runner))
	}
	if p.LayersFile == "" {
		errs = append(errs, "pipeline.layers_file is required")
	}
	if p.ArtifactStore == StoreFile && p.ArtifactRoot == "" {
		errs = append(errs, "pipeline.artifact_root is required for the file artifact store")
	}
	if p.RunTimeout <= 0 {
		errs = append(errs, "pipeline.run_timeout must be positive")
	}
	if p.BufferDegrees <= 0 {
		errs = append(errs, "pipeline.buffer_degrees must be positive")
	}
	if p.FetchConcurrency < 1 {
		errs = append(errs, "pipeline.fetch_concurrency must be at least 1")
	}

	if c.UsesPostgres() {
		if c.Database.Host == "" {
			errs = append(errs, "database.host is required")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", c.Database.Port))
		}
		if c.Database.User == "" {
			errs = append(errs, "database.user is required")
		}
		if c.Database.DBName == "" {
			errs = append(errs, "database.dbname is required")
		}
	}
	if p.SessionStore == StoreSQLite && c.SQLite.Path == "" {
		errs = append(errs, "sqlite.path is required")
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		errs = append(errs, "nats.url is required")
	}
	if c.Valkey.Enabled && c.Valkey.Addr == "" {
		errs = append(errs, "valkey.addr is required")
	}
	if p.Runner == RunnerTemporal {
		if c.Temporal.HostPort == "" {
			errs = append(errs, "temporal.host_port is required")
		}
		if c.Temporal.TaskQueue == "" {
			errs = append(errs, "temporal.task_queue is required")
		}
	}
	if c.ArcGIS.Timeout <= 0 {
		errs = append(errs, "arcgis.timeout must be positive")
	}
	if c.OpenTopo.Timeout <= 0 {
		errs = append(errs, "opentopo.timeout must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// UsesPostgres reports whether any backend needs the database section.
func (c *Config) UsesPostgres() bool {
	return c.Pipeline.SessionStore == StorePostgres || c.Pipeline.ArtifactStore == StorePostgres
}
