package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	"dvfcli/internal/geo"
)

// EnvPrefix namespaces every environment variable (DVF_PIPELINE_TOP_N, ...).
const EnvPrefix = "DVF"

// Config represents the complete application configuration
type Config struct {
	Logging       LoggingConfig       `yaml:"logging" envconfig:"LOGGING"`
	Paths         PathsConfig         `yaml:"paths" envconfig:"PATHS"`
	Pipeline      PipelineConfig      `yaml:"pipeline" envconfig:"PIPELINE"`
	Sinks         SinksConfig         `yaml:"sinks" envconfig:"SINKS"`
	Observability ObservabilityConfig `yaml:"observability" envconfig:"OBSERVABILITY"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" validate:"oneof=debug info warn error"`
	Format   string `yaml:"format" envconfig:"FORMAT" validate:"oneof=json text"`
	Output   string `yaml:"output" envconfig:"OUTPUT" validate:"oneof=console file both"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH" validate:"required_unless=Output console"`
}

// PathsConfig locates the inputs and the output directory.
type PathsConfig struct {
	Ledger      string `yaml:"ledger" envconfig:"LEDGER" validate:"required"`
	Departments string `yaml:"departments" envconfig:"DEPARTMENTS" validate:"required"`
	Regions     string `yaml:"regions" envconfig:"REGIONS"`
	Communes    string `yaml:"communes" envconfig:"COMMUNES"`
	Iris        string `yaml:"iris" envconfig:"IRIS"`
	OutputDir   string `yaml:"output_dir" envconfig:"OUTPUT_DIR" validate:"required"`
	LogsDir     string `yaml:"logs_dir" envconfig:"LOGS_DIR"`
}

// PipelineConfig holds the processing parameters.
type PipelineConfig struct {
	// ReferenceYear anchors time adjustment and spans; 0 derives it from the data.
	ReferenceYear        int           `yaml:"reference_year" envconfig:"REFERENCE_YEAR" validate:"gte=0"`
	IQRMinGroup          int           `yaml:"iqr_min_group" envconfig:"IQR_MIN_GROUP" validate:"gte=1"`
	IQRMultiplier        float64       `yaml:"iqr_multiplier" envconfig:"IQR_MULTIPLIER" validate:"gt=0"`
	ChunkSize            int           `yaml:"chunk_size" envconfig:"CHUNK_SIZE" validate:"gte=1"`
	Workers              int           `yaml:"workers" envconfig:"WORKERS" validate:"gte=0"`
	IrisCRS              string        `yaml:"iris_crs" envconfig:"IRIS_CRS"`
	TopN                 int           `yaml:"top_n" envconfig:"TOP_N" validate:"gte=1"`
	MergeArrondissements bool          `yaml:"merge_arrondissements" envconfig:"MERGE_ARRONDISSEMENTS"`
	Formats              []string      `yaml:"formats" envconfig:"FORMATS" validate:"dive,oneof=csv json xlsx"`
	StageTimeout         time.Duration `yaml:"stage_timeout" envconfig:"STAGE_TIMEOUT" validate:"gte=0"`
}

// SinksConfig enables the optional relational sinks.
type SinksConfig struct {
	PostgresDSN    string `yaml:"postgres_dsn" envconfig:"POSTGRES_DSN"`
	PostgresSchema string `yaml:"postgres_schema" envconfig:"POSTGRES_SCHEMA"`
	SQLitePath     string `yaml:"sqlite_path" envconfig:"SQLITE_PATH"`
}

// ObservabilityConfig controls tracing, metrics and the status server.
type ObservabilityConfig struct {
	Tracing         bool    `yaml:"tracing" envconfig:"TRACING"`
	Metrics         bool    `yaml:"metrics" envconfig:"METRICS"`
	MetricsTextfile string  `yaml:"metrics_textfile" envconfig:"METRICS_TEXTFILE"`
	StatusAddr      string  `yaml:"status_addr" envconfig:"STATUS_ADDR" validate:"omitempty,hostname_port"`
	RateLimit       float64 `yaml:"rate_limit" envconfig:"RATE_LIMIT" validate:"gt=0"`
	RateBurst       int     `yaml:"rate_burst" envconfig:"RATE_BURST" validate:"gte=1"`
}

// Load builds the configuration from defaults, the YAML file at path (or the first
// config.yaml found when path is empty), a .env file and DVF_* variables, in
// increasing order of precedence.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = getConfigFilePath()
	}
	if path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFromFile overlays the keys present in a YAML file onto cfg.
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// getConfigFilePath returns the first config file found in the usual locations.
func getConfigFilePath() string {
	for _, location := range []string{"config.yaml", "configs/config.yaml"} {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}
	return ""
}

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, len(verrs))
			for i, fe := range verrs {
				fields[i] = fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag())
			}
			return fmt.Errorf("invalid fields: %s", strings.Join(fields, ", "))
		}
		return err
	}
	if _, err := geo.ParseCRS(c.Pipeline.IrisCRS); err != nil {
		return fmt.Errorf("pipeline.iris_crs: %w", err)
	}
	return nil
}

// WorkerCount resolves Pipeline.Workers, 0 meaning one per CPU.
func (c *Config) WorkerCount() int {
	if c.Pipeline.Workers > 0 {
		return c.Pipeline.Workers
	}
	return runtime.NumCPU()
}

// ExportsFormat reports whether an output format is enabled.
func (c *Config) ExportsFormat(format string) bool {
	for _, f := range c.Pipeline.Formats {
		if strings.EqualFold(f, format) {
			return true
		}
	}
	return false
}

// OutputPaths returns the output layout of the configured directories.
func (c *Config) OutputPaths() *Paths {
	return NewPaths(c.Paths.OutputDir, c.Paths.LogsDir)
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "console",
			FilePath: "logs/dvf.log",
		},
		Paths: PathsConfig{
			OutputDir: DefaultOutputDir,
			LogsDir:   DefaultLogsDir,
		},
		Pipeline: PipelineConfig{
			ReferenceYear:        DefaultReferenceYear,
			IQRMinGroup:          DefaultIQRMinGroup,
			IQRMultiplier:        DefaultIQRMultiplier,
			ChunkSize:            DefaultChunkSize,
			IrisCRS:              string(geo.CRSLambert93),
			TopN:                 DefaultTopN,
			MergeArrondissements: true,
			Formats:              []string{"csv", "json", "xlsx"},
			StageTimeout:         DefaultStageTimeout,
		},
		Sinks: SinksConfig{
			PostgresSchema: "public",
		},
		Observability: ObservabilityConfig{
			RateLimit: DefaultRateLimit,
			RateBurst: DefaultBurstSize,
		},
	}
}
