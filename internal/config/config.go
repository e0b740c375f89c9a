// Package config resolves runtime settings from MICROSIM_* environment
// variables, optionally layered over a YAML file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"microsim/pkg/dataset"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "MICROSIM_"

// Config is the full set of runtime settings.
type Config struct {
	Log        Log        `yaml:"log"`
	Storage    Storage    `yaml:"storage"`
	Blob       Blob       `yaml:"blob"`
	Simulation Simulation `yaml:"simulation"`
}

// Log selects the slog handler.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Storage selects the dataset store backend.
type Storage struct {
	Driver      dataset.Driver `yaml:"driver"`
	SQLitePath  string         `yaml:"sqlite_path"`
	PostgresDSN string         `yaml:"postgres_dsn"`
	RedisAddr   string         `yaml:"redis_addr"`
}

// Blob configures the object store used by the blob dataset driver.
type Blob struct {
	Driver      string `yaml:"driver"`
	FSRoot      string `yaml:"fs_root"`
	S3Bucket    string `yaml:"s3_bucket"`
	S3Region    string `yaml:"s3_region"`
	S3Endpoint  string `yaml:"s3_endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// Simulation holds engine and derivative tuning.
type Simulation struct {
	Seed            uint64 `yaml:"seed"`
	DerivWorkers    int    `yaml:"deriv_workers"`
	DerivGroupLimit int    `yaml:"deriv_group_limit"`
	MaxDepth        int    `yaml:"max_depth"`
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		Log:     Log{Level: "info", Format: "text"},
		Storage: Storage{Driver: dataset.DriverMemory, SQLitePath: "microsim.db", RedisAddr: "localhost:6379"},
		Blob:    Blob{Driver: "fs", FSRoot: "./blobdata", S3Region: "us-east-1"},
		Simulation: Simulation{
			DerivGroupLimit: 2,
			MaxDepth:        512,
		},
	}
}

// Load reads MICROSIM_CONFIG, when set, over the defaults and then applies
// the remaining environment variables.
func Load() (Config, error) {
	return load(os.LookupEnv)
}

func load(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	if path, ok := lookup(EnvPrefix + "CONFIG"); ok && path != "" {
		var err error
		if cfg, err = LoadFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.apply(lookup); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// LoadFile reads a YAML file over the defaults. Keys absent from the file
// keep their default values.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// FromEnv applies environment variables to cfg without reading a file.
func FromEnv(cfg Config) (Config, error) {
	if err := cfg.apply(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) apply(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	integer := func(name string, dst *int) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = n
		return nil
	}

	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	driver := string(c.Storage.Driver)
	str("STORAGE_DRIVER", &driver)
	c.Storage.Driver = dataset.Driver(strings.ToLower(driver))
	str("SQLITE_PATH", &c.Storage.SQLitePath)
	str("POSTGRES_DSN", &c.Storage.PostgresDSN)
	str("REDIS_ADDR", &c.Storage.RedisAddr)
	str("BLOB_DRIVER", &c.Blob.Driver)
	str("BLOB_FS_ROOT", &c.Blob.FSRoot)
	str("BLOB_S3_BUCKET", &c.Blob.S3Bucket)
	str("BLOB_S3_REGION", &c.Blob.S3Region)
	str("BLOB_S3_ENDPOINT", &c.Blob.S3Endpoint)
	if v, ok := lookup(EnvPrefix + "BLOB_S3_PATH_STYLE"); ok && v != "" {
		c.Blob.S3PathStyle = strings.EqualFold(v, "true")
	}
	if v, ok := lookup(EnvPrefix + "SEED"); ok && v != "" {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%sSEED: %w", EnvPrefix, err)
		}
		c.Simulation.Seed = seed
	}
	for name, dst := range map[string]*int{
		"DERIV_WORKERS":     &c.Simulation.DerivWorkers,
		"DERIV_GROUP_LIMIT": &c.Simulation.DerivGroupLimit,
		"MAX_DEPTH":         &c.Simulation.MaxDepth,
	} {
		if err := integer(name, dst); err != nil {
			return err
		}
	}
	return nil
}

// Validate rejects unknown drivers and negative limits.
func (c Config) Validate() error {
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	switch c.Storage.Driver {
	case dataset.DriverMemory, dataset.DriverSQLite, dataset.DriverPostgres, dataset.DriverRedis, dataset.DriverBlob:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Blob.Driver {
	case "fs", "s3", "memory":
	default:
		return fmt.Errorf("unknown blob driver %q", c.Blob.Driver)
	}
	if c.Simulation.DerivWorkers < 0 || c.Simulation.DerivGroupLimit < 0 || c.Simulation.MaxDepth < 0 {
		return fmt.Errorf("simulation limits must not be negative")
	}
	return nil
}
