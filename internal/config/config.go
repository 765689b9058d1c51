// Package config assembles runtime settings for both executables.
//
// Sources, later ones winning:
//
//	defaults → JSON file (path from -config or CHECKINN_CONFIG) → environment
//
// Command-line flags are applied by each executable on top of the result.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Storage backends.
const (
	StorageSQLite = "sqlite"
	StorageMemory = "memory"
	StorageS3     = "s3"
)

// Config holds every setting either executable reads.
type Config struct {
	Port      int
	Storage   string
	DBPath    string
	S3        S3Config
	JWTSecret string
	Language  string
	LogLevel  string
	LogFormat string
	Apple     AppleConfig
}

// S3Config points at an S3-compatible bucket used as the document store.
type S3Config struct {
	Bucket    string `json:"bucket"`
	Region    string `json:"region"`
	Endpoint  string `json:"endpoint"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	Prefix    string `json:"prefix"`
}

// AppleConfig enables web Sign in with Apple and identity token
// verification. Empty ClientID means Apple sign-in is not verified.
type AppleConfig struct {
	ClientID       string `json:"client_id"`
	TeamID         string `json:"team_id"`
	KeyID          string `json:"key_id"`
	PrivateKeyPath string `json:"private_key_path"`
	CallbackURL    string `json:"callback_url"`
}

// Enabled reports whether an Apple Services ID is configured.
func (a AppleConfig) Enabled() bool {
	return a.ClientID != ""
}

// WebEnabled reports whether the browser redirect flow can run, which also
// needs the signing key.
func (a AppleConfig) WebEnabled() bool {
	return a.Enabled() && a.TeamID != "" && a.KeyID != "" && a.PrivateKeyPath != ""
}

// fileConfig is the JSON shape of a config file. Absent fields leave the
// current value alone.
type fileConfig struct {
	Port      *int         `json:"port"`
	Storage   *string      `json:"storage"`
	DBPath    *string      `json:"db_path"`
	S3        *S3Config    `json:"s3"`
	JWTSecret *string      `json:"jwt_secret"`
	Language  *string      `json:"language"`
	LogLevel  *string      `json:"log_level"`
	LogFormat *string      `json:"log_format"`
	Apple     *AppleConfig `json:"apple"`
}

// Defaults returns the development configuration.
func Defaults() *Config {
	return &Config{
		Port:      8080,
		Storage:   StorageSQLite,
		DBPath:    "data/checkinn.db",
		S3:        S3Config{Region: "us-east-1"},
		Language:  "system",
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load builds a Config from defaults, the JSON file at path (skipped when
// path is empty; CHECKINN_CONFIG is used when path is empty and it is set)
// and the environment read through getenv.
func Load(path string, getenv func(string) string) (*Config, error) {
	cfg := Defaults()

	if path == "" {
		path = getenv("CHECKINN_CONFIG")
	}
	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}

	var f fileConfig
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}

	setIf(&c.Port, f.Port)
	setIf(&c.Storage, f.Storage)
	setIf(&c.DBPath, f.DBPath)
	setIf(&c.S3, f.S3)
	setIf(&c.JWTSecret, f.JWTSecret)
	setIf(&c.Language, f.Language)
	setIf(&c.LogLevel, f.LogLevel)
	setIf(&c.LogFormat, f.LogFormat)
	setIf(&c.Apple, f.Apple)
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: invalid PORT %q: %w", v, err)
		}
		c.Port = port
	}

	vars := map[string]*string{
		"STORAGE":                &c.Storage,
		"DB_PATH":                &c.DBPath,
		"S3_BUCKET":              &c.S3.Bucket,
		"S3_REGION":              &c.S3.Region,
		"S3_ENDPOINT":            &c.S3.Endpoint,
		"S3_ACCESS_KEY":          &c.S3.AccessKey,
		"S3_SECRET_KEY":          &c.S3.SecretKey,
		"S3_PREFIX":              &c.S3.Prefix,
		"JWT_SECRET":             &c.JWTSecret,
		"CHECKINN_LANG":          &c.Language,
		"LOG_LEVEL":              &c.LogLevel,
		"LOG_FORMAT":             &c.LogFormat,
		"APPLE_CLIENT_ID":        &c.Apple.ClientID,
		"APPLE_TEAM_ID":          &c.Apple.TeamID,
		"APPLE_KEY_ID":           &c.Apple.KeyID,
		"APPLE_PRIVATE_KEY_PATH": &c.Apple.PrivateKeyPath,
		"APPLE_CALLBACK_URL":     &c.Apple.CallbackURL,
	}
	for key, dst := range vars {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	return nil
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	var errs []error

	switch strings.ToLower(c.Storage) {
	case StorageSQLite:
		if c.DBPath == "" {
			errs = append(errs, errors.New("db path is required for sqlite storage"))
		}
	case StorageMemory:
	case StorageS3:
		if c.S3.Bucket == "" {
			errs = append(errs, errors.New("S3_BUCKET is required for s3 storage"))
		}
		if (c.S3.AccessKey == "") != (c.S3.SecretKey == "") {
			errs = append(errs, errors.New("S3_ACCESS_KEY and S3_SECRET_KEY must be set together"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage %q (want sqlite, memory or s3)", c.Storage))
	}

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
