package appconf

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables recognised by ApplyEnvironment.
const (
	EnvAPIKey        = "BODS_API_KEY"
	EnvFeedURL       = "BODS_FEED_URL"
	EnvPort          = "BUSTIMES_PORT"
	EnvEnvironment   = "BUSTIMES_ENV"
	EnvStopsPath     = "NAPTAN_PATH"
	EnvTimetablePath = "GTFS_PATH"
)

var validate = validator.New()

// LoadFromFile reads a YAML document over the defaults and validates it.
func LoadFromFile(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints and the feed region.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := c.Feed.Region.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: feed.region: %w", err)
	}
	if _, err := c.Timetable.Location(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// ApplyEnvironment overlays values from the process environment and, for
// variables not set there, from the dotenv file at dotenvPath. A missing
// dotenv file is not an error.
func (c *Config) ApplyEnvironment(dotenvPath string) error {
	fileEnv := map[string]string{}
	if dotenvPath != "" {
		values, err := godotenv.Read(dotenvPath)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to read %s: %w", dotenvPath, err)
		}
		if values != nil {
			fileEnv = values
		}
	}

	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			return v, true
		}
		v, ok := fileEnv[key]
		return v, ok && v != ""
	}

	if v, ok := lookup(EnvAPIKey); ok {
		c.Feed.APIKey = v
	}
	if v, ok := lookup(EnvFeedURL); ok {
		c.Feed.URL = v
	}
	if v, ok := lookup(EnvStopsPath); ok {
		c.Stops.Path = v
	}
	if v, ok := lookup(EnvTimetablePath); ok {
		c.Timetable.Path = v
	}
	if v, ok := lookup(EnvPort); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvPort, err)
		}
		c.Server.Port = port
	}
	if v, ok := lookup(EnvEnvironment); ok {
		env, err := ParseEnvironment(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvEnvironment, err)
		}
		c.Server.Env = env
	}
	return nil
}
