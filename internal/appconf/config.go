// Package appconf holds the service configuration: its defaults, the YAML
// file format, environment overrides and validation.
package appconf

import (
	"fmt"
	"time"

	"bustimes.app/internal/geo"
)

// Environment selects deployment-specific behaviour such as the debug page
// and the log format.
type Environment string

const (
	Development Environment = "development"
	Test        Environment = "test"
	Production  Environment = "production"
)

// ParseEnvironment maps a user supplied name onto an Environment.
func ParseEnvironment(s string) (Environment, error) {
	switch Environment(s) {
	case Development, Test, Production:
		return Environment(s), nil
	case "dev":
		return Development, nil
	case "prod":
		return Production, nil
	}
	return "", fmt.Errorf("unknown environment %q", s)
}

// Config is the root configuration document.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Stops      StopsConfig      `yaml:"stops"`
	Feed       FeedConfig       `yaml:"feed"`
	Vehicles   VehiclesConfig   `yaml:"vehicles"`
	Departures DeparturesConfig `yaml:"departures"`
	Timetable  TimetableConfig  `yaml:"timetable"`
}

type ServerConfig struct {
	Port    int         `yaml:"port" validate:"gte=0,lte=65535"`
	Env     Environment `yaml:"env" validate:"oneof=development test production"`
	Verbose bool        `yaml:"verbose"`

	// ApiKeys are exempt from rate limiting.
	ApiKeys     []string `yaml:"apiKeys"`
	RateLimit   int      `yaml:"rateLimit" validate:"gte=0"`
	CORSOrigins []string `yaml:"corsOrigins"`
	LogFile     string   `yaml:"logFile"`

	// StaticDir holds the built map and board pages served under /static/.
	StaticDir string `yaml:"staticDir"`
}

type StopsConfig struct {
	Path        string           `yaml:"path" validate:"required"`
	HomeRegion  string           `yaml:"homeRegion"`
	SearchLimit int              `yaml:"searchLimit" validate:"gte=1,lte=120"`
	Landmarks   []LandmarkConfig `yaml:"landmarks" validate:"dive"`
}

// LandmarkConfig lifts stops whose name contains NameContains when the query
// contains Query.
type LandmarkConfig struct {
	Query        string `yaml:"query" validate:"required"`
	NameContains string `yaml:"nameContains" validate:"required"`
	Bonus        int    `yaml:"bonus" validate:"gt=0"`
}

type FeedConfig struct {
	URL          string          `yaml:"url" validate:"required,url"`
	APIKey       string          `yaml:"apiKey"`
	Region       geo.BoundingBox `yaml:"region"`
	Timeout      time.Duration   `yaml:"timeout" validate:"gt=0"`
	MaxBodyBytes int64           `yaml:"maxBodyBytes" validate:"gte=0"`
}

type VehiclesConfig struct {
	Limit int `yaml:"limit" validate:"gte=40,lte=800"`
}

type DeparturesConfig struct {
	Max                int     `yaml:"max" validate:"gte=1,lte=25"`
	ProximityMeters    float64 `yaml:"proximityMeters" validate:"gt=0"`
	DefaultSpeedMPS    float64 `yaml:"defaultSpeedMps" validate:"gt=0"`
	UnknownDestination string  `yaml:"unknownDestination"`
}

type TimetableConfig struct {
	// Path to a GTFS static zip. Empty disables scheduled departures.
	Path     string `yaml:"path"`
	Timezone string `yaml:"timezone" validate:"required"`

	// DatabasePath keeps the imported timetable on disk so an unchanged
	// zip is not re-imported on restart. Empty uses an in-memory database.
	DatabasePath string `yaml:"databasePath"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:      3001,
			Env:       Development,
			RateLimit: 100,
			StaticDir: "public",
		},
		Stops: StopsConfig{
			Path:        "data/naptan.csv",
			HomeRegion:  "peterborough",
			SearchLimit: 50,
		},
		Feed: FeedConfig{
			URL:          "https://data.bus-data.dft.gov.uk/api/v1/gtfsrtdatafeed/",
			Region:       geo.BoundingBox{South: 52.50, North: 52.65, West: -0.40, East: -0.10},
			Timeout:      10 * time.Second,
			MaxBodyBytes: 25 * 1024 * 1024,
		},
		Vehicles: VehiclesConfig{
			Limit: 200,
		},
		Departures: DeparturesConfig{
			Max:                8,
			ProximityMeters:    2000,
			DefaultSpeedMPS:    7,
			UnknownDestination: "—",
		},
		Timetable: TimetableConfig{
			Timezone: "Europe/London",
		},
	}
}

// Location resolves the timetable time zone.
func (c TimetableConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timetable timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}
