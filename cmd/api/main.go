package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"bustimes.app/internal/appconf"
	"bustimes.app/internal/logging"
)

func main() {
	var (
		configPath string
		dotenvPath string
		port       int
		env        string
		apiKeys    string
		naptanPath string
		gtfsPath   string
		verbose    bool
	)

	flag.StringVar(&configPath, "config", "", "Path to a YAML config file")
	flag.StringVar(&dotenvPath, "dotenv", ".env", "Path to a dotenv file with BODS_API_KEY and friends")
	flag.IntVar(&port, "port", 0, "API server port (overrides config)")
	flag.StringVar(&env, "env", "", "Environment (development|test|production)")
	flag.StringVar(&apiKeys, "api-keys", "", "Comma separated keys exempt from rate limiting")
	flag.StringVar(&naptanPath, "naptan", "", "Path to the NaPTAN stops CSV")
	flag.StringVar(&gtfsPath, "gtfs", "", "Path to a GTFS static zip for scheduled departures")
	flag.BoolVar(&verbose, "verbose", false, "Enable debug logging")
	flag.Parse()

	cfg, err := loadConfig(configPath, dotenvPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if port != 0 {
		cfg.Server.Port = port
	}
	if env != "" {
		parsed, err := appconf.ParseEnvironment(env)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		cfg.Server.Env = parsed
	}
	if apiKeys != "" {
		cfg.Server.ApiKeys = ParseAPIKeys(apiKeys)
	}
	if naptanPath != "" {
		cfg.Stops.Path = naptanPath
	}
	if gtfsPath != "" {
		cfg.Timetable.Path = gtfsPath
	}
	if verbose {
		cfg.Server.Verbose = true
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, logCloser := logging.New(logging.Options{
		JSON:    cfg.Server.Env == appconf.Production,
		Verbose: cfg.Server.Verbose,
		File:    cfg.Server.LogFile,
	})
	defer logging.SafeCloseWithLogging(logCloser, logger, "log file")
	slog.SetDefault(logger)

	coreApp, err := BuildApplication(cfg, logger)
	if err != nil {
		logging.LogError(logger, "failed to build application", err)
		os.Exit(1)
	}

	srv, api := CreateServer(coreApp, cfg)
	if err := Run(srv, coreApp, api); err != nil {
		logging.LogError(logger, "server exited with error", err)
		os.Exit(1)
	}
}

// loadConfig reads the YAML file when one is given, otherwise the defaults,
// and overlays the environment. Flags are applied by the caller.
func loadConfig(configPath, dotenvPath string) (appconf.Config, error) {
	cfg := appconf.Default()
	if configPath != "" {
		loaded, err := appconf.LoadFromFile(configPath)
		if err != nil {
			return appconf.Config{}, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = *loaded
	}
	if err := cfg.ApplyEnvironment(dotenvPath); err != nil {
		return appconf.Config{}, fmt.Errorf("failed to read environment: %w", err)
	}
	return cfg, nil
}
