package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Environment variables that override config.toml values.
const (
	EnvProfile       = "FIELDOPS_PROFILE"
	EnvAPIBaseURL    = "FIELDOPS_API_BASE_URL"
	EnvSocketBaseURL = "FIELDOPS_SOCKET_BASE_URL"
	EnvInterval      = "FIELDOPS_TRACKER_INTERVAL"
	EnvQueueCapacity = "FIELDOPS_TRACKER_QUEUE_CAPACITY"
	EnvGeoSource     = "FIELDOPS_GEO_SOURCE"
	EnvGeoLatitude   = "FIELDOPS_GEO_LATITUDE"
	EnvGeoLongitude  = "FIELDOPS_GEO_LONGITUDE"
	EnvGeoFixPath    = "FIELDOPS_GEO_FIX_PATH"
)

// LoadDotEnv loads the given .env files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overlays FIELDOPS_* variables onto cfg. The first malformed value
// is reported; well-formed values are still applied.
func ApplyEnv(cfg *Config) error {
	var firstErr error
	note := func(err error) {
		if firstErr == nil {
			firstErr = err
		}
	}

	if v, ok := os.LookupEnv(EnvProfile); ok && v != "" {
		cfg.DefaultProfile = v
	}
	if v, ok := os.LookupEnv(EnvAPIBaseURL); ok && v != "" {
		cfg.APIBaseURL = v
	}
	if v, ok := os.LookupEnv(EnvSocketBaseURL); ok && v != "" {
		cfg.SocketBaseURL = v
	}
	if v, ok := os.LookupEnv(EnvGeoSource); ok && v != "" {
		cfg.Geo.Source = v
	}
	if v, ok := os.LookupEnv(EnvGeoFixPath); ok && v != "" {
		cfg.Geo.FixPath = v
	}
	if d, ok, err := envDuration(EnvInterval); err != nil {
		note(err)
	} else if ok {
		cfg.Tracker.DefaultInterval = Duration{d}
	}
	if n, ok, err := envInt(EnvQueueCapacity); err != nil {
		note(err)
	} else if ok {
		cfg.Tracker.QueueCapacity = n
	}
	if f, ok, err := envFloat(EnvGeoLatitude); err != nil {
		note(err)
	} else if ok {
		cfg.Geo.Latitude = f
	}
	if f, ok, err := envFloat(EnvGeoLongitude); err != nil {
		note(err)
	} else if ok {
		cfg.Geo.Longitude = f
	}
	return firstErr
}

func envDuration(key string) (time.Duration, bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return 0, false, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return d, true, nil
}

func envInt(key string) (int, bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return 0, false, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return n, true, nil
}

func envFloat(key string) (float64, bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return 0, false, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return f, true, nil
}
