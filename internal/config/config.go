package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.fieldops/config.toml.
type Config struct {
	DefaultProfile string  `toml:"default_profile"`
	APIBaseURL     string  `toml:"api_base_url"`
	SocketBaseURL  string  `toml:"socket_base_url"`
	Chat           Chat    `toml:"chat"`
	Tracker        Tracker `toml:"tracker"`
	Geo            Geo     `toml:"geo"`
	Network        Network `toml:"network"`
}

// Chat tunes the chat socket.
type Chat struct {
	DialTimeout Duration `toml:"dial_timeout"`
}

// Tracker tunes the location loop and its pending queue.
type Tracker struct {
	DefaultInterval Duration `toml:"default_interval"`
	GeoTimeout      Duration `toml:"geo_timeout"`
	QueueCapacity   int      `toml:"queue_capacity"`
	BackoffBase     Duration `toml:"backoff_base"`
	BackoffMax      Duration `toml:"backoff_max"`
}

// Geo selects where coordinates come from. Source is "static" or "file".
type Geo struct {
	Source    string   `toml:"source"`
	Latitude  float64  `toml:"latitude"`
	Longitude float64  `toml:"longitude"`
	FixPath   string   `toml:"fix_path"`
	PollEvery Duration `toml:"poll_every"`
}

// Network tunes the connectivity monitor.
type Network struct {
	ProbeInterval Duration `toml:"probe_interval"`
	ProbeTimeout  Duration `toml:"probe_timeout"`
}

// Duration is a time.Duration that decodes from TOML strings like "30s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		DefaultProfile: "main",
		APIBaseURL:     "http://localhost:8000",
		SocketBaseURL:  "ws://localhost:8000",
		Chat: Chat{
			DialTimeout: Duration{10 * time.Second},
		},
		Tracker: Tracker{
			DefaultInterval: Duration{60 * time.Second},
			GeoTimeout:      Duration{10 * time.Second},
			QueueCapacity:   500,
			BackoffBase:     Duration{2 * time.Second},
			BackoffMax:      Duration{5 * time.Minute},
		},
		Geo: Geo{
			Source:    "static",
			PollEvery: Duration{5 * time.Second},
		},
		Network: Network{
			ProbeInterval: Duration{15 * time.Second},
			ProbeTimeout:  Duration{5 * time.Second},
		},
	}
}

// Load reads config from the given path on top of Default. Returns an error
// if the file is missing or malformed.
func Load(path string) (*Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load that falls back to Default when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
