// Package config handles loading application configuration from a YAML file
// with environment variable overrides.
//
// Config file format (nxt-catalog.yaml):
//
//	listen_addr: ":8080"
//	data_dir: "./data"
//	backend: "sqlite"
//	api_url: "http://localhost:8080"
//	file_root: "https://cdn.example.com"
//	max_images: 10
//	max_image_size: 5242880
//	request_timeout: "30s"
//	api_token: "change-me"
//
// Configuration sources, in increasing priority order:
//  1. Built-in defaults
//  2. YAML config file (located by FindConfigFile or explicit path)
//  3. Environment variables (LISTEN_ADDR, DATA_DIR, BACKEND, API_URL,
//     FILE_ROOT, PAGE_SIZE, MAX_IMAGES, MAX_IMAGE_SIZE, LOG_LEVEL,
//     REQUEST_TIMEOUT, API_TOKEN)
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	// ListenAddr is the TCP address for the HTTP server (e.g. ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// DataDir holds the product store and the uploaded images.
	DataDir string `yaml:"data_dir"`

	// Backend selects the product backend implementation.
	// "fs"     – in-memory index persisted to .products.json (default)
	// "sqlite" – SQLite database at .catalog.db
	Backend string `yaml:"backend"`

	// APIURL is the catalog API the CLI talks to.
	APIURL string `yaml:"api_url"`

	// APIToken guards catalog writes on the server and is sent by the CLI.
	// Empty disables auth.
	APIToken string `yaml:"api_token"`

	// FileRoot is the base URL stored images are served from. Empty means
	// the images are served by the API itself (APIURL).
	FileRoot string `yaml:"file_root"`

	// PageSize is the number of products per listing page.
	PageSize int `yaml:"page_size"`

	// MaxImages caps the feature images of a single product.
	MaxImages int `yaml:"max_images"`

	// MaxImageSize caps a single uploaded image, in bytes.
	MaxImageSize int64 `yaml:"max_image_size"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// RequestTimeoutStr bounds each API request made by the CLI. Stored as a
	// duration string in YAML (e.g. "30s"). Parsed into RequestTimeout by Load().
	RequestTimeoutStr string `yaml:"request_timeout"`

	// RequestTimeout is the parsed form of RequestTimeoutStr.
	RequestTimeout time.Duration `yaml:"-"`
}

// Default returns a Config populated with sensible defaults.
func Default() Config {
	return Config{
		ListenAddr:        ":8080",
		DataDir:           "./data",
		Backend:           "fs",
		APIURL:            "http://localhost:8080",
		PageSize:          20,
		MaxImages:         10,
		MaxImageSize:      5 << 20,
		LogLevel:          "info",
		RequestTimeoutStr: "30s",
		RequestTimeout:    30 * time.Second,
	}
}

// Load reads configuration from the YAML file at path (if non-empty), then
// applies environment variable overrides on top. Returns the merged Config.
// If path is empty, only defaults and environment variables are applied.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %q: %w", path, err)
		}
	}

	// Environment variables always override file values so that Docker /
	// systemd overrides still work even when a config file is present.
	envString("LISTEN_ADDR", &cfg.ListenAddr)
	envString("DATA_DIR", &cfg.DataDir)
	envString("BACKEND", &cfg.Backend)
	envString("API_URL", &cfg.APIURL)
	envString("FILE_ROOT", &cfg.FileRoot)
	envString("API_TOKEN", &cfg.APIToken)
	envString("LOG_LEVEL", &cfg.LogLevel)
	envString("REQUEST_TIMEOUT", &cfg.RequestTimeoutStr)
	envInt("PAGE_SIZE", &cfg.PageSize)
	envInt("MAX_IMAGES", &cfg.MaxImages)
	if v := os.Getenv("MAX_IMAGE_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxImageSize = n
		}
	}

	// Invalid duration strings are ignored; the default (30s) is kept unless
	// the YAML or env set a valid value. "0" disables the timeout.
	if cfg.RequestTimeoutStr == "0" {
		cfg.RequestTimeout = 0
	} else if d, err := time.ParseDuration(cfg.RequestTimeoutStr); err == nil {
		cfg.RequestTimeout = d
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate reports settings no component can run with.
func (c Config) Validate() error {
	switch c.Backend {
	case "fs", "sqlite":
	default:
		return fmt.Errorf("unknown backend %q (want fs or sqlite)", c.Backend)
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("page_size must be positive, got %d", c.PageSize)
	}
	if c.MaxImages <= 0 {
		return fmt.Errorf("max_images must be positive, got %d", c.MaxImages)
	}
	if c.MaxImageSize <= 0 {
		return fmt.Errorf("max_image_size must be positive, got %d", c.MaxImageSize)
	}
	return nil
}

// ImageRoot returns the base URL images resolve against.
func (c Config) ImageRoot() string {
	if c.FileRoot != "" {
		return c.FileRoot
	}
	return c.APIURL
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// FindConfigFile returns the path to the first config file found in the
// standard search order, or "" if none is found.
//
// Search order:
//  1. NXT_CATALOG_CONFIG environment variable (explicit override)
//  2. ./nxt-catalog.yaml (current working directory)
//  3. ~/.config/nxt-catalog/config.yaml (XDG user config)
func FindConfigFile() string {
	// 1. Explicit path via environment variable.
	if p := os.Getenv("NXT_CATALOG_CONFIG"); p != "" {
		return p
	}

	// 2. Config file in the current working directory.
	if _, err := os.Stat("nxt-catalog.yaml"); err == nil {
		return "nxt-catalog.yaml"
	}

	// 3. XDG user config directory.
	if home, err := os.UserHomeDir(); err == nil {
		p := filepath.Join(home, ".config", "nxt-catalog", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
