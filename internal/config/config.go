// Package config handles loading and validating the application
// configuration from a pages.json (or pages.yaml) file.
//
// The configuration file holds database connection details, the HTTP
// listen address, token signing settings, and the bcrypt hash of the
// admin key used to issue actor tokens.
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultMaxDocBytes caps the request body of a content save (2 MiB).
const DefaultMaxDocBytes = 2 << 20

// Config holds all application configuration loaded from the config file.
// The file is read once at startup; changes require a restart.
type Config struct {
	// DBConn is the PostgreSQL host:port (e.g., "infra-postgres:5432").
	DBConn string `json:"dbConn" yaml:"dbConn"`

	// DBName is the PostgreSQL database name.
	DBName string `json:"dbName" yaml:"dbName"`

	// DBUser is the PostgreSQL username.
	DBUser string `json:"dbUser" yaml:"dbUser"`

	// DBPass is the PostgreSQL password.
	DBPass string `json:"dbPass" yaml:"dbPass"`

	// ListenAddr is the HTTP listen address (default ":3000").
	ListenAddr string `json:"listenAddr" yaml:"listenAddr"`

	// JWTSecret is the HMAC secret used to sign actor access tokens.
	JWTSecret string `json:"jwtSecret" yaml:"jwtSecret"`

	// JWTIssuer is the "iss" claim on issued tokens (default "primal-pages").
	JWTIssuer string `json:"jwtIssuer,omitempty" yaml:"jwtIssuer,omitempty"`

	// AdminKeyHash is the bcrypt hash of the shared admin key. Clients
	// send the plaintext key as "Authorization: Bearer <adminKey>" to
	// mint actor tokens.
	AdminKeyHash string `json:"adminKeyHash" yaml:"adminKeyHash"`

	// LogLevel is a zerolog level name (default "info").
	LogLevel string `json:"logLevel,omitempty" yaml:"logLevel,omitempty"`

	// MaxDocBytes limits the size of a content save request body.
	MaxDocBytes int64 `json:"maxDocBytes,omitempty" yaml:"maxDocBytes,omitempty"`
}

// Load reads and parses configuration from the given file path.
// Files with a .yaml or .yml extension are decoded as YAML, anything
// else as JSON. It returns an error if the file cannot be read, parsed,
// or is missing required fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data, filepath.Ext(path))
}

// Parse decodes configuration bytes. ext selects the format the same
// way Load does.
func Parse(data []byte, ext string) (*Config, error) {
	var cfg Config
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse yaml: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse json: %w", err)
		}
	}

	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":3000"
	}
	if c.JWTIssuer == "" {
		c.JWTIssuer = "primal-pages"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.MaxDocBytes <= 0 {
		c.MaxDocBytes = DefaultMaxDocBytes
	}
}

// validate checks that all required fields are present.
func (c *Config) validate() error {
	switch {
	case c.DBConn == "":
		return fmt.Errorf("config: dbConn is required")
	case c.DBName == "":
		return fmt.Errorf("config: dbName is required")
	case c.DBUser == "":
		return fmt.Errorf("config: dbUser is required")
	case c.DBPass == "":
		return fmt.Errorf("config: dbPass is required")
	case c.JWTSecret == "":
		return fmt.Errorf("config: jwtSecret is required")
	case c.AdminKeyHash == "":
		return fmt.Errorf("config: adminKeyHash is required")
	}
	return nil
}

// ConnString builds a PostgreSQL connection URI from the config fields.
// The password is URL-encoded to handle special characters safely.
func (c *Config) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable",
		url.QueryEscape(c.DBUser),
		url.QueryEscape(c.DBPass),
		c.DBConn,
		url.QueryEscape(c.DBName),
	)
}
