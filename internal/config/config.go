package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	defaultPort            = 8001
	defaultQueryTimeout    = 120 * time.Second
	defaultChairmanTimeout = 180 * time.Second
)

type Config struct {
	Port            int
	Token           string
	ConfigPath      string
	DBPath          string
	ModelsPath      string
	APIKey          string
	APIURL          string
	QueryTimeout    time.Duration
	ChairmanTimeout time.Duration
	RateLimit       float64
	PrintToken      bool
}

func Load() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	return load(homeDir, os.Args[1:], os.Getenv)
}

// load layers defaults, the config file, the environment and finally flags.
func load(homeDir string, args []string, getenv func(string) string) (*Config, error) {
	baseDir := filepath.Join(homeDir, ".config", "llmcouncil")
	cfg := &Config{
		Port:            defaultPort,
		ConfigPath:      filepath.Join(baseDir, "config"),
		DBPath:          filepath.Join(baseDir, "llmcouncil.db"),
		ModelsPath:      filepath.Join(baseDir, "models.yaml"),
		QueryTimeout:    defaultQueryTimeout,
		ChairmanTimeout: defaultChairmanTimeout,
	}

	if err := cfg.loadFromFile(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}
	cfg.loadFromEnv(getenv)

	fs := flag.NewFlagSet("llmcouncil", flag.ContinueOnError)
	fs.IntVar(&cfg.Port, "port", cfg.Port, "server port (1-65535)")
	fs.StringVar(&cfg.Token, "token", cfg.Token, "authentication token (auto-generated if empty)")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "sqlite database path")
	fs.StringVar(&cfg.ModelsPath, "models", cfg.ModelsPath, "model catalog YAML path")
	fs.DurationVar(&cfg.QueryTimeout, "query-timeout", cfg.QueryTimeout, "per-model request timeout")
	fs.DurationVar(&cfg.ChairmanTimeout, "chairman-timeout", cfg.ChairmanTimeout, "chairman request timeout")
	fs.Float64Var(&cfg.RateLimit, "rate-limit", cfg.RateLimit, "max outbound model requests per second (0 = unlimited)")
	fs.BoolVar(&cfg.PrintToken, "print-token", false, "print token to stdout (for local debugging)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.Token == "" {
		token, err := generateToken()
		if err != nil {
			return nil, fmt.Errorf("failed to generate token: %w", err)
		}
		cfg.Token = token
		if err := cfg.saveToFile(); err != nil {
			return nil, fmt.Errorf("failed to save config file: %w", err)
		}
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be between 1 and 65535", c.Port)
	}
	if c.QueryTimeout <= 0 {
		return fmt.Errorf("invalid query timeout %s: must be positive", c.QueryTimeout)
	}
	if c.ChairmanTimeout <= 0 {
		return fmt.Errorf("invalid chairman timeout %s: must be positive", c.ChairmanTimeout)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("invalid rate limit %v: must not be negative", c.RateLimit)
	}
	if strings.TrimSpace(c.DBPath) == "" {
		return errors.New("database path cannot be empty")
	}
	if strings.TrimSpace(c.ModelsPath) == "" {
		return errors.New("models path cannot be empty")
	}
	return nil
}

func (c *Config) loadFromEnv(getenv func(string) string) {
	if v := strings.TrimSpace(getenv("OPENROUTER_API_KEY")); v != "" {
		c.APIKey = v
	}
	if v := strings.TrimSpace(getenv("OPENROUTER_API_URL")); v != "" {
		c.APIURL = v
	}
	if v := strings.TrimSpace(getenv("LLMCOUNCIL_DB_PATH")); v != "" {
		c.DBPath = v
	}
}

func (c *Config) loadFromFile() error {
	data, err := os.ReadFile(c.ConfigPath)
	if err != nil {
		return err
	}
	lines := strings.Split(string(data), "\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		switch key {
		case "Token":
			c.Token = value
		case "Port":
			var port int
			if _, err := fmt.Sscanf(value, "%d", &port); err != nil {
				return fmt.Errorf("invalid Port value %q: %w", value, err)
			}
			c.Port = port
		case "DBPath":
			c.DBPath = value
		case "ModelsPath":
			c.ModelsPath = value
		case "APIKey":
			c.APIKey = value
		case "APIURL":
			c.APIURL = value
		case "RateLimit":
			var limit float64
			if _, err := fmt.Sscanf(value, "%g", &limit); err != nil {
				return fmt.Errorf("invalid RateLimit value %q: %w", value, err)
			}
			c.RateLimit = limit
		case "QueryTimeout", "ChairmanTimeout":
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid %s value %q: %w", key, value, err)
			}
			if key == "QueryTimeout" {
				c.QueryTimeout = d
			} else {
				c.ChairmanTimeout = d
			}
		}
	}
	return nil
}

// saveToFile persists the generated token. The API key is never written back.
func (c *Config) saveToFile() error {
	dir := filepath.Dir(c.ConfigPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data := fmt.Sprintf("Port=%d\nToken=%s\nDBPath=%s\nModelsPath=%s\n", c.Port, c.Token, c.DBPath, c.ModelsPath)
	return os.WriteFile(c.ConfigPath, []byte(data), 0600)
}

func generateToken() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
