package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Token store kinds.
const (
	StoreFile   = "file"
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

const (
	defaultAPIURL    = "http://localhost:3001"
	defaultUserAgent = "crisiscircle-admin/1.0"
)

// Config holds everything the admin client reads from the environment.
type Config struct {
	APIURL    string
	UserAgent string

	TokenStore      string
	TokenFile       string
	TokenPassphrase string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	LogLevel  string
	LogFormat string
}

// Load reads the configuration from the environment, filling in defaults.
func Load() Config {
	cfg := Config{
		APIURL:    firstNonEmpty(os.Getenv("CRISISCIRCLE_API_URL"), os.Getenv("API_URL"), defaultAPIURL),
		UserAgent: firstNonEmpty(os.Getenv("CRISISCIRCLE_USER_AGENT"), defaultUserAgent),

		TokenStore:      strings.ToLower(firstNonEmpty(os.Getenv("CRISISCIRCLE_TOKEN_STORE"), StoreFile)),
		TokenFile:       firstNonEmpty(os.Getenv("CRISISCIRCLE_TOKEN_FILE"), defaultTokenFile()),
		TokenPassphrase: os.Getenv("CRISISCIRCLE_TOKEN_PASSPHRASE"),

		RedisAddr:     firstNonEmpty(os.Getenv("REDIS_ADDR"), "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisPrefix:   os.Getenv("CRISISCIRCLE_REDIS_PREFIX"),

		LogLevel:  firstNonEmpty(os.Getenv("LOG_LEVEL"), "info"),
		LogFormat: firstNonEmpty(os.Getenv("LOG_FORMAT"), "text"),
	}

	if db, err := strconv.Atoi(os.Getenv("REDIS_DB")); err == nil {
		cfg.RedisDB = db
	}
	return cfg
}

// Validate reports configuration the client cannot start with.
func (c Config) Validate() error {
	u, err := url.Parse(c.APIURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("config: invalid API URL %q", c.APIURL)
	}
	switch c.TokenStore {
	case StoreFile:
		if c.TokenFile == "" {
			return fmt.Errorf("config: token file path is empty")
		}
	case StoreMemory:
	case StoreRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("config: REDIS_ADDR is required for the redis token store")
		}
	default:
		return fmt.Errorf("config: unknown token store %q", c.TokenStore)
	}
	return nil
}

func defaultTokenFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "crisiscircle", "credentials.json")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
