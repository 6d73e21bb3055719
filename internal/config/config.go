// Package config loads puzzlegate configuration.
//
// Values come from three layers, later ones winning:
//
//  1. the embedded CUE schema and its defaults (schema.cue)
//  2. an optional user CUE file unified with the schema
//  3. PUZZLEGATE_* environment variables, including ones set by .env files
//
// The merged result is validated against the schema once more, so an
// environment override cannot escape its constraints.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/joho/godotenv"
)

//go:embed schema.cue
var schemaCUE string

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PUZZLEGATE_"

// Config is the decoded configuration.
type Config struct {
	Remote    RemoteConfig    `json:"remote"`
	Store     StoreConfig     `json:"store"`
	Votes     VotesConfig     `json:"votes"`
	Redis     RedisConfig     `json:"redis"`
	Listing   ListingConfig   `json:"listing"`
	DevServer DevServerConfig `json:"devserver"`
}

type RemoteConfig struct {
	BaseURL string `json:"base_url"`
	Timeout string `json:"timeout"`
}

// TimeoutDuration returns the per-call timeout.
func (r RemoteConfig) TimeoutDuration() time.Duration {
	d, err := time.ParseDuration(r.Timeout)
	if err != nil {
		// The schema only admits parseable values.
		return 10 * time.Second
	}
	return d
}

type StoreConfig struct {
	Path string `json:"path"`
}

// Vote state backends.
const (
	BackendMemory  = "memory"
	BackendDurable = "durable"
	BackendRedis   = "redis"
)

type VotesConfig struct {
	Backend           string `json:"backend"`
	RollbackOnFailure bool   `json:"rollback_on_failure"`
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Prefix   string `json:"prefix"`
}

type ListingConfig struct {
	PerPage int `json:"per_page"`
}

type DevServerConfig struct {
	Addr string `json:"addr"`
}

// Options controls where Load looks.
type Options struct {
	// Path is the user CUE file. Empty means DefaultPath(), which may be
	// absent. A non-empty Path must exist.
	Path string

	// EnvFiles are loaded with godotenv before reading the environment.
	// Missing files are skipped. Variables already set are not replaced.
	EnvFiles []string

	// Getenv reads the environment. Defaults to os.Getenv.
	Getenv func(string) string
}

// DefaultPath returns the per-user config file location.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "puzzlegate", "config.cue")
}

// DefaultStorePath returns the per-user database location.
func DefaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "puzzlegate.db"
	}
	return filepath.Join(dir, "puzzlegate", "puzzlegate.db")
}

// Default returns the schema defaults.
func Default() Config {
	cfg, err := Load(Options{Path: "-", Getenv: func(string) string { return "" }})
	if err != nil {
		panic(fmt.Sprintf("config: embedded schema: %v", err))
	}
	return *cfg
}

// Load reads, merges and validates the configuration. Path "-" skips the
// user file.
func Load(opts Options) (*Config, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	value := schema
	if file, data, err := readUserFile(opts.Path); err != nil {
		return nil, err
	} else if data != nil {
		user := ctx.CompileBytes(data, cue.Filename(file))
		if err := user.Err(); err != nil {
			return nil, fmt.Errorf("parse %s: %w", file, err)
		}
		value = value.Unify(user)
	}

	if err := value.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	var cfg Config
	if err := value.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	for _, f := range opts.EnvFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}
	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	if err := applyEnv(&cfg, getenv); err != nil {
		return nil, err
	}

	final := schema.Unify(ctx.Encode(cfg))
	if err := final.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	if cfg.Store.Path == "" {
		cfg.Store.Path = DefaultStorePath()
	}
	return &cfg, nil
}

func readUserFile(path string) (string, []byte, error) {
	if path == "-" {
		return "", nil, nil
	}
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
		if path == "" {
			return "", nil, nil
		}
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) && !explicit {
		return "", nil, nil
	}
	if err != nil {
		return "", nil, fmt.Errorf("read config: %w", err)
	}
	return path, data, nil
}

// applyEnv overrides fields from PUZZLEGATE_* variables.
func applyEnv(cfg *Config, getenv func(string) string) error {
	str := func(name string, dst *string) {
		if v := getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) error {
		v := getenv(EnvPrefix + name)
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = n
		return nil
	}
	flag := func(name string, dst *bool) error {
		v := getenv(EnvPrefix + name)
		if v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = b
		return nil
	}

	str("REMOTE_BASE_URL", &cfg.Remote.BaseURL)
	str("REMOTE_TIMEOUT", &cfg.Remote.Timeout)
	str("STORE_PATH", &cfg.Store.Path)
	str("VOTES_BACKEND", &cfg.Votes.Backend)
	str("REDIS_ADDR", &cfg.Redis.Addr)
	str("REDIS_PASSWORD", &cfg.Redis.Password)
	str("REDIS_PREFIX", &cfg.Redis.Prefix)
	str("DEVSERVER_ADDR", &cfg.DevServer.Addr)

	return errors.Join(
		flag("VOTES_ROLLBACK_ON_FAILURE", &cfg.Votes.RollbackOnFailure),
		num("REDIS_DB", &cfg.Redis.DB),
		num("LISTING_PER_PAGE", &cfg.Listing.PerPage),
	)
}
