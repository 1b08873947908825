// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/mapstore/lib/archive"
	"github.com/bureau-foundation/mapstore/lib/catalog"
)

// EnvVar names the environment variable [Load] reads the config path
// from.
const EnvVar = "MAPSTORE_CONFIG"

var (
	// ErrNotConfigured is returned by Load when EnvVar is unset.
	ErrNotConfigured = errors.New("config: " + EnvVar + " environment variable not set")

	// ErrInvalid reports a config file that parses but holds values
	// no store can use.
	ErrInvalid = errors.New("config: invalid configuration")
)

// Config is the configuration of a mapstore command.
type Config struct {
	// Path is the store root directory.
	Path string `yaml:"path" json:"path"`

	// AllocationSize is the total capacity across all shards.
	AllocationSize Size `yaml:"allocation_size" json:"allocation_size"`

	// MapSize is the size of each shard file.
	MapSize Size `yaml:"map_size" json:"map_size"`

	// Prealloc reserves disk blocks for shards instead of leaving
	// them sparse.
	Prealloc bool `yaml:"prealloc" json:"prealloc"`

	// Catalog selects the metadata backend: sqlite or bolt.
	Catalog string `yaml:"catalog" json:"catalog"`

	// LogLevel is debug, info, warn or error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	IO          IOConfig          `yaml:"io" json:"io"`
	Restructure RestructureConfig `yaml:"restructure" json:"restructure"`
	Archive     ArchiveConfig     `yaml:"archive" json:"archive"`
}

// IOConfig tunes blob byte movement.
type IOConfig struct {
	// BufferSize is the chunk size for copying blob bytes.
	BufferSize Size `yaml:"buffer_size" json:"buffer_size"`
}

// RestructureConfig tunes restructure.
type RestructureConfig struct {
	// Workers is the number of blobs copied concurrently.
	Workers int `yaml:"workers" json:"workers"`
}

// ArchiveConfig tunes export.
type ArchiveConfig struct {
	// Codec is none, lz4, zstd or auto.
	Codec string `yaml:"codec" json:"codec"`
}

// Default returns the configuration used when no file is given. Files
// are decoded over it, so a file only needs the fields it changes.
func Default() *Config {
	return &Config{
		Path:           ".",
		AllocationSize: 10 << 30,
		MapSize:        2 << 30,
		Catalog:        string(catalog.BackendSQLite),
		LogLevel:       "info",
		IO:             IOConfig{BufferSize: 1 << 20},
		Restructure:    RestructureConfig{Workers: 1},
		Archive:        ArchiveConfig{Codec: "zstd"},
	}
}

// Load loads the file named by the MAPSTORE_CONFIG environment
// variable. There is no search path: if the variable is unset, Load
// returns ErrNotConfigured.
func Load() (*Config, error) {
	path := os.Getenv(EnvVar)
	if path == "" {
		return nil, ErrNotConfigured
	}
	return LoadFile(path)
}

// LoadFile loads a configuration file. Files ending in .json or .jsonc
// are JSON, with comments and trailing commas allowed; anything else
// is YAML. Unknown fields are an error. ${VAR} and ${VAR:-default}
// in path are expanded from the environment.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	config := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		decoder := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
		decoder.DisallowUnknownFields()
		err = decoder.Decode(config)
	default:
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		err = decoder.Decode(config)
		if errors.Is(err, io.EOF) {
			err = nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	config.Path = expandVars(config.Path)
	return config, nil
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} from the environment.
func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

// Validate reports every invalid field, joined. Each error matches
// ErrInvalid.
func (c *Config) Validate() error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if c.Path == "" {
		invalid("path is required")
	}
	if c.AllocationSize <= 0 {
		invalid("allocation_size must be positive, got %d", c.AllocationSize)
	}
	if c.MapSize <= 0 {
		invalid("map_size must be positive, got %d", c.MapSize)
	}
	if _, err := catalog.ParseBackend(c.Catalog); err != nil {
		invalid("catalog: %v", err)
	}
	if _, err := c.Level(); err != nil {
		invalid("log_level: %v", err)
	}
	if c.IO.BufferSize <= 0 || c.IO.BufferSize > math.MaxInt32 {
		invalid("io.buffer_size must be between 1 and %d, got %d", math.MaxInt32, c.IO.BufferSize)
	}
	if c.Restructure.Workers < 1 {
		invalid("restructure.workers must be at least 1, got %d", c.Restructure.Workers)
	}
	if _, err := archive.ParseCodec(c.Archive.Codec); err != nil {
		invalid("archive.codec: %v", err)
	}

	return errors.Join(errs...)
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, err
	}
	return level, nil
}

// Size is a byte count written in config files either as an integer
// or as a human-readable string such as "10GiB" or "512 MB".
type Size int64

// ParseSize parses a human-readable byte count.
func ParseSize(text string) (Size, error) {
	value, err := humanize.ParseBytes(text)
	if err != nil {
		return 0, fmt.Errorf("config: size %q: %w", text, err)
	}
	if value > math.MaxInt64 {
		return 0, fmt.Errorf("config: size %q is too large", text)
	}
	return Size(value), nil
}

func (s Size) String() string {
	return humanize.IBytes(uint64(s))
}

func (s *Size) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := ParseSize(node.Value)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s Size) MarshalYAML() (any, error) {
	return s.String(), nil
}

func (s *Size) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		var number int64
		if err := json.Unmarshal(data, &number); err != nil {
			return fmt.Errorf("config: size must be a string or an integer, got %s", data)
		}
		*s = Size(number)
		return nil
	}
	parsed, err := ParseSize(text)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Set parses text as a byte count, so that *Size works as a command
// line flag.
func (s *Size) Set(text string) error {
	parsed, err := ParseSize(text)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Type names the flag value in help output.
func (s *Size) Type() string { return "size" }
