package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/alnah/smplexport/internal/logging"
	"github.com/alnah/smplexport/internal/npz"
)

// Config keys.
const (
	KeyNpzOutput   = "npz-output"
	KeyPklOutput   = "pkl-output"
	KeyCompression = "compression"
	KeyLogLevel    = "log-level"
)

// Environment variable fallbacks.
const (
	EnvNpzOutput   = "SMPLEXPORT_NPZ_OUTPUT"
	EnvPklOutput   = "SMPLEXPORT_PKL_OUTPUT"
	EnvCompression = "SMPLEXPORT_COMPRESSION"
	EnvLogLevel    = "SMPLEXPORT_LOG_LEVEL"
)

// Built-in defaults, used when neither flag, file nor env provide a value.
const (
	DefaultNpzOutput = "output/motion.npz"
	DefaultPklOutput = "output_pkl/motion.pkl"
)

// Keys lists all supported configuration keys, in display order.
var Keys = []string{KeyNpzOutput, KeyPklOutput, KeyCompression, KeyLogLevel}

// EnvFor returns the environment variable backing key.
func EnvFor(key string) string {
	switch key {
	case KeyNpzOutput:
		return EnvNpzOutput
	case KeyPklOutput:
		return EnvPklOutput
	case KeyCompression:
		return EnvCompression
	case KeyLogLevel:
		return EnvLogLevel
	}
	return ""
}

// IsValidKey reports whether key is a supported configuration key.
func IsValidKey(key string) bool {
	return slices.Contains(Keys, key)
}

// Config holds user configuration loaded from ~/.config/smplexport/config.
type Config struct {
	NpzOutput   string
	PklOutput   string
	Compression string
	LogLevel    string
}

// Get returns the value of key, or "" for unknown keys.
func (c Config) Get(key string) string {
	switch key {
	case KeyNpzOutput:
		return c.NpzOutput
	case KeyPklOutput:
		return c.PklOutput
	case KeyCompression:
		return c.Compression
	case KeyLogLevel:
		return c.LogLevel
	}
	return ""
}

func (c *Config) set(key, value string) {
	switch key {
	case KeyNpzOutput:
		c.NpzOutput = value
	case KeyPklOutput:
		c.PklOutput = value
	case KeyCompression:
		c.Compression = value
	case KeyLogLevel:
		c.LogLevel = value
	}
}

// dir returns the configuration directory path.
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config/smplexport.
func dir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "smplexport"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".config", "smplexport"), nil
}

// path returns the full path to the config file.
func path() (string, error) {
	d, err := dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(d, "config"), nil
}

// Load reads the configuration file and environment variables.
// Precedence: config file values, then environment variable fallbacks.
// Returns an empty Config if the file doesn't exist (not an error).
func Load() (Config, error) {
	var cfg Config

	p, err := path()
	if err != nil {
		return cfg, err
	}

	if data, err := parseFile(p); err == nil {
		for _, key := range Keys {
			cfg.set(key, data[key])
		}
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	// Environment variable fallback (only if not set in config).
	for _, key := range Keys {
		if cfg.Get(key) == "" {
			cfg.set(key, os.Getenv(EnvFor(key)))
		}
	}

	return cfg, nil
}

// parseFile reads a key=value config file.
// Format: one key=value per line, # comments, empty lines ignored.
func parseFile(p string) (map[string]string, error) {
	f, err := os.Open(p) // #nosec G304 -- config path is constructed from home dir
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	data := make(map[string]string)
	scanner := bufio.NewScanner(f)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("line %d: %q: %w", lineNum, line, ErrInvalidSyntax)
		}
		data[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return data, nil
}

// Validate checks value for key and returns its normalized form.
func Validate(key, value string) (string, error) {
	if !IsValidKey(key) {
		return "", fmt.Errorf("%q (valid keys: %v): %w", key, Keys, ErrUnknownKey)
	}
	value = strings.TrimSpace(value)

	switch key {
	case KeyNpzOutput, KeyPklOutput:
		if value == "" {
			return "", fmt.Errorf("%s cannot be empty: %w", key, ErrInvalidValue)
		}
		return ExpandPath(value), nil
	case KeyCompression:
		m, err := npz.ParseMethod(value)
		if err != nil {
			return "", fmt.Errorf("%s: %w: %w", key, ErrInvalidValue, err)
		}
		return string(m), nil
	case KeyLogLevel:
		if _, err := logging.ParseLevel(value); err != nil {
			return "", fmt.Errorf("%s: %w: %w", key, ErrInvalidValue, err)
		}
		return strings.ToUpper(value), nil
	}
	return value, nil
}

// Save writes a single key=value to the config file.
// Creates the config directory and file if they don't exist.
// Preserves existing key=value pairs but discards comments.
func Save(key, value string) error {
	p, err := path()
	if err != nil {
		return err
	}

	d := filepath.Dir(p)
	if err := os.MkdirAll(d, 0750); err != nil { // #nosec G301 -- user config dir
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	existing, _ := parseFile(p)
	if existing == nil {
		existing = make(map[string]string)
	}
	existing[key] = value

	return writeFile(p, existing)
}

// writeFile writes the config map to a file, keys sorted.
func writeFile(p string, data map[string]string) error {
	// #nosec G302 G304 -- config file with standard permissions, path from home dir
	f, err := os.OpenFile(p, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("cannot write config file: %w", err)
	}
	defer func() { _ = f.Close() }()

	keys := make([]string, 0, len(data))
	for key := range data {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	for _, key := range keys {
		if _, err := fmt.Fprintf(f, "%s=%s\n", key, data[key]); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
	}

	return nil
}

// Get reads a single value from the config file.
// Returns empty string if the key doesn't exist.
func Get(key string) (string, error) {
	p, err := path()
	if err != nil {
		return "", err
	}

	data, err := parseFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}

	return data[key], nil
}

// List returns all config values as a map.
func List() (map[string]string, error) {
	p, err := path()
	if err != nil {
		return nil, err
	}

	data, err := parseFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, err
	}

	return data, nil
}

// Resolve picks the first non-empty of flag, configured and fallback.
func Resolve(flag, configured, fallback string) string {
	if flag != "" {
		return flag
	}
	if configured != "" {
		return configured
	}
	return fallback
}

// ExpandPath expands ~ to the user's home directory.
func ExpandPath(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return p
		}
		return filepath.Join(home, p[1:])
	}
	return p
}
