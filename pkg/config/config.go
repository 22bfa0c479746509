package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Defaults.
const (
	DefaultMaxBodyBytes  = 10 << 20
	DefaultScratchPrefix = "nettap"
	DefaultSessionLog    = "nettap-session.log"
)

// ErrInvalid is wrapped by every Validate error.
var ErrInvalid = errors.New("invalid configuration")

// Config is the complete nettap configuration.
type Config struct {
	// Enabled is the initial state of the capture switch.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Ignore lists URL patterns excluded from capture.
	Ignore []string `yaml:"ignore,omitempty" json:"ignore,omitempty"`

	// MaxBodyBytes bounds how much of each body is retained. Zero means
	// unlimited.
	MaxBodyBytes int64 `yaml:"maxBodyBytes" json:"maxBodyBytes"`

	// MaxEntries bounds the exchange log. Zero means unbounded.
	MaxEntries int `yaml:"maxEntries" json:"maxEntries"`

	// DataDir holds the session log and scratch files.
	DataDir string `yaml:"dataDir" json:"dataDir"`

	// ScratchPrefix starts every artifact file name.
	ScratchPrefix string `yaml:"scratchPrefix" json:"scratchPrefix"`

	// SessionLog is the session log file name inside DataDir.
	SessionLog string `yaml:"sessionLog" json:"sessionLog"`

	// SaveBodies writes captured bodies to scratch files.
	SaveBodies bool `yaml:"saveBodies" json:"saveBodies"`

	Log LogConfig `yaml:"log" json:"log"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Enabled:       true,
		MaxBodyBytes:  DefaultMaxBodyBytes,
		DataDir:       DefaultDataDir(),
		ScratchPrefix: DefaultScratchPrefix,
		SessionLog:    DefaultSessionLog,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// DefaultDataDir returns the per-user cache directory for nettap artifacts.
// Artifacts are disposable, so the XDG cache location is used.
func DefaultDataDir() string {
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return filepath.Join(dir, "nettap")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "nettap")
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Caches", "nettap")
	case "windows":
		if local := os.Getenv("LOCALAPPDATA"); local != "" {
			return filepath.Join(local, "nettap", "cache")
		}
		return filepath.Join(home, "AppData", "Local", "nettap", "cache")
	}
	return filepath.Join(home, ".cache", "nettap")
}

var (
	validLevels  = []string{"debug", "info", "warn", "warning", "error"}
	validFormats = []string{"text", "json"}
)

// Validate checks c and returns every problem found.
func (c *Config) Validate() error {
	var errs []error
	if c.MaxBodyBytes < 0 {
		errs = append(errs, fmt.Errorf("%w: maxBodyBytes must not be negative", ErrInvalid))
	}
	if c.MaxEntries < 0 {
		errs = append(errs, fmt.Errorf("%w: maxEntries must not be negative", ErrInvalid))
	}
	if c.DataDir == "" {
		errs = append(errs, fmt.Errorf("%w: dataDir is required", ErrInvalid))
	}
	if c.ScratchPrefix == "" || strings.ContainsAny(c.ScratchPrefix, `/\*?[`) {
		errs = append(errs, fmt.Errorf("%w: scratchPrefix %q", ErrInvalid, c.ScratchPrefix))
	}
	if c.SessionLog == "" || strings.ContainsAny(c.SessionLog, `/\`) {
		errs = append(errs, fmt.Errorf("%w: sessionLog %q must be a file name", ErrInvalid, c.SessionLog))
	}
	if c.Log.Level != "" && !oneOf(c.Log.Level, validLevels) {
		errs = append(errs, fmt.Errorf("%w: log level %q", ErrInvalid, c.Log.Level))
	}
	if c.Log.Format != "" && !oneOf(c.Log.Format, validFormats) {
		errs = append(errs, fmt.Errorf("%w: log format %q", ErrInvalid, c.Log.Format))
	}
	for i, p := range c.Ignore {
		if strings.TrimSpace(p) == "" {
			errs = append(errs, fmt.Errorf("%w: ignore[%d] is empty", ErrInvalid, i))
		}
	}
	return errors.Join(errs...)
}

func oneOf(s string, options []string) bool {
	for _, o := range options {
		if strings.EqualFold(s, o) {
			return true
		}
	}
	return false
}
