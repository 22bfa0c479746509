package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Environment variables read by ApplyEnv.
const (
	EnvEnabled       = "NETTAP_ENABLED"
	EnvIgnore        = "NETTAP_IGNORE"
	EnvMaxBodyBytes  = "NETTAP_MAX_BODY_BYTES"
	EnvMaxEntries    = "NETTAP_MAX_ENTRIES"
	EnvDataDir       = "NETTAP_DATA_DIR"
	EnvScratchPrefix = "NETTAP_SCRATCH_PREFIX"
	EnvSessionLog    = "NETTAP_SESSION_LOG"
	EnvSaveBodies    = "NETTAP_SAVE_BODIES"
	EnvLogLevel      = "NETTAP_LOG_LEVEL"
	EnvLogFormat     = "NETTAP_LOG_FORMAT"
)

// ApplyEnv overrides c from NETTAP_* environment variables. NETTAP_IGNORE
// is a comma-separated list appended to Ignore.
func (c *Config) ApplyEnv() error {
	return c.applyEnv(os.LookupEnv)
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = b
		return nil
	}

	if err := boolean(EnvEnabled, &c.Enabled); err != nil {
		return err
	}
	if err := boolean(EnvSaveBodies, &c.SaveBodies); err != nil {
		return err
	}

	if v, ok := lookup(EnvMaxBodyBytes); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvMaxBodyBytes, err)
		}
		c.MaxBodyBytes = n
	}
	if v, ok := lookup(EnvMaxEntries); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvMaxEntries, err)
		}
		c.MaxEntries = n
	}

	if v, ok := lookup(EnvIgnore); ok {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				c.Ignore = append(c.Ignore, p)
			}
		}
	}

	str(EnvDataDir, &c.DataDir)
	str(EnvScratchPrefix, &c.ScratchPrefix)
	str(EnvSessionLog, &c.SessionLog)
	str(EnvLogLevel, &c.Log.Level)
	str(EnvLogFormat, &c.Log.Format)
	return nil
}
