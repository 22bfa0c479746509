// Package config holds nettap's settings and loads them from a YAML or JSON
// file and NETTAP_* environment variables.
//
// Precedence, lowest first: Default, the config file, the environment,
// then whatever the caller sets explicitly (CLI flags).
//
//	cfg := config.Default()
//	if path != "" {
//	    loaded, err := config.LoadFromFile(path)
//	    if err != nil {
//	        return err
//	    }
//	    cfg = loaded
//	}
//	if err := cfg.ApplyEnv(); err != nil {
//	    return err
//	}
//	if err := cfg.Validate(); err != nil {
//	    return err
//	}
//
// A config file only needs the keys it changes:
//
//	enabled: true
//	ignore:
//	  - telemetry.example.com
//	  - api.test/health
//	maxBodyBytes: 1048576
//	maxEntries: 5000
//	saveBodies: true
//	log:
//	  level: debug
//	  format: json
package config
