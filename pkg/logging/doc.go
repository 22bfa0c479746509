// Package logging configures the structured loggers used across nettap.
//
// Everything logs through log/slog. A logger is built once from a Config
// and handed to each component, which scopes it with For:
//
//	logger := logging.New(logging.Config{
//	    Level:  logging.ParseLevel("debug"),
//	    Format: logging.FormatJSON,
//	})
//	hookLog := logging.For(logger, "intercept")
//	hookLog.Debug("exchange captured", "id", ex.ID)
//
// Components accept a *slog.Logger and fall back to Nop when none is given,
// so the capture path never has to nil-check its logger.
//
// NewMultiHandler fans records out to several handlers, which the CLI uses to
// write a JSON log file alongside human-readable stderr output.
package logging
