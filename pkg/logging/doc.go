// Package logging provides structured logging for the device subscription
// client: a slog-based logger with JSON or text output, a secret-redacting
// handler, and an optional size-rotated log file.
//
// # Usage
//
// Build a logger with the resolved application config:
//
//	logger := logging.New(logging.Config{
//	    Level:  logging.LevelInfo,
//	    Format: logging.FormatJSON,
//	})
//
//	logger.Info("pipeline starting", "instance_id", cfg.InstanceID)
//
// # Redaction
//
// CollectSecretValues walks the resolved config for keys matching the
// configured glob patterns (api_key, token, ...) and NewRedactingHandler
// scrubs those values out of every subsequent log line, including inside
// formatted messages. The core never logs a secret value directly; the
// handler is the last line of defense.
//
// # File output
//
// When logging.file.enabled is set, RotatingWriter backs a second handler
// so stderr and a local rotating file both receive every record; MultiHandler
// fans a record out to both.
package logging
