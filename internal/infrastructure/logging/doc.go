// Package logging provides structured logging for TankWatch Core.
//
// It wraps log/slog so every component logs the same way:
//
//   - JSON output for production, text output for development
//   - Default fields (service, version) on all entries
//   - Level filtering (debug, info, warn, error)
//   - Optional size-rotated file output
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "file"     # stdout, stderr, file
//	  file:
//	    path: "/var/log/tankwatch/core.log"
//	    max_size: 50     # megabytes
//	    max_backups: 5
//	    max_age: 30      # days
//	    compress: true
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	defer logger.Close()
//	logger.Info("tank connected", "tank_id", id)
//
// Never log the OPC UA service password or JWT secrets.
package logging
