// Package logger provides structured logging for connkit components
// using zerolog.
//
// Every connkit component accepts an optional *Logger and otherwise falls
// back to the global logger tagged with its component name.
//
// # Configuration
//
//	logging:
//	  level: "info"
//	  format: "json"
//
// # Usage
//
//	log := logger.Get("connection")
//	log.Info("state changed", logger.Fields("from", "connecting", "to", "open"))
package logger
