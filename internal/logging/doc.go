// Package logging provides a simple leveled logging interface for the
// media gallery.
//
// It supports the following log levels:
//   - DEBUG: Verbose debugging information
//   - INFO: General operational messages
//   - WARN: Warning conditions
//   - ERROR: Error conditions
//   - FATAL: Fatal errors that terminate the application
//
// The log level is configured via the LOG_LEVEL environment variable, or
// forced to debug with DEBUG=true. Long-lived components (the transform
// queue, the broadcast hub) log through a component Logger obtained with For
// so their lines can be told apart:
//
//	log := logging.For("queue")
//	log.Info("job %s done in %v", id, elapsed)
package logging
