// Package logging provides structured logging for Hearth Core.
//
// It wraps the standard library's log/slog with configuration-driven
// setup (level, format, output) and default fields identifying the
// service and build version.
//
// Domain packages do not depend on this package directly. They accept a
// small Logger interface (Debug/Info/Warn/Error) which *logging.Logger
// satisfies, keeping them testable with a noop implementation.
package logging
