// Package database provides the SQLite persistence layer for Hearth Core.
//
// It wraps database/sql with connection configuration tuned for SQLite
// (single writer, WAL journalling, busy timeout) and a versioned
// migration runner driven by SQL files embedded via the migrations
// package.
//
// The automation and conflict repositories build on this package; they
// own their queries, this package owns the connection and schema
// lifecycle.
package database
