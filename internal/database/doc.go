// Package database provides the PostgreSQL/TimescaleDB connection pool used
// for recording camera status transitions and frame metadata.
package database
