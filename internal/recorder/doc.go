// Package recorder persists camera session activity to PostgreSQL or
// TimescaleDB.
//
// Tables:
//   - camera_status_events: one row per status transition
//   - camera_frames: frame index (codec, sequence, timestamp, size), no payload
//
// Rows are batched and written with pgx.Batch. Recording never blocks the
// session: events go through a bounded queue and are dropped when it is full.
package recorder
