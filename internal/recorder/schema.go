package recorder

import (
	"context"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS camera_status_events (
	event_id    UUID PRIMARY KEY,
	device_id   TEXT NOT NULL,
	status      TEXT NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS camera_status_events_device_idx
	ON camera_status_events (device_id, recorded_at);

CREATE TABLE IF NOT EXISTS camera_frames (
	device_id   TEXT NOT NULL,
	channel     SMALLINT NOT NULL,
	codec       INTEGER NOT NULL,
	key_frame   BOOLEAN NOT NULL,
	sequence    BIGINT NOT NULL,
	frame_ts    BIGINT NOT NULL,
	size        INTEGER NOT NULL,
	received_at BIGINT NOT NULL,
	PRIMARY KEY (device_id, channel, sequence, frame_ts)
);
`

// EnsureSchema creates the recorder tables if they do not exist.
func EnsureSchema(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create recorder schema: %w", err)
	}
	return nil
}
