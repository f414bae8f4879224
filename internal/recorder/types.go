package recorder

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of *pgxpool.Pool the recorder uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Config configures the recorder.
type Config struct {
	// BatchSize is the number of rows to accumulate before flushing.
	BatchSize int

	// FlushInterval is the maximum time between flushes.
	FlushInterval time.Duration

	// QueueSize bounds the events waiting to be batched.
	QueueSize int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     500,
		FlushInterval: 2 * time.Second,
		QueueSize:     10000,
	}
}

// Metrics contains recorder statistics.
type Metrics struct {
	StatusInserts int64
	FrameInserts  int64
	Conflicts     int64
	Errors        int64
	Flushes       int64
	Dropped       int64
}

type eventKind int

const (
	eventStatus eventKind = iota
	eventFrame
)

// event is a queued recording.
type event struct {
	kind     eventKind
	deviceID string
	status   string
	channel  int
	codec    uint32
	keyFrame bool
	sequence uint32
	frameTs  uint64
	size     int
	at       time.Time
}

// statusRow represents a row of camera_status_events.
type statusRow struct {
	EventID    uuid.UUID
	DeviceID   string
	Status     string
	RecordedAt time.Time
}

// frameRow represents a row of camera_frames.
type frameRow struct {
	DeviceID   string
	Channel    int16
	Codec      int32
	KeyFrame   bool
	Sequence   int64
	FrameTs    int64 // Milliseconds, camera clock
	Size       int32
	ReceivedAt int64 // Microseconds
}
