package recorder

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rickgao/camera-gateway/internal/media"
	"github.com/rickgao/camera-gateway/internal/queue"
)

// Recorder batches session status transitions and frame metadata into the
// database. It implements session.Recorder.
type Recorder struct {
	cfg    Config
	logger *slog.Logger

	// Input from sessions
	input *queue.Bounded[event]

	// Database
	db DB

	// Batching
	statusBatch []statusRow
	frameBatch  []frameRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	metrics Metrics
}

// New creates a Recorder.
func New(cfg Config, db DB, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		cfg:         cfg,
		db:          db,
		logger:      logger,
		input:       queue.NewBounded[event](cfg.QueueSize, queue.DropOldest),
		statusBatch: make([]statusRow, 0, cfg.BatchSize),
		frameBatch:  make([]frameRow, 0, cfg.BatchSize),
	}
}

// Start begins consuming events and writing to the database.
func (r *Recorder) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.flushTicker = time.NewTicker(r.cfg.FlushInterval)

	r.wg.Add(1)
	go r.consumeLoop()

	r.wg.Add(1)
	go r.flushLoop()

	r.logger.Info("recorder started",
		"batch_size", r.cfg.BatchSize,
		"flush_interval", r.cfg.FlushInterval,
	)
	return nil
}

// Stop shuts the recorder down and flushes what is batched.
func (r *Recorder) Stop(ctx context.Context) error {
	r.logger.Info("stopping recorder")

	// Close discards queued events, so drain them first.
	for {
		ev, ok := r.input.TryReceive()
		if !ok {
			break
		}
		r.handleEvent(ev)
	}
	r.input.Close()
	if r.cancel != nil {
		r.cancel()
	}
	if r.flushTicker != nil {
		r.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("recorder stopped")
	case <-ctx.Done():
		r.logger.Warn("recorder stop timed out")
	}

	// Final flush on a fresh context; the run context is cancelled.
	r.flushWith(ctx)
	return nil
}

// Stats returns current metrics.
func (r *Recorder) Stats() Metrics {
	r.batchMu.Lock()
	defer r.batchMu.Unlock()
	m := r.metrics
	m.Dropped = r.input.Stats().Dropped
	return m
}

// RecordStatus queues a status transition. Never blocks.
func (r *Recorder) RecordStatus(deviceID, status string, at time.Time) {
	r.input.Push(event{
		kind:     eventStatus,
		deviceID: deviceID,
		status:   status,
		at:       at,
	})
}

// RecordFrame queues the metadata of a frame. Never blocks.
func (r *Recorder) RecordFrame(deviceID string, f media.Frame, at time.Time) {
	r.input.Push(event{
		kind:     eventFrame,
		deviceID: deviceID,
		channel:  f.Channel,
		codec:    uint32(f.Codec),
		keyFrame: f.IsKeyFrame(),
		sequence: f.Sequence,
		frameTs:  f.Timestamp,
		size:     len(f.Payload),
		at:       at,
	})
}

// consumeLoop reads from the input queue and accumulates batches.
func (r *Recorder) consumeLoop() {
	defer r.wg.Done()

	for {
		ev, ok := r.input.Receive()
		if !ok {
			return
		}
		r.handleEvent(ev)
	}
}

// flushLoop periodically flushes the batches.
func (r *Recorder) flushLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.flushTicker.C:
			r.flush()
		}
	}
}

// handleEvent transforms and adds an event to its batch.
func (r *Recorder) handleEvent(ev event) {
	r.batchMu.Lock()
	switch ev.kind {
	case eventStatus:
		r.statusBatch = append(r.statusBatch, r.transformStatus(ev))
	case eventFrame:
		r.frameBatch = append(r.frameBatch, r.transformFrame(ev))
	}
	shouldFlush := len(r.statusBatch)+len(r.frameBatch) >= r.cfg.BatchSize
	r.batchMu.Unlock()

	if shouldFlush {
		r.flush()
	}
}

func (r *Recorder) transformStatus(ev event) statusRow {
	return statusRow{
		EventID:    uuid.New(),
		DeviceID:   ev.deviceID,
		Status:     ev.status,
		RecordedAt: ev.at.UTC(),
	}
}

func (r *Recorder) transformFrame(ev event) frameRow {
	return frameRow{
		DeviceID:   ev.deviceID,
		Channel:    int16(ev.channel),
		Codec:      int32(ev.codec),
		KeyFrame:   ev.keyFrame,
		Sequence:   int64(ev.sequence),
		FrameTs:    int64(ev.frameTs),
		Size:       int32(ev.size),
		ReceivedAt: ev.at.UnixMicro(),
	}
}

func (r *Recorder) flush() {
	r.flushWith(r.ctx)
}

// flushWith writes the current batches to the database.
func (r *Recorder) flushWith(ctx context.Context) {
	r.batchMu.Lock()
	if len(r.statusBatch) == 0 && len(r.frameBatch) == 0 {
		r.batchMu.Unlock()
		return
	}

	// Take ownership of current batches
	statuses := r.statusBatch
	frames := r.frameBatch
	r.statusBatch = make([]statusRow, 0, r.cfg.BatchSize)
	r.frameBatch = make([]frameRow, 0, r.cfg.BatchSize)
	r.batchMu.Unlock()

	start := time.Now()

	conflicts, err := r.batchInsert(ctx, statuses, frames)
	if err != nil {
		r.logger.Error("batch insert failed",
			"error", err,
			"statuses", len(statuses),
			"frames", len(frames),
		)
		r.batchMu.Lock()
		r.metrics.Errors++
		r.batchMu.Unlock()
		return
	}

	r.batchMu.Lock()
	r.metrics.StatusInserts += int64(len(statuses))
	r.metrics.FrameInserts += int64(len(frames) - conflicts)
	r.metrics.Conflicts += int64(conflicts)
	r.metrics.Flushes++
	r.batchMu.Unlock()

	r.logger.Debug("flushed recordings",
		"statuses", len(statuses),
		"frames", len(frames),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch. Duplicate frames are skipped.
func (r *Recorder) batchInsert(ctx context.Context, statuses []statusRow, frames []frameRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, s := range statuses {
		batch.Queue(`
			INSERT INTO camera_status_events (event_id, device_id, status, recorded_at)
			VALUES ($1, $2, $3, $4)
		`, s.EventID, s.DeviceID, s.Status, s.RecordedAt)
	}
	for _, f := range frames {
		batch.Queue(`
			INSERT INTO camera_frames (device_id, channel, codec, key_frame, sequence, frame_ts, size, received_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (device_id, channel, sequence, frame_ts) DO NOTHING
		`, f.DeviceID, f.Channel, f.Codec, f.KeyFrame, f.Sequence, f.FrameTs, f.Size, f.ReceivedAt)
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	for range statuses {
		if _, err := results.Exec(); err != nil {
			return 0, err
		}
	}
	for range frames {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}
	return conflicts, nil
}
