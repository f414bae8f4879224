package decode

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/camera-gateway/internal/media"
	"github.com/rickgao/camera-gateway/internal/queue"
)

// Decoder turns raw frames into images or PCM. A nil payload with a nil
// error means the frame produced no output.
type Decoder interface {
	DecodeVideo(f media.Frame) ([]byte, error)
	DecodeAudio(f media.Frame) ([]byte, error)
}

// Factory creates the decoder for one channel.
type Factory func(channel int) Decoder

// SinkFunc receives decoded output.
type SinkFunc func(channel int, timestamp uint64, data []byte)

// Sink routes decoded output back to the session.
type Sink struct {
	OnImage SinkFunc
	OnAudio SinkFunc
}

// Config holds pipeline configuration.
type Config struct {
	QueueSize     int              // Per-channel frame queue capacity
	DropPolicy    queue.DropPolicy // Applied when a queue is full
	FrameInterval time.Duration    // Minimum spacing between emitted images (0 = every image)
	EnableAudio   bool             // Decode audio frames
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		QueueSize:     32,
		DropPolicy:    queue.DropOldest,
		FrameInterval: 500 * time.Millisecond,
	}
}

// WorkerStats contains per-channel statistics.
type WorkerStats struct {
	Channel       int
	Queued        int
	Dropped       int64
	Decoded       int64
	Emitted       int64
	DecodeErrors  int64
	SkippedFrames int64
}

// Pipeline owns one decode worker per channel.
type Pipeline struct {
	cfg     Config
	logger  *slog.Logger
	workers []*worker
	wg      sync.WaitGroup

	closeOnce sync.Once
}

type worker struct {
	channel int
	dec     Decoder
	input   *queue.Bounded[media.Frame]
	sink    Sink
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time

	lastImage time.Time

	decoded      atomic.Int64
	emitted      atomic.Int64
	decodeErrors atomic.Int64
	skipped      atomic.Int64
}

// NewPipeline starts one worker per channel.
func NewPipeline(cfg Config, channels int, factory Factory, sink Sink, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if factory == nil {
		factory = func(int) Decoder { return Passthrough{} }
	}

	p := &Pipeline{
		cfg:     cfg,
		logger:  logger,
		workers: make([]*worker, channels),
	}

	for ch := 0; ch < channels; ch++ {
		w := &worker{
			channel: ch,
			dec:     factory(ch),
			input:   queue.NewBounded[media.Frame](cfg.QueueSize, cfg.DropPolicy),
			sink:    sink,
			cfg:     cfg,
			logger:  logger.With("channel", ch),
			now:     time.Now,
		}
		p.workers[ch] = w

		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			w.run()
		}()
	}

	logger.Debug("decode pipeline started",
		"channels", channels,
		"queue_size", cfg.QueueSize,
		"drop_policy", cfg.DropPolicy,
	)

	return p
}

// Push hands a frame to its channel's worker without blocking.
// Returns false if the frame was not queued.
func (p *Pipeline) Push(f media.Frame) bool {
	if f.Channel < 0 || f.Channel >= len(p.workers) {
		return false
	}
	ok, dropped := p.workers[f.Channel].input.Push(f)
	if dropped {
		p.logger.Debug("decode queue full, dropping frame",
			"channel", f.Channel,
			"policy", p.cfg.DropPolicy,
		)
	}
	return ok
}

// Close stops all workers and waits for them to exit.
func (p *Pipeline) Close() {
	p.closeOnce.Do(func() {
		for _, w := range p.workers {
			w.input.Close()
		}
		p.wg.Wait()
		p.logger.Debug("decode pipeline stopped", "channels", len(p.workers))
	})
}

// Channels returns the number of workers.
func (p *Pipeline) Channels() int {
	return len(p.workers)
}

// Stats returns per-channel statistics.
func (p *Pipeline) Stats() []WorkerStats {
	out := make([]WorkerStats, len(p.workers))
	for i, w := range p.workers {
		qs := w.input.Stats()
		out[i] = WorkerStats{
			Channel:       w.channel,
			Queued:        qs.Count,
			Dropped:       qs.Dropped,
			Decoded:       w.decoded.Load(),
			Emitted:       w.emitted.Load(),
			DecodeErrors:  w.decodeErrors.Load(),
			SkippedFrames: w.skipped.Load(),
		}
	}
	return out
}

// run consumes frames until the queue is closed.
func (w *worker) run() {
	for {
		f, ok := w.input.Receive()
		if !ok {
			return
		}
		w.handle(f)
	}
}

func (w *worker) handle(f media.Frame) {
	switch f.Kind() {
	case media.KindVideo:
		data, err := w.dec.DecodeVideo(f)
		if !w.account(f, err) || data == nil {
			return
		}
		now := w.now()
		if w.cfg.FrameInterval > 0 && !w.lastImage.IsZero() && now.Sub(w.lastImage) < w.cfg.FrameInterval {
			w.skipped.Add(1)
			return
		}
		w.lastImage = now
		w.emit(w.sink.OnImage, f, data)

	case media.KindAudio:
		if !w.cfg.EnableAudio {
			w.skipped.Add(1)
			return
		}
		data, err := w.dec.DecodeAudio(f)
		if !w.account(f, err) || data == nil {
			return
		}
		w.emit(w.sink.OnAudio, f, data)

	default:
		w.skipped.Add(1)
	}
}

func (w *worker) account(f media.Frame, err error) bool {
	if err != nil {
		w.decodeErrors.Add(1)
		w.logger.Debug("decode failed",
			"codec", f.Codec,
			"seq", f.Sequence,
			"error", err,
		)
		return false
	}
	w.decoded.Add(1)
	return true
}

func (w *worker) emit(fn SinkFunc, f media.Frame, data []byte) {
	if fn == nil {
		return
	}
	w.emitted.Add(1)
	fn(w.channel, f.Timestamp, data)
}
