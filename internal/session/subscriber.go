package session

import (
	"log/slog"
	"sync/atomic"

	"github.com/rickgao/camera-gateway/internal/queue"
)

// subscriber delivers events to one registered handler on its own goroutine,
// in order, through a bounded queue.
type subscriber struct {
	key    subKey
	queue  *queue.Bounded[func()]
	logger *slog.Logger

	onStatus  StatusHandler
	onRaw     RawHandler
	onDecoded DecodedHandler

	dropped *atomic.Int64 // Shared session counter
}

func newSubscriber(key subKey, size int, policy queue.DropPolicy, dropped *atomic.Int64, logger *slog.Logger) *subscriber {
	return &subscriber{
		key:     key,
		queue:   queue.NewBounded[func()](size, policy),
		logger:  logger,
		dropped: dropped,
	}
}

func (s *subscriber) start() {
	go s.run()
}

func (s *subscriber) run() {
	for {
		fn, ok := s.queue.Receive()
		if !ok {
			return
		}
		s.invoke(fn)
	}
}

func (s *subscriber) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("subscriber panicked",
				"category", s.key.category,
				"channel", s.key.channel,
				"panic", r)
		}
	}()
	fn()
}

// deliver enqueues fn without blocking.
func (s *subscriber) deliver(fn func()) {
	if _, dropped := s.queue.Push(fn); dropped {
		s.dropped.Add(1)
	}
}

// close stops delivery. Pending events are discarded. Does not wait, so it
// is safe to call from within the subscriber's own handler.
func (s *subscriber) close() {
	s.queue.Close()
}
