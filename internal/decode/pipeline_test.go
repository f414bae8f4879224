package decode

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rickgao/camera-gateway/internal/media"
	"github.com/rickgao/camera-gateway/internal/queue"
)

type output struct {
	channel int
	ts      uint64
	data    string
}

type collector struct {
	mu     sync.Mutex
	images []output
	audio  []output
}

func (c *collector) sink() Sink {
	return Sink{
		OnImage: func(ch int, ts uint64, data []byte) {
			c.mu.Lock()
			c.images = append(c.images, output{ch, ts, string(data)})
			c.mu.Unlock()
		},
		OnAudio: func(ch int, ts uint64, data []byte) {
			c.mu.Lock()
			c.audio = append(c.audio, output{ch, ts, string(data)})
			c.mu.Unlock()
		},
	}
}

func (c *collector) counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.images), len(c.audio)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func videoFrame(ch int, ts uint64, ft media.FrameType, data string) media.Frame {
	return media.NewFrame(media.CodecH264, ch, ts, uint32(ts), ft, []byte(data))
}

func audioFrame(ch int, ts uint64, data string) media.Frame {
	return media.NewFrame(media.CodecOpus, ch, ts, uint32(ts), media.FrameP, []byte(data))
}

func TestPipeline_RoutesByChannel(t *testing.T) {
	c := &collector{}
	cfg := Config{QueueSize: 8, EnableAudio: true}
	p := NewPipeline(cfg, 2, nil, c.sink(), nil)
	defer p.Close()

	p.Push(videoFrame(0, 100, media.FrameI, "img0"))
	p.Push(videoFrame(1, 200, media.FrameI, "img1"))
	p.Push(audioFrame(1, 300, "pcm1"))

	waitFor(t, func() bool {
		images, audio := c.counts()
		return images == 2 && audio == 1
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	seen := map[int]string{}
	for _, o := range c.images {
		seen[o.channel] = o.data
	}
	if seen[0] != "img0" || seen[1] != "img1" {
		t.Errorf("images by channel = %v", seen)
	}
	if c.audio[0].channel != 1 || c.audio[0].ts != 300 {
		t.Errorf("audio = %+v, want channel 1 ts 300", c.audio[0])
	}
}

func TestPipeline_PushOutOfRange(t *testing.T) {
	p := NewPipeline(Config{QueueSize: 1}, 1, nil, Sink{}, nil)
	defer p.Close()

	if p.Push(videoFrame(3, 0, media.FrameI, "x")) {
		t.Error("Push to unknown channel should return false")
	}
}

func TestPipeline_AudioDisabled(t *testing.T) {
	c := &collector{}
	p := NewPipeline(Config{QueueSize: 4, EnableAudio: false}, 1, nil, c.sink(), nil)

	p.Push(audioFrame(0, 1, "a"))
	p.Push(videoFrame(0, 2, media.FrameI, "v"))

	waitFor(t, func() bool {
		images, _ := c.counts()
		return images == 1
	})
	p.Close()

	if _, audio := c.counts(); audio != 0 {
		t.Errorf("audio outputs = %d, want 0 when audio disabled", audio)
	}
	if got := p.Stats()[0].SkippedFrames; got != 1 {
		t.Errorf("SkippedFrames = %d, want 1", got)
	}
}

func TestWorker_FrameIntervalThrottle(t *testing.T) {
	c := &collector{}
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	w := &worker{
		dec:  Passthrough{},
		sink: c.sink(),
		cfg:  Config{FrameInterval: 500 * time.Millisecond},
		now:  func() time.Time { return now },
	}

	w.handle(videoFrame(0, 0, media.FrameI, "a"))
	now = now.Add(100 * time.Millisecond)
	w.handle(videoFrame(0, 100, media.FrameI, "b")) // throttled
	now = now.Add(500 * time.Millisecond)
	w.handle(videoFrame(0, 600, media.FrameI, "c"))

	images, _ := c.counts()
	if images != 2 {
		t.Fatalf("images = %d, want 2", images)
	}
	if c.images[1].data != "c" {
		t.Errorf("second image = %q, want c", c.images[1].data)
	}
	if w.skipped.Load() != 1 {
		t.Errorf("skipped = %d, want 1", w.skipped.Load())
	}
}

func TestWorker_PFramesProduceNoImage(t *testing.T) {
	c := &collector{}
	w := &worker{dec: Passthrough{}, sink: c.sink(), now: time.Now}

	w.handle(videoFrame(0, 0, media.FrameP, "p"))

	if images, _ := c.counts(); images != 0 {
		t.Errorf("images = %d, want 0 for P frame", images)
	}
	if w.decoded.Load() != 1 {
		t.Errorf("decoded = %d, want 1", w.decoded.Load())
	}
}

type failingDecoder struct{}

func (failingDecoder) DecodeVideo(media.Frame) ([]byte, error) { return nil, errors.New("bad nal") }
func (failingDecoder) DecodeAudio(media.Frame) ([]byte, error) { return nil, errors.New("bad packet") }

func TestPipeline_DecodeErrorsCounted(t *testing.T) {
	c := &collector{}
	p := NewPipeline(Config{QueueSize: 4, EnableAudio: true}, 1,
		func(int) Decoder { return failingDecoder{} }, c.sink(), nil)

	p.Push(videoFrame(0, 1, media.FrameI, "v"))
	p.Push(audioFrame(0, 2, "a"))

	waitFor(t, func() bool { return p.Stats()[0].DecodeErrors == 2 })
	p.Close()

	if images, audio := c.counts(); images != 0 || audio != 0 {
		t.Errorf("outputs = %d/%d, want none", images, audio)
	}
}

type blockingDecoder struct {
	release chan struct{}
}

func (d blockingDecoder) DecodeVideo(f media.Frame) ([]byte, error) {
	<-d.release
	return f.Payload, nil
}

func (d blockingDecoder) DecodeAudio(f media.Frame) ([]byte, error) { return f.Payload, nil }

func TestPipeline_FullQueueDropsWithoutBlocking(t *testing.T) {
	release := make(chan struct{})
	cfg := Config{QueueSize: 2, DropPolicy: queue.DropNewest}
	p := NewPipeline(cfg, 1, func(int) Decoder { return blockingDecoder{release} }, Sink{}, nil)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			p.Push(videoFrame(0, uint64(i), media.FrameI, "x"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Push blocked behind a stalled decoder")
	}

	if p.Stats()[0].Dropped == 0 {
		t.Error("expected dropped frames on a full queue")
	}

	close(release)
	p.Close()
}
