// Package motionpool dispatches the CPU-heavy per-frame normalization
// work (decode, resize, grayscale, shadow normalization) off the I/O
// path, per spec §4.6.
package motionpool

import (
	"bytes"
	"errors"
	"image"
	"image/jpeg"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/image/draw"
)

// DefaultQueueSize is the bounded submit queue's default capacity.
const DefaultQueueSize = 50

// TaskTimeout is how long a single in-flight task may run before the
// pool abandons it and reports a timeout (spec §4.6, §5).
const TaskTimeout = 5 * time.Second

// ErrQueueFull is returned immediately by Submit when the bounded
// queue has no room; callers must drop the frame rather than block.
var ErrQueueFull = errors.New("motionpool: task queue is full")

// ErrTaskTimeout is delivered on Future.Wait when a task exceeds
// TaskTimeout.
var ErrTaskTimeout = errors.New("motionpool: task timed out")

// FrameConfig describes how a raw JPEG should be normalized before
// comparison.
type FrameConfig struct {
	Width           int
	Height          int
	ColorMode       bool
	ShadowEnabled   bool
	ShadowIntensity float64
}

// Pixels is the normalized output of one task: either a single-channel
// grayscale buffer (len = Width*Height) or an RGB buffer (len =
// Width*Height*3), depending on the config that produced it.
type Pixels struct {
	Width  int
	Height int
	Color  bool
	Data   []byte
}

type task struct {
	jpegBytes []byte
	cfg       FrameConfig
	resultCh  chan taskOutcome
	queuedAt  time.Time
}

type taskOutcome struct {
	pixels Pixels
	err    error
}

// Future is a handle to a submitted task's eventual result.
type Future struct {
	resultCh chan taskOutcome
}

// Wait blocks until the task completes or timeout elapses, whichever
// is first. The pool itself also enforces TaskTimeout server-side;
// this client-side timeout exists so a caller never waits longer than
// it wants to.
func (f *Future) Wait(timeout time.Duration) (Pixels, error) {
	select {
	case out := <-f.resultCh:
		return out.pixels, out.err
	case <-time.After(timeout):
		return Pixels{}, ErrTaskTimeout
	}
}

// WorkerStats are per-worker counters.
type WorkerStats struct {
	Completed uint64
	Failed    uint64
	Timeouts  uint64
}

// Stats is a weakly-consistent snapshot of pool-wide counters.
type Stats struct {
	Queued         uint64
	Completed      uint64
	Failed         uint64
	Dropped        uint64
	AvgProcessMs   float64
	PerWorker      []WorkerStats
}

// Pool is a fixed-size pool of workers normalizing frames for the
// motion detector.
type Pool struct {
	tasks   chan task
	stopCh  chan struct{}
	wg      sync.WaitGroup

	queued    uint64
	completed uint64
	failed    uint64
	dropped   uint64
	totalMs   uint64 // accumulated processing time in milliseconds

	workerStats []workerCounters
}

type workerCounters struct {
	completed uint64
	failed    uint64
	timeouts  uint64
}

// New starts a pool of N = max(1, numWorkers) workers with a bounded
// queue of queueSize tasks. Zero/negative numWorkers defaults to
// max(1, runtime.NumCPU()-1); zero/negative queueSize defaults to
// DefaultQueueSize.
func New(numWorkers, queueSize int) *Pool {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU() - 1
		if numWorkers < 1 {
			numWorkers = 1
		}
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	p := &Pool{
		tasks:       make(chan task, queueSize),
		stopCh:      make(chan struct{}),
		workerStats: make([]workerCounters, numWorkers),
	}
	for id := 0; id < numWorkers; id++ {
		p.wg.Add(1)
		go p.runWorker(id)
	}
	return p
}

// Submit enqueues a JPEG frame for normalization. It never blocks: if
// the queue is full it returns ErrQueueFull immediately and the caller
// (the detector) must drop the frame.
func (p *Pool) Submit(jpegBytes []byte, cfg FrameConfig) (*Future, error) {
	t := task{
		jpegBytes: jpegBytes,
		cfg:       cfg,
		resultCh:  make(chan taskOutcome, 1),
		queuedAt:  time.Now(),
	}
	select {
	case p.tasks <- t:
		atomic.AddUint64(&p.queued, 1)
		return &Future{resultCh: t.resultCh}, nil
	default:
		atomic.AddUint64(&p.dropped, 1)
		return nil, ErrQueueFull
	}
}

// Shutdown stops accepting new work and waits for in-flight tasks to
// drain up to the caller's context deadline behavior — callers pass
// their own deadline via timeout.
func (p *Pool) Shutdown(timeout time.Duration) {
	close(p.stopCh)
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
	}
}

// Stats returns a snapshot of pool-wide and per-worker counters.
func (p *Pool) Stats() Stats {
	completed := atomic.LoadUint64(&p.completed)
	totalMs := atomic.LoadUint64(&p.totalMs)
	avg := 0.0
	if completed > 0 {
		avg = float64(totalMs) / float64(completed)
	}
	perWorker := make([]WorkerStats, len(p.workerStats))
	for i := range p.workerStats {
		perWorker[i] = WorkerStats{
			Completed: atomic.LoadUint64(&p.workerStats[i].completed),
			Failed:    atomic.LoadUint64(&p.workerStats[i].failed),
			Timeouts:  atomic.LoadUint64(&p.workerStats[i].timeouts),
		}
	}
	return Stats{
		Queued:       atomic.LoadUint64(&p.queued),
		Completed:    completed,
		Failed:       atomic.LoadUint64(&p.failed),
		Dropped:      atomic.LoadUint64(&p.dropped),
		AvgProcessMs: avg,
		PerWorker:    perWorker,
	}
}

// runWorker is the worker's main loop. The loop itself never blocks on
// a pathological decode: processing happens in a disposable child
// goroutine. If the child doesn't finish within TaskTimeout, the loop
// abandons it (Go has no mechanism to forcibly kill a goroutine) and
// immediately moves on to the next task — which, from outside, is
// indistinguishable from "the worker was terminated and respawned with
// the same id" since the worker identity (this loop) never actually
// blocked.
func (p *Pool) runWorker(id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case t := <-p.tasks:
			p.execute(id, t)
		}
	}
}

func (p *Pool) execute(id int, t task) {
	start := time.Now()
	doneCh := make(chan taskOutcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				doneCh <- taskOutcome{err: errors.New("motionpool: worker panic during processing")}
			}
		}()
		pixels, err := normalize(t.jpegBytes, t.cfg)
		doneCh <- taskOutcome{pixels: pixels, err: err}
	}()

	select {
	case out := <-doneCh:
		elapsed := time.Since(start)
		atomic.AddUint64(&p.totalMs, uint64(elapsed.Milliseconds()))
		if out.err != nil {
			atomic.AddUint64(&p.failed, 1)
			atomic.AddUint64(&p.workerStats[id].failed, 1)
		} else {
			atomic.AddUint64(&p.completed, 1)
			atomic.AddUint64(&p.workerStats[id].completed, 1)
		}
		t.resultCh <- out
	case <-time.After(TaskTimeout):
		atomic.AddUint64(&p.failed, 1)
		atomic.AddUint64(&p.workerStats[id].timeouts, 1)
		t.resultCh <- taskOutcome{err: ErrTaskTimeout}
	}
}

// normalize decodes a JPEG, resizes it with a cheap nearest-neighbor
// kernel, converts to grayscale unless ColorMode is set, and applies
// illumination normalization when ShadowEnabled.
func normalize(jpegBytes []byte, cfg FrameConfig) (Pixels, error) {
	img, err := jpeg.Decode(bytes.NewReader(jpegBytes))
	if err != nil {
		return Pixels{}, err
	}

	resized := image.NewRGBA(image.Rect(0, 0, cfg.Width, cfg.Height))
	draw.NearestNeighbor.Scale(resized, resized.Bounds(), img, img.Bounds(), draw.Src, nil)

	if cfg.ColorMode {
		data := make([]byte, cfg.Width*cfg.Height*3)
		for i := 0; i < cfg.Width*cfg.Height; i++ {
			o := i * 4
			data[i*3] = resized.Pix[o]
			data[i*3+1] = resized.Pix[o+1]
			data[i*3+2] = resized.Pix[o+2]
		}
		if cfg.ShadowEnabled {
			normalizeIlluminationRGB(data, cfg.Width, cfg.Height, cfg.ShadowIntensity)
		}
		return Pixels{Width: cfg.Width, Height: cfg.Height, Color: true, Data: data}, nil
	}

	gray := make([]byte, cfg.Width*cfg.Height)
	for i := 0; i < cfg.Width*cfg.Height; i++ {
		o := i * 4
		r, g, b := resized.Pix[o], resized.Pix[o+1], resized.Pix[o+2]
		gray[i] = byte((299*int(r) + 587*int(g) + 114*int(b)) / 1000)
	}
	if cfg.ShadowEnabled {
		normalizeIlluminationGray(gray, cfg.Width, cfg.Height, cfg.ShadowIntensity)
	}
	return Pixels{Width: cfg.Width, Height: cfg.Height, Color: false, Data: gray}, nil
}
