package mjpeg

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"camfeed/internal/bufpool"
	"camfeed/internal/frame"
	"camfeed/internal/prebuffer"
)

// stallTimeout is how long the proxy waits for a completed frame (an
// EOI) before declaring the upstream connection dead (spec §4.4).
const stallTimeout = 3 * time.Second

// busyBodyMarker is the literal substring a droid-cam-style upstream
// sends in an HTML body when another client already holds the camera.
const busyBodyMarker = "DroidCam is Busy"

// UpstreamEvent is delivered on UpstreamEvents() whenever the proxy's
// connection to its source goes up or down.
type UpstreamEvent struct {
	Up     bool
	Reason string
	At     time.Time
}

// SourceConfig is the static configuration of one camera source.
type SourceConfig struct {
	ID        string
	Name      string
	URL       string
	IsDefault bool
}

// Stats is a point-in-time, weakly-consistent snapshot of a proxy.
type Stats struct {
	IsConnected  bool
	SourceURL    string
	ClientCount  int
	FrameCount   uint64
	LastFrameAt  time.Time
	Paused       bool
	PauseUntil   time.Time
}

// Proxy owns one upstream MJPEG connection and fans completed frames
// out to viewers, a pre-buffer, and a motion-detection sample tap. Per
// spec §3 "Ownership": the proxy exclusively owns its upstream
// connection, parser state, viewer set, pre-buffer, and sampling tap.
type Proxy struct {
	cfg    SourceConfig
	pool   *bufpool.Pool
	logger *log.Logger

	motionFPS int

	preBuffer *prebuffer.Buffer

	mu      sync.Mutex // serializes addViewer/removeViewer/dispatch/pause, per spec §5
	viewers map[string]*Viewer
	paused  bool
	pauseUntil time.Time

	connected   atomic.Bool
	frameSeq    uint64 // atomic
	frameCount  uint64 // atomic
	lastFrameAt atomic.Int64
	lastSampleAt atomic.Int64

	frameEvents  chan *frame.Frame // recorder subscribes here
	motionFrames chan *frame.Frame // detector's sample tap
	upstreamEvents chan UpstreamEvent

	cancel context.CancelFunc
	done   chan struct{}

	httpClient *http.Client
}

// New constructs a proxy for one source. preBufferCapacity is the
// circular pre-buffer's frame capacity (preBufferSeconds * sourceFPS).
// It does not connect; call Start to begin the upstream connection and
// background fan-out loop.
func New(cfg SourceConfig, pool *bufpool.Pool, preBufferCapacity, motionFPS int, logger *log.Logger) *Proxy {
	if motionFPS <= 0 {
		motionFPS = 5
	}
	return &Proxy{
		cfg:            cfg,
		pool:           pool,
		logger:         logger,
		motionFPS:      motionFPS,
		preBuffer:      prebuffer.NewBuffer(preBufferCapacity),
		viewers:        make(map[string]*Viewer),
		frameEvents:    make(chan *frame.Frame, 8),
		motionFrames:   make(chan *frame.Frame, 1),
		upstreamEvents: make(chan UpstreamEvent, 4),
		httpClient:     &http.Client{},
	}
}

// Config returns the source's static configuration.
func (p *Proxy) Config() SourceConfig { return p.cfg }

// PreBuffer exposes the circular pre-buffer for the recording controller.
func (p *Proxy) PreBuffer() *prebuffer.Buffer { return p.preBuffer }

// FrameEvents delivers completed frames (paused or not) for consumers
// such as the recording controller. The send is non-blocking: a frame is
// skipped on this channel when its 8-frame buffer is full.
func (p *Proxy) FrameEvents() <-chan *frame.Frame { return p.frameEvents }

// MotionFrameEvents delivers the sampled subsequence of frames used to
// feed the motion-detection pipeline.
func (p *Proxy) MotionFrameEvents() <-chan *frame.Frame { return p.motionFrames }

// UpstreamEvents delivers connect/disconnect notifications.
func (p *Proxy) UpstreamEvents() <-chan UpstreamEvent { return p.upstreamEvents }

// Start connects eagerly and begins the reconnect loop in a background
// goroutine. Proxies are persistent: the upstream connection is kept
// alive even with zero viewers (spec §3 "Lifecycle").
func (p *Proxy) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(ctx)
}

// Disconnect tears down the upstream connection and stops reconnecting.
func (p *Proxy) Disconnect() {
	if p.cancel != nil {
		p.cancel()
		<-p.done
	}
}

func (p *Proxy) run(ctx context.Context) {
	defer close(p.done)
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		reachedUpstreamUp, err := p.connectOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		p.connected.Store(false)
		reason := "unknown"
		if err != nil {
			reason = err.Error()
		}
		p.emitUpstream(UpstreamEvent{Up: false, Reason: reason, At: time.Now()})
		p.logger.Printf("[proxy:%s] upstream down: %v", p.cfg.ID, err)

		if reachedUpstreamUp {
			// spec §4.4: on success, the attempt counter resets to 0, so a
			// flaky camera that keeps reconnecting restarts at the 2s floor
			// every time it manages a clean connection instead of being
			// throttled toward the 10s cap forever.
			attempt = 0
		}
		attempt++
		backoff := reconnectBackoff(attempt)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

// reconnectBackoff implements the capped exponential backoff of spec
// §4.4: 2s * min(attempt, 5), capped at 10s.
func reconnectBackoff(attempt int) time.Duration {
	n := attempt
	if n > 5 {
		n = 5
	}
	d := time.Duration(n) * 2 * time.Second
	if d > 10*time.Second {
		d = 10 * time.Second
	}
	return d
}

// connectOnce dials the upstream once and streams until it drops or the
// context is cancelled. The returned bool reports whether the upstream
// was reached (content-type and status validated, upstream-up emitted)
// even though the only way connectOnce returns is with a non-nil error
// once the stream itself ends — run() uses it to reset the reconnect
// backoff counter on any connection that actually came up.
func (p *Proxy) connectOnce(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.URL, nil)
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("dial upstream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Errorf("upstream status %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "text/html") {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if bytes.Contains(body, []byte(busyBodyMarker)) {
			return false, fmt.Errorf("upstream busy")
		}
		return false, fmt.Errorf("unexpected text/html response")
	}
	if !strings.Contains(contentType, "multipart/x-mixed-replace") && !strings.Contains(contentType, "image/jpeg") {
		return false, fmt.Errorf("unexpected content-type %q", contentType)
	}

	p.connected.Store(true)
	p.emitUpstream(UpstreamEvent{Up: true, At: time.Now()})
	p.logger.Printf("[proxy:%s] upstream connected", p.cfg.ID)

	return true, p.readLoop(ctx, resp.Body)
}

type readResult struct {
	chunk []byte
	err   error
}

func (p *Proxy) readLoop(ctx context.Context, body io.ReadCloser) error {
	parser := NewParser(0)
	results := make(chan readResult, 1)
	readerDone := make(chan struct{})

	go func() {
		defer close(readerDone)
		buf := make([]byte, 32*1024)
		for {
			n, err := body.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				select {
				case results <- readResult{chunk: chunk}:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				select {
				case results <- readResult{err: err}:
				case <-ctx.Done():
				}
				return
			}
		}
	}()

	timer := time.NewTimer(stallTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return fmt.Errorf("upstream stalled: no frame in %s", stallTimeout)
		case r := <-results:
			if r.err != nil {
				if r.err == io.EOF {
					return fmt.Errorf("upstream closed connection")
				}
				return fmt.Errorf("read upstream: %w", r.err)
			}
			frames := parser.Feed(r.chunk)
			if len(frames) > 0 {
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(stallTimeout)
			}
			for _, raw := range frames {
				p.handleFrame(raw)
			}
		}
	}
}

func (p *Proxy) emitUpstream(ev UpstreamEvent) {
	select {
	case p.upstreamEvents <- ev:
	default:
	}
}

func (p *Proxy) handleFrame(raw []byte) {
	seq := atomic.AddUint64(&p.frameSeq, 1)
	now := time.Now()

	h := p.pool.Acquire(len(raw))
	b := h.Bytes()
	copy(b, raw)
	f := frame.New(p.pool, h, b[:len(raw)], p.cfg.ID, seq, now)

	atomic.AddUint64(&p.frameCount, 1)
	p.lastFrameAt.Store(now.UnixNano())

	p.preBuffer.Push(f)

	p.mu.Lock()
	paused := p.isPausedLocked(now)
	var toClose []*Viewer
	if !paused {
		for _, v := range p.viewers {
			f.Retain()
			if v.offer(f) {
				continue
			}
			f.Release()
			if v.exhausted() {
				toClose = append(toClose, v)
			}
		}
	}
	for _, v := range toClose {
		delete(p.viewers, v.ID)
	}
	p.mu.Unlock()
	for _, v := range toClose {
		v.close()
	}

	if !paused {
		p.sample(f, now)
	}

	select {
	case p.frameEvents <- f:
		f.Retain()
	default:
	}

	f.Release()
}

// sample forwards the frame to the detector's sample tap at most once
// every 1000/motionFps ms, skipping if the previous sample has not yet
// been drained (spec §4.4 "Sampling").
func (p *Proxy) sample(f *frame.Frame, now time.Time) {
	minInterval := time.Second / time.Duration(p.motionFPS)
	last := p.lastSampleAt.Load()
	if last != 0 && now.Sub(time.Unix(0, last)) < minInterval {
		return
	}
	f.Retain()
	select {
	case p.motionFrames <- f:
		p.lastSampleAt.Store(now.UnixNano())
	default:
		f.Release()
	}
}

// AddViewer registers a new viewer sink for this source.
func (p *Proxy) AddViewer() *Viewer {
	v := newViewer(p.cfg.ID)
	p.mu.Lock()
	p.viewers[v.ID] = v
	p.mu.Unlock()
	return v
}

// RemoveViewer unregisters and closes a viewer. Safe to call more than
// once for the same id.
func (p *Proxy) RemoveViewer(id string) {
	p.mu.Lock()
	v, ok := p.viewers[id]
	if ok {
		delete(p.viewers, id)
	}
	p.mu.Unlock()
	if ok {
		v.close()
	}
}

// Pause suppresses broadcast and sampling until now+d. Per the spec's
// resolved open question (strict-monotone reading, see DESIGN.md),
// untilMono never moves backward: a shorter pause while already paused
// does not shorten the existing window.
func (p *Proxy) Pause(d time.Duration) time.Time {
	now := time.Now()
	newUntil := now.Add(d)
	p.mu.Lock()
	if p.paused && p.pauseUntil.After(newUntil) {
		newUntil = p.pauseUntil
	}
	p.paused = true
	p.pauseUntil = newUntil
	p.mu.Unlock()
	return newUntil
}

// Resume clears pause state immediately.
func (p *Proxy) Resume() {
	p.mu.Lock()
	p.paused = false
	p.pauseUntil = time.Time{}
	p.mu.Unlock()
}

// PauseState reports whether the proxy is currently paused and until
// when, auto-clearing an expired pause as a side effect (the "unpause
// on next status check" half of spec §3's either-is-acceptable rule).
func (p *Proxy) PauseState() (paused bool, until time.Time) {
	now := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	paused = p.isPausedLocked(now)
	until = p.pauseUntil
	return
}

// isPausedLocked must be called with mu held. It auto-clears an
// expired pause, satisfying "Expiration unpauses automatically on the
// next frame or on a timer" via the next frame/status check.
func (p *Proxy) isPausedLocked(now time.Time) bool {
	if !p.paused {
		return false
	}
	if now.Before(p.pauseUntil) {
		return true
	}
	p.paused = false
	p.pauseUntil = time.Time{}
	return false
}

// GetStats returns a snapshot of this proxy's state.
func (p *Proxy) GetStats() Stats {
	paused, until := p.PauseState()
	var lastFrame time.Time
	if ns := p.lastFrameAt.Load(); ns != 0 {
		lastFrame = time.Unix(0, ns)
	}
	p.mu.Lock()
	clientCount := len(p.viewers)
	p.mu.Unlock()
	return Stats{
		IsConnected: p.connected.Load(),
		SourceURL:   p.cfg.URL,
		ClientCount: clientCount,
		FrameCount:  atomic.LoadUint64(&p.frameCount),
		LastFrameAt: lastFrame,
		Paused:      paused,
		PauseUntil:  until,
	}
}
