package mjpeg

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"camfeed/internal/frame"
)

// DefaultViewerBacklog is the bounded per-viewer send backlog (spec §3,
// §4.4): once full, new frames are dropped for that viewer rather than
// blocking the fan-out of other viewers.
const DefaultViewerBacklog = 2

// MaxConsecutiveDrops is the number of back-to-back drops after which a
// persistently slow viewer is closed (spec §4.4, suggested N = 30).
const MaxConsecutiveDrops = 30

// Viewer is a downstream HTTP consumer of a proxied MJPEG stream. The
// proxy owns fan-out into Frames(); the HTTP handler that created the
// viewer owns draining it and performing the three sequential writes
// (boundary header, frame bytes, trailing CRLF) spec §4.4 requires.
type Viewer struct {
	ID          string
	SourceID    string
	ConnectedAt time.Time

	ch     chan *frame.Frame
	drops  int32 // consecutive drop counter
	writes uint64
	lastSend int64 // unix nanos, atomic
	closed atomic.Bool
}

func newViewer(sourceID string) *Viewer {
	return &Viewer{
		ID:          uuid.NewString(),
		SourceID:    sourceID,
		ConnectedAt: time.Now(),
		ch:          make(chan *frame.Frame, DefaultViewerBacklog),
	}
}

// Frames returns the channel the viewer's HTTP handler should range
// over. It is closed by the proxy when the viewer is removed.
func (v *Viewer) Frames() <-chan *frame.Frame { return v.ch }

// FramesWritten returns how many frames this viewer has successfully
// been handed (not necessarily yet written to the socket).
func (v *Viewer) FramesWritten() uint64 { return atomic.LoadUint64(&v.writes) }

// LastSend returns the last time a frame was successfully enqueued.
func (v *Viewer) LastSend() time.Time {
	ns := atomic.LoadInt64(&v.lastSend)
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// offer attempts a non-blocking send. It returns true if the frame was
// enqueued (caller's reference is transferred to the viewer; the
// consumer is responsible for releasing it), false if dropped.
func (v *Viewer) offer(f *frame.Frame) bool {
	select {
	case v.ch <- f:
		atomic.AddUint64(&v.writes, 1)
		atomic.StoreInt64(&v.lastSend, time.Now().UnixNano())
		atomic.StoreInt32(&v.drops, 0)
		return true
	default:
		atomic.AddInt32(&v.drops, 1)
		return false
	}
}

// exhausted reports whether this viewer has hit the consecutive-drop
// limit and should be closed.
func (v *Viewer) exhausted() bool {
	return atomic.LoadInt32(&v.drops) >= MaxConsecutiveDrops
}

// close closes the viewer's channel exactly once, releasing any
// frames still sitting in the backlog.
func (v *Viewer) close() {
	if !v.closed.CompareAndSwap(false, true) {
		return
	}
	close(v.ch)
	for f := range v.ch {
		f.Release()
	}
}
