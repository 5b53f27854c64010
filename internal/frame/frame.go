// Package frame defines the Frame type shared across the proxy, the
// pre-buffer, and the motion worker pool, with reference-counted
// ownership of its pooled backing buffer.
package frame

import (
	"sync/atomic"
	"time"

	"camfeed/internal/bufpool"
)

// Frame is a complete JPEG image (SOI..EOI inclusive) captured from one
// source, plus its arrival metadata. Multiple consumers (viewers, the
// pre-buffer, a worker-pool submission) each hold a reference; when the
// last reference is released the backing buffer returns to its pool.
type Frame struct {
	SourceID  string
	Seq       uint64
	// ArrivedAt comes from time.Now(), which carries a monotonic reading
	// alongside the wall clock; Sub/Before/After between two ArrivedAt
	// values use that monotonic component automatically.
	ArrivedAt time.Time

	handle *bufpool.Handle
	pool   *bufpool.Pool
	data   []byte // the exact SOI..EOI slice, backed by handle.Bytes()
	refs   int32
}

// New wraps data (already containing the exact JPEG bytes) with a pooled
// handle and an initial reference count of 1. The caller that produced
// the frame (the proxy) owns that first reference and must Release it
// once it has finished dispatching the frame to all consumers.
func New(pool *bufpool.Pool, handle *bufpool.Handle, data []byte, sourceID string, seq uint64, arrivedAt time.Time) *Frame {
	return &Frame{
		SourceID:  sourceID,
		Seq:       seq,
		ArrivedAt: arrivedAt,
		handle:    handle,
		pool:      pool,
		data:      data,
		refs:      1,
	}
}

// Bytes returns the JPEG bytes. Valid only while the caller holds a
// reference.
func (f *Frame) Bytes() []byte { return f.data }

// Retain adds one reference. Call once per additional consumer
// (pre-buffer push, worker-pool submission, viewer dispatch) that
// outlives the caller's own stack frame.
func (f *Frame) Retain() {
	atomic.AddInt32(&f.refs, 1)
}

// Release drops one reference. When the count reaches zero the backing
// buffer is returned to the pool.
func (f *Frame) Release() {
	if atomic.AddInt32(&f.refs, -1) == 0 {
		if f.pool != nil && f.handle != nil {
			f.pool.Release(f.handle)
		}
		f.handle = nil
		f.data = nil
	}
}
