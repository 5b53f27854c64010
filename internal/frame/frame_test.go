package frame

import (
	"testing"
	"time"

	"camfeed/internal/bufpool"
)

func TestRetainReleaseReturnsToPool(t *testing.T) {
	pool := bufpool.New(64, 1)
	h := pool.Acquire(10)
	f := New(pool, h, h.Bytes()[:10], "cam-1", 1, time.Now())

	f.Retain() // simulate the pre-buffer holding a second reference
	f.Release()
	if pool.Stats().Available != 0 {
		t.Fatalf("buffer returned to pool too early")
	}

	f.Release()
	if pool.Stats().Available != 1 {
		t.Fatalf("buffer not returned to pool after last release")
	}
}
