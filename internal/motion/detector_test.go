package motion

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"log"
	"testing"
	"time"

	"camfeed/internal/bufpool"
	"camfeed/internal/frame"
	"camfeed/internal/motionpool"
)

func grayJPEG(t *testing.T, fill color.Gray) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.SetGray(x, y, fill)
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func pushFrame(t *testing.T, ch chan *frame.Frame, pool *bufpool.Pool, data []byte, seq uint64) {
	t.Helper()
	handle := pool.Acquire(len(data))
	copy(handle.Bytes(), data)
	f := frame.New(pool, handle, handle.Bytes()[:len(data)], "cam1", seq, time.Now())
	ch <- f
}

func TestDetectorFiresOnChange(t *testing.T) {
	mp := motionpool.New(1, 8)
	defer mp.Shutdown(time.Second)

	cfg := Config{Width: 16, Height: 16, Threshold: 10}.WithDefaults()
	logger := log.New(testWriter{t}, "", 0)
	d := NewDetector("cam1", cfg, mp, logger)

	ch := make(chan *frame.Frame, 4)
	pool := bufpool.New(64*1024, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		d.Run(ctx, ch)
		close(done)
	}()

	pushFrame(t, ch, pool, grayJPEG(t, color.Gray{Y: 20}), 1)
	pushFrame(t, ch, pool, grayJPEG(t, color.Gray{Y: 220}), 2)

	select {
	case evt := <-d.Events():
		if evt.SourceID != "cam1" {
			t.Fatalf("SourceID = %q, want cam1", evt.SourceID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a motion event")
	}

	cancel()
	<-done
}

func TestDetectorPauseSuppressesAndResumeClearsPrevious(t *testing.T) {
	mp := motionpool.New(1, 8)
	defer mp.Shutdown(time.Second)

	cfg := Config{Width: 16, Height: 16, Threshold: 10}.WithDefaults()
	d := NewDetector("cam1", cfg, mp, nil)

	bufPool := bufpool.New(64*1024, 2)
	f1Data := grayJPEG(t, color.Gray{Y: 20})
	handle := bufPool.Acquire(len(f1Data))
	copy(handle.Bytes(), f1Data)
	f1 := frame.New(bufPool, handle, handle.Bytes()[:len(f1Data)], "cam1", 1, time.Now())

	d.handleFrame(f1)
	if d.previousPixels == nil {
		t.Fatal("expected previousPixels to be set after the first frame")
	}

	d.Pause()
	handle2 := bufPool.Acquire(len(f1Data))
	copy(handle2.Bytes(), f1Data)
	f2 := frame.New(bufPool, handle2, handle2.Bytes()[:len(f1Data)], "cam1", 2, time.Now())
	d.handleFrame(f2)

	d.Resume()
	if d.previousPixels != nil {
		t.Fatal("expected previousPixels to be cleared on Resume")
	}
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}
