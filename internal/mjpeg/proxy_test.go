package mjpeg

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"camfeed/internal/bufpool"
)

func jpegFrame(n byte) []byte {
	return []byte{0xFF, 0xD8, n, 0xFF, 0xD9}
}

func multipartSource(t *testing.T, frameCount int, delay time.Duration) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		flusher := w.(http.Flusher)
		for i := 0; i < frameCount; i++ {
			fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\n\r\n")
			w.Write(jpegFrame(byte(i)))
			fmt.Fprint(w, "\r\n")
			flusher.Flush()
			if delay > 0 {
				time.Sleep(delay)
			}
		}
	}))
}

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestProxyDeliversFramesToViewer(t *testing.T) {
	src := multipartSource(t, 5, 5*time.Millisecond)
	defer src.Close()

	pool := bufpool.New(64*1024, 4)
	p := New(SourceConfig{ID: "cam1", URL: src.URL, IsDefault: true}, pool, 10, 5, testLogger())
	p.Start()
	defer p.Disconnect()

	viewer := p.AddViewer()
	defer p.RemoveViewer(viewer.ID)

	select {
	case f := <-viewer.Frames():
		if f == nil {
			t.Fatal("received nil frame")
		}
		f.Release()
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a frame")
	}
}

func TestProxyPauseResumeStrictMonotone(t *testing.T) {
	src := multipartSource(t, 20, time.Millisecond)
	defer src.Close()

	pool := bufpool.New(64*1024, 4)
	p := New(SourceConfig{ID: "cam1", URL: src.URL, IsDefault: true}, pool, 10, 5, testLogger())
	p.Start()
	defer p.Disconnect()

	long := p.Pause(time.Hour)
	paused, until := p.PauseState()
	if !paused || !until.Equal(long) {
		t.Fatalf("expected paused until %v, got paused=%v until=%v", long, paused, until)
	}

	// A shorter pause must not shorten the existing one (strict-monotone reading).
	shorter := p.Pause(time.Minute)
	if !shorter.Equal(long) {
		t.Fatalf("Pause with a shorter duration should not move the deadline earlier: got %v, want %v", shorter, long)
	}

	p.Resume()
	paused, _ = p.PauseState()
	if paused {
		t.Fatal("expected not paused after Resume")
	}
}

func TestConnectOnceReportsWhetherUpstreamWasReached(t *testing.T) {
	good := multipartSource(t, 2, time.Millisecond)
	defer good.Close()

	pool := bufpool.New(64*1024, 4)
	p := New(SourceConfig{ID: "cam1", URL: good.URL, IsDefault: true}, pool, 10, 5, testLogger())
	reached, err := p.connectOnce(context.Background())
	if !reached {
		t.Fatalf("expected connectOnce to report the upstream was reached, err=%v", err)
	}
	if err == nil {
		t.Fatal("expected connectOnce to return an error once the source closes the stream")
	}

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	p2 := New(SourceConfig{ID: "cam2", URL: bad.URL, IsDefault: true}, pool, 10, 5, testLogger())
	reached2, err2 := p2.connectOnce(context.Background())
	if reached2 {
		t.Fatal("expected connectOnce to report the upstream was not reached on a bad status")
	}
	if err2 == nil {
		t.Fatal("expected an error for a bad upstream status")
	}
}

func TestRunResetsBackoffAfterCleanConnection(t *testing.T) {
	// Each connection delivers one frame then the server closes it,
	// simulating a flaky camera that always manages to stream briefly
	// before dropping. The loop below drives connectOnce directly and
	// applies the same attempt bookkeeping run() uses (reset to 0 on a
	// "reached upstream-up" cycle), checking that consecutive drops never
	// escalate the backoff past its first step.
	const cycles = 4
	src := multipartSource(t, 1, 0)
	defer src.Close()

	pool := bufpool.New(64*1024, 4)
	p := New(SourceConfig{ID: "cam1", URL: src.URL, IsDefault: true}, pool, 10, 5, testLogger())

	attempt := 0
	for i := 0; i < cycles; i++ {
		reached, err := p.connectOnce(context.Background())
		if !reached {
			t.Fatalf("cycle %d: expected connectOnce to report the upstream was reached, err=%v", i, err)
		}
		if err == nil {
			t.Fatalf("cycle %d: expected an error once the source closes the stream", i)
		}
		if reached {
			attempt = 0
		}
		attempt++
		if got := reconnectBackoff(attempt); got != 2*time.Second {
			t.Fatalf("cycle %d: backoff after a reached-then-dropped connection = %v, want the 2s floor", i, got)
		}
	}
}

func TestProxyViewerReceivesIncreasingSequence(t *testing.T) {
	src := multipartSource(t, 8, 5*time.Millisecond)
	defer src.Close()

	pool := bufpool.New(64*1024, 4)
	p := New(SourceConfig{ID: "cam1", URL: src.URL, IsDefault: true}, pool, 10, 5, testLogger())
	p.Start()
	defer p.Disconnect()

	viewer := p.AddViewer()
	defer p.RemoveViewer(viewer.ID)

	var lastSeq uint64
	received := 0
	for received < 3 {
		select {
		case f := <-viewer.Frames():
			if f.Seq <= lastSeq && received > 0 {
				t.Fatalf("sequence not strictly increasing: got %d after %d", f.Seq, lastSeq)
			}
			lastSeq = f.Seq
			received++
			f.Release()
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after receiving %d frames", received)
		}
	}
}
