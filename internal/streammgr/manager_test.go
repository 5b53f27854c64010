package streammgr

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"camfeed/internal/bufpool"
	"camfeed/internal/mjpeg"
)

func stubSource(t *testing.T, frames int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		for i := 0; i < frames; i++ {
			fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\n\r\n")
			w.Write([]byte{0xFF, 0xD8, byte(i), 0xFF, 0xD9})
			io.WriteString(w, "\r\n")
			flusher.Flush()
		}
	}))
}

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestSourceIDCanonicalization(t *testing.T) {
	src := stubSource(t, 1)
	defer src.Close()

	mgr, err := New([]mjpeg.SourceConfig{
		{ID: "frontdoor", Name: "Front Door", URL: src.URL, IsDefault: true},
	}, bufpool.New(0, 4), 30, 5, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer mgr.Shutdown()

	byDefault, err := mgr.GetProxy("default")
	if err != nil {
		t.Fatalf("GetProxy(default): %v", err)
	}
	byID, err := mgr.GetProxy("frontdoor")
	if err != nil {
		t.Fatalf("GetProxy(frontdoor): %v", err)
	}
	if byDefault != byID {
		t.Fatal("GetProxy(\"default\") and GetProxy(canonical id) returned different proxies")
	}
}

func TestUnknownSourceErrors(t *testing.T) {
	mgr, err := New([]mjpeg.SourceConfig{
		{ID: "a", Name: "A", URL: "http://127.0.0.1:1", IsDefault: true},
	}, bufpool.New(0, 4), 30, 5, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer mgr.Shutdown()

	if _, err := mgr.GetProxy("missing"); err == nil {
		t.Fatal("expected error for unknown source id")
	}
}

func TestRequiresExactlyOneDefault(t *testing.T) {
	_, err := New([]mjpeg.SourceConfig{
		{ID: "a", IsDefault: false},
		{ID: "b", IsDefault: false},
	}, bufpool.New(0, 4), 30, 5, testLogger())
	if err == nil {
		t.Fatal("expected error when no source is default")
	}

	_, err = New([]mjpeg.SourceConfig{
		{ID: "a", IsDefault: true},
		{ID: "b", IsDefault: true},
	}, bufpool.New(0, 4), 30, 5, testLogger())
	if err == nil {
		t.Fatal("expected error when more than one source is default")
	}
}

func TestBroadcastOrderingNoReorderings(t *testing.T) {
	src := stubSource(t, 20)
	defer src.Close()

	mgr, err := New([]mjpeg.SourceConfig{
		{ID: "cam", Name: "Cam", URL: src.URL, IsDefault: true},
	}, bufpool.New(0, 4), 30, 5, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer mgr.Shutdown()

	p, err := mgr.GetProxy("cam")
	if err != nil {
		t.Fatalf("GetProxy: %v", err)
	}
	v := p.AddViewer()

	var lastSeq uint64
	deadline := time.After(3 * time.Second)
	count := 0
collect:
	for count < 20 {
		select {
		case f, ok := <-v.Frames():
			if !ok {
				break collect
			}
			if f.Seq <= lastSeq {
				t.Fatalf("out of order or duplicate sequence: got %d after %d", f.Seq, lastSeq)
			}
			lastSeq = f.Seq
			count++
			f.Release()
		case <-deadline:
			break collect
		}
	}
	if count == 0 {
		t.Fatal("viewer received no frames")
	}
}
