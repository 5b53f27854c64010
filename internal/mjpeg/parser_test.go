package mjpeg

import (
	"bytes"
	"testing"
)

func sampleFrame(fill byte, n int) []byte {
	b := make([]byte, 0, n+4)
	b = append(b, 0xFF, 0xD8)
	for i := 0; i < n; i++ {
		b = append(b, fill)
	}
	b = append(b, 0xFF, 0xD9)
	return b
}

func TestFrameIntegrityAcrossChunkBoundaries(t *testing.T) {
	f1 := sampleFrame('a', 50)
	f2 := sampleFrame('b', 30)
	stream := append(append([]byte{}, f1...), f2...)

	for chunkSize := 1; chunkSize <= len(stream); chunkSize++ {
		p := NewParser(0)
		var got [][]byte
		for i := 0; i < len(stream); i += chunkSize {
			end := i + chunkSize
			if end > len(stream) {
				end = len(stream)
			}
			got = append(got, p.Feed(stream[i:end])...)
		}
		if len(got) != 2 {
			t.Fatalf("chunkSize=%d: got %d frames, want 2", chunkSize, len(got))
		}
		if !bytes.Equal(got[0], f1) {
			t.Fatalf("chunkSize=%d: frame 1 mismatch", chunkSize)
		}
		if !bytes.Equal(got[1], f2) {
			t.Fatalf("chunkSize=%d: frame 2 mismatch", chunkSize)
		}
	}
}

func TestDiscardsBytesBeforeFirstSOI(t *testing.T) {
	p := NewParser(0)
	junk := []byte{0x00, 0x01, 0x02, 0xFF, 0x00}
	f := sampleFrame('z', 10)
	got := p.Feed(append(append([]byte{}, junk...), f...))
	if len(got) != 1 || !bytes.Equal(got[0], f) {
		t.Fatalf("expected exactly the one frame after junk, got %d frames", len(got))
	}
}

func TestOverflowResetsWithoutEOI(t *testing.T) {
	p := NewParser(64)
	// SOI followed by far more than maxScratch bytes and no EOI
	junk := make([]byte, 200)
	p.Feed(append([]byte{0xFF, 0xD8}, junk...))

	// A well-formed frame afterward should still be found.
	f := sampleFrame('q', 10)
	got := p.Feed(f)
	if len(got) != 1 || !bytes.Equal(got[0], f) {
		t.Fatalf("parser did not recover after overflow, got %d frames", len(got))
	}
}
