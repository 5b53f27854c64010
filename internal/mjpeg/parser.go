// Package mjpeg implements the stateful MJPEG frame parser and the
// per-source proxy that fans completed frames out to viewers.
package mjpeg

// Parser is a stateful byte-stream scanner that extracts complete JPEG
// frames (SOI 0xFFD8 .. EOI 0xFFD9 inclusive) from arbitrarily chunked
// input. It does not parse multipart boundaries — finding an EOI and
// then the next SOI is sufficient, so boundary headers of any length
// between frames are simply skipped as "bytes before the next SOI".
type Parser struct {
	scratch   []byte
	sawSOI    bool
	maxScratch int
}

const soiMarker0, soiMarker1 = 0xFF, 0xD8
const eoiMarker0, eoiMarker1 = 0xFF, 0xD9

// defaultMaxScratch is the hard cap on unbounded growth when no EOI is
// ever found: 2x the default pool slot size (1 MiB), per spec §4.3.
const defaultMaxScratch = 2 << 20

// NewParser creates a parser. maxScratch <= 0 uses the spec default.
func NewParser(maxScratch int) *Parser {
	if maxScratch <= 0 {
		maxScratch = defaultMaxScratch
	}
	return &Parser{maxScratch: maxScratch}
}

// Feed appends chunk to the parser's scratch buffer and returns every
// complete frame found within it, in order. Bytes preceding the first
// SOI of a fresh stream are discarded. If the scratch buffer would grow
// past maxScratch without finding an EOI, the parser resets its state
// (dropping the partial frame) and continues scanning from the next
// byte — this bounds memory when upstream never sends a valid EOI.
func (p *Parser) Feed(chunk []byte) [][]byte {
	p.scratch = append(p.scratch, chunk...)

	var frames [][]byte
	for {
		if !p.sawSOI {
			idx := indexOf(p.scratch, soiMarker0, soiMarker1, 0)
			if idx < 0 {
				// no SOI yet anywhere in scratch; keep at most the last
				// byte (it might be the first half of a split marker)
				if len(p.scratch) > 1 {
					p.scratch = p.scratch[len(p.scratch)-1:]
				}
				break
			}
			p.scratch = p.scratch[idx:]
			p.sawSOI = true
		}

		eoi := indexOf(p.scratch, eoiMarker0, eoiMarker1, 2)
		if eoi < 0 {
			if len(p.scratch) > p.maxScratch {
				p.scratch = nil
				p.sawSOI = false
			}
			break
		}

		frameEnd := eoi + 2
		f := make([]byte, frameEnd)
		copy(f, p.scratch[:frameEnd])
		frames = append(frames, f)

		p.scratch = p.scratch[frameEnd:]
		p.sawSOI = false
	}
	return frames
}

// indexOf returns the index of the first occurrence of the two-byte
// marker {b0, b1} at or after offset start, or -1.
func indexOf(buf []byte, b0, b1 byte, start int) int {
	if start < 0 {
		start = 0
	}
	for i := start; i+1 < len(buf); i++ {
		if buf[i] == b0 && buf[i+1] == b1 {
			return i
		}
	}
	return -1
}
