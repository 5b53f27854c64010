package motion

import "math"

// chickenColorProfile is an HSV range used to build the chicken-color
// mask for the color-blob tracker (spec §4.7.4).
type chickenColorProfile struct {
	name                 string
	hueMin, hueMax       float64 // degrees, hueMin > hueMax wraps through 0
	satMin, satMax       float64 // 0-1
	valMin, valMax       float64 // 0-1
}

// chickenColorProfiles are the four HSV bands the tracker matches
// against: white, brown, orange, red plumage/combs.
var chickenColorProfiles = []chickenColorProfile{
	{name: "white", hueMin: 0, hueMax: 360, satMin: 0, satMax: 0.15, valMin: 0.75, valMax: 1.0},
	{name: "brown", hueMin: 15, hueMax: 45, satMin: 0.2, satMax: 0.7, valMin: 0.25, valMax: 0.75},
	{name: "orange", hueMin: 20, hueMax: 45, satMin: 0.5, satMax: 1.0, valMin: 0.5, valMax: 1.0},
	{name: "red", hueMin: 345, hueMax: 15, satMin: 0.4, satMax: 1.0, valMin: 0.3, valMax: 0.9},
}

func rgbToHSV(r, g, b float64) (h, s, v float64) {
	r, g, b = r/255, g/255, b/255
	max := math.Max(r, math.Max(g, b))
	min := math.Min(r, math.Min(g, b))
	delta := max - min

	v = max
	if max == 0 {
		s = 0
	} else {
		s = delta / max
	}
	if delta == 0 {
		h = 0
	} else {
		switch max {
		case r:
			h = math.Mod((g-b)/delta, 6)
		case g:
			h = (b-r)/delta + 2
		default:
			h = (r-g)/delta + 4
		}
		h *= 60
		if h < 0 {
			h += 360
		}
	}
	return h, s, v
}

func (p chickenColorProfile) matches(h, s, v float64) bool {
	if s < p.satMin || s > p.satMax || v < p.valMin || v > p.valMax {
		return false
	}
	if p.hueMin <= p.hueMax {
		return h >= p.hueMin && h <= p.hueMax
	}
	return h >= p.hueMin || h <= p.hueMax // wraps through 0 (e.g. red)
}

func isChickenColor(r, g, b float64) bool {
	h, s, v := rgbToHSV(r, g, b)
	for _, p := range chickenColorProfiles {
		if p.matches(h, s, v) {
			return true
		}
	}
	return false
}

// blobComponent is one 8-connected component of chicken-colored pixels
// found in a single frame.
type blobComponent struct {
	area     int
	minX, minY, maxX, maxY int
	cx, cy   float64 // centroid
}

func (b blobComponent) aspectRatio() float64 {
	w := float64(b.maxX-b.minX + 1)
	h := float64(b.maxY-b.minY + 1)
	if h == 0 {
		return 0
	}
	return w / h
}

// findBlobs builds the chicken-color mask for an interleaved RGB
// width*height buffer and 8-connectivity labels it, discarding blobs
// under minSize.
func findBlobs(rgb []byte, width, height, minSize int) []blobComponent {
	mask := make([]bool, width*height)
	for i := 0; i < width*height; i++ {
		o := i * 3
		if isChickenColor(float64(rgb[o]), float64(rgb[o+1]), float64(rgb[o+2])) {
			mask[i] = true
		}
	}

	visited := make([]bool, width*height)
	var blobs []blobComponent
	stack := make([]int, 0, 64)

	for start := 0; start < width*height; start++ {
		if !mask[start] || visited[start] {
			continue
		}
		visited[start] = true
		stack = stack[:0]
		stack = append(stack, start)

		area := 0
		sumX, sumY := 0, 0
		minX, minY := width, height
		maxX, maxY := 0, 0

		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			x, y := i%width, i/width
			area++
			sumX += x
			sumY += y
			if x < minX {
				minX = x
			}
			if x > maxX {
				maxX = x
			}
			if y < minY {
				minY = y
			}
			if y > maxY {
				maxY = y
			}

			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					if dx == 0 && dy == 0 {
						continue
					}
					nx, ny := x+dx, y+dy
					if nx < 0 || nx >= width || ny < 0 || ny >= height {
						continue
					}
					ni := ny*width + nx
					if mask[ni] && !visited[ni] {
						visited[ni] = true
						stack = append(stack, ni)
					}
				}
			}
		}

		if area >= minSize {
			blobs = append(blobs, blobComponent{
				area: area,
				minX: minX, minY: minY, maxX: maxX, maxY: maxY,
				cx: float64(sumX) / float64(area),
				cy: float64(sumY) / float64(area),
			})
		}
	}
	return blobs
}

// trackedBlob is a blob the tracker has matched across multiple
// frames.
type trackedBlob struct {
	cx, cy   float64
	lifetime int
	matched  bool // reset each frame, set when matched to a current blob
}

// BlobTracker implements spec §4.7.4's connected-component tracker for
// one source.
type BlobTracker struct {
	tracked []trackedBlob
}

// NewBlobTracker returns a tracker with no history.
func NewBlobTracker() *BlobTracker {
	return &BlobTracker{}
}

// Reset clears tracked blob history, used on pause/resume.
func (t *BlobTracker) Reset() {
	t.tracked = nil
}

// Update runs one frame of spec §4.7.4: find chicken-colored blobs,
// match them to tracked blobs by nearest centroid within
// maxMatchDistance, increment lifetime on match, and report whether
// any tracked blob "moved" (displacement >= minBlobMovement and
// lifetime >= minBlobLifetime).
func (t *BlobTracker) Update(rgb []byte, width, height int, cfg ColorDetectionConfig) (moved bool, blobCount int) {
	blobs := findBlobs(rgb, width, height, cfg.MinBlobSize)
	frameArea := width * height

	var qualifying []blobComponent
	for _, b := range blobs {
		ar := b.aspectRatio()
		areaFrac := float64(b.area) / float64(frameArea)
		if ar < 0.3 || ar > 3.0 {
			continue
		}
		if areaFrac < 0.001 || areaFrac > 0.5 {
			continue
		}
		qualifying = append(qualifying, b)
	}

	for i := range t.tracked {
		t.tracked[i].matched = false
	}

	for _, b := range qualifying {
		bestIdx := -1
		bestDist := cfg.MaxMatchDistance
		for i := range t.tracked {
			if t.tracked[i].matched {
				continue
			}
			dx := t.tracked[i].cx - b.cx
			dy := t.tracked[i].cy - b.cy
			dist := math.Sqrt(dx*dx + dy*dy)
			if dist <= bestDist {
				bestDist = dist
				bestIdx = i
			}
		}

		if bestIdx >= 0 {
			prev := t.tracked[bestIdx]
			displacement := math.Sqrt((prev.cx-b.cx)*(prev.cx-b.cx) + (prev.cy-b.cy)*(prev.cy-b.cy))
			prev.lifetime++
			prev.matched = true
			prev.cx, prev.cy = b.cx, b.cy
			t.tracked[bestIdx] = prev
			if displacement >= cfg.MinBlobMovement && prev.lifetime >= cfg.MinBlobLifetime {
				moved = true
			}
		} else {
			t.tracked = append(t.tracked, trackedBlob{cx: b.cx, cy: b.cy, lifetime: 1, matched: true})
		}
	}

	// Drop blobs that weren't matched this frame; they've left the scene.
	live := t.tracked[:0]
	for _, tb := range t.tracked {
		if tb.matched {
			live = append(live, tb)
		}
	}
	t.tracked = live

	return moved, len(qualifying)
}
