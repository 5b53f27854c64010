package motionpool

import "sort"

// normalizeIlluminationGray applies histogram clipping at the 2nd/98th
// percentiles, a linear contrast/offset stretch scaled by intensity,
// and a 3x3 median filter, in place.
func normalizeIlluminationGray(data []byte, width, height int, intensity float64) {
	lo, hi := percentileBounds(data)
	stretchLinear(data, lo, hi, intensity)
	medianFilter3x3Gray(data, width, height)
}

// normalizeIlluminationRGB applies the same pipeline per channel to an
// interleaved RGB buffer.
func normalizeIlluminationRGB(data []byte, width, height int, intensity float64) {
	for ch := 0; ch < 3; ch++ {
		channel := extractChannel(data, ch)
		lo, hi := percentileBounds(channel)
		stretchLinear(channel, lo, hi, intensity)
		medianFilter3x3Gray(channel, width, height)
		writeChannel(data, ch, channel)
	}
}

func extractChannel(data []byte, ch int) []byte {
	n := len(data) / 3
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = data[i*3+ch]
	}
	return out
}

func writeChannel(data []byte, ch int, channel []byte) {
	for i, v := range channel {
		data[i*3+ch] = v
	}
}

// percentileBounds returns the values at the 2nd and 98th percentile
// of the sample.
func percentileBounds(data []byte) (lo, hi byte) {
	if len(data) == 0 {
		return 0, 255
	}
	sorted := make([]byte, len(data))
	copy(sorted, data)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	loIdx := int(float64(len(sorted)-1) * 0.02)
	hiIdx := int(float64(len(sorted)-1) * 0.98)
	return sorted[loIdx], sorted[hiIdx]
}

// stretchLinear clips to [lo, hi] and stretches that range to [0,255],
// blended with the original value proportional to intensity in [0,1].
func stretchLinear(data []byte, lo, hi byte, intensity float64) {
	if intensity <= 0 {
		return
	}
	if intensity > 1 {
		intensity = 1
	}
	rng := int(hi) - int(lo)
	if rng <= 0 {
		return
	}
	for i, v := range data {
		clipped := int(v)
		if clipped < int(lo) {
			clipped = int(lo)
		} else if clipped > int(hi) {
			clipped = int(hi)
		}
		stretched := (clipped - int(lo)) * 255 / rng
		blended := float64(v)*(1-intensity) + float64(stretched)*intensity
		if blended < 0 {
			blended = 0
		} else if blended > 255 {
			blended = 255
		}
		data[i] = byte(blended)
	}
}

// medianFilter3x3Gray applies an in-place 3x3 median filter to a
// single-channel width*height buffer. Border pixels are left
// untouched (no padding) to avoid edge artifacts from synthetic pixels.
func medianFilter3x3Gray(data []byte, width, height int) {
	if width < 3 || height < 3 {
		return
	}
	src := make([]byte, len(data))
	copy(src, data)

	var window [9]byte
	for y := 1; y < height-1; y++ {
		for x := 1; x < width-1; x++ {
			k := 0
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					window[k] = src[(y+dy)*width+(x+dx)]
					k++
				}
			}
			sort.Slice(window[:], func(i, j int) bool { return window[i] < window[j] })
			data[y*width+x] = window[4]
		}
	}
}
