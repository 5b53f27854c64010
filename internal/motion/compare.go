package motion

import "math"

// Comparison is the result of comparing two normalized frames
// (spec §4.7 step 4).
type Comparison struct {
	ChangedPixels         int
	NormalizedDifference  float64
	ShadowPixels          int
	ShadowRatio           float64

	// ChangedMask and ShadowMask are width*height masks (false on
	// ignored rows) the regional voter partitions into a grid.
	ChangedMask []bool
	ShadowMask  []bool
}

// compareGray runs the raw pixel-pair comparison ("neither" branch):
// count pixels where |v1-v2| > cfg.Threshold, excluding ignored rows
// from both the count and the denominator.
func compareGray(prev, cur []byte, cfg Config) Comparison {
	changedMask := make([]bool, cfg.Width*cfg.Height)
	changed := 0
	for y := 0; y < cfg.Height; y++ {
		if cfg.isIgnoredRow(y) {
			continue
		}
		rowStart := y * cfg.Width
		for x := 0; x < cfg.Width; x++ {
			i := rowStart + x
			diff := absInt(int(cur[i]) - int(prev[i]))
			if float64(diff) > cfg.Threshold {
				changed++
				changedMask[i] = true
			}
		}
	}
	c := finishComparison(changed, 0, cfg)
	c.ChangedMask = changedMask
	c.ShadowMask = make([]bool, cfg.Width*cfg.Height)
	return c
}

// compareGrayShadowAware implements spec §4.7.1.
func compareGrayShadowAware(prev, cur []byte, cfg Config, hour int) Comparison {
	baseThreshold, shadowThreshold := thresholdsForHour(hour)
	scale := sceneBrightnessScale(prev, cur, cfg)
	baseThreshold *= scale
	shadowThreshold *= scale

	changedMask := make([]bool, cfg.Width*cfg.Height)
	shadowMask := make([]bool, cfg.Width*cfg.Height)
	changed := 0
	shadowPixels := 0
	for y := 0; y < cfg.Height; y++ {
		if cfg.isIgnoredRow(y) {
			continue
		}
		rowStart := y * cfg.Width
		for x := 0; x < cfg.Width; x++ {
			i := rowStart + x
			v1, v2 := float64(prev[i]), float64(cur[i])
			r := v2 / (v1 + 10)
			diff := math.Abs(v1 - v2)
			shadowLike := r > 0.3 && r < 0.8
			threshold := baseThreshold
			if shadowLike {
				threshold = shadowThreshold
				shadowPixels++
				shadowMask[i] = true
			}
			if diff > threshold {
				changed++
				changedMask[i] = true
			}
		}
	}
	c := finishComparison(changed, shadowPixels, cfg)
	c.ChangedMask = changedMask
	c.ShadowMask = shadowMask
	return c
}

// compareColorShadowAware implements spec §4.7.2. data is interleaved
// RGB, 3 bytes per pixel.
func compareColorShadowAware(prev, cur []byte, cfg Config, hour int) Comparison {
	baseThreshold, shadowThreshold := thresholdsForHour(hour)
	colorThreshold := baseThreshold // the color-channel threshold shares the base schedule

	changedMask := make([]bool, cfg.Width*cfg.Height)
	shadowMask := make([]bool, cfg.Width*cfg.Height)
	changed := 0
	shadowPixels := 0
	for y := 0; y < cfg.Height; y++ {
		if cfg.isIgnoredRow(y) {
			continue
		}
		rowStart := y * cfg.Width
		for x := 0; x < cfg.Width; x++ {
			i := rowStart + x
			o := i * 3
			r1, g1, b1 := float64(prev[o]), float64(prev[o+1]), float64(prev[o+2])
			r2, g2, b2 := float64(cur[o]), float64(cur[o+1]), float64(cur[o+2])

			lum1 := 0.299*r1 + 0.587*g1 + 0.114*b1
			lum2 := 0.299*r2 + 0.587*g2 + 0.114*b2

			dR := math.Abs(r1 - r2)
			dG := math.Abs(g1 - g2)
			dB := math.Abs(b1 - b2)
			maxChannelDiff := math.Max(dR, math.Max(dG, dB))

			hue1 := rgbHue(r1, g1, b1)
			hue2 := rgbHue(r2, g2, b2)
			hueChange := circularHueDistance(hue1, hue2)

			lumDiff := math.Abs(lum1 - lum2)
			minMaxLum := math.Min(lum1, lum2) / (math.Max(lum1, lum2) + 1)

			isShadow := lumDiff > shadowThreshold && hueChange < 20 && minMaxLum > 0.5
			if isShadow {
				shadowPixels++
				shadowMask[i] = true
				continue
			}
			if maxChannelDiff > colorThreshold || lumDiff > baseThreshold {
				changed++
				changedMask[i] = true
			}
		}
	}
	c := finishComparison(changed, shadowPixels, cfg)
	c.ChangedMask = changedMask
	c.ShadowMask = shadowMask
	return c
}

func finishComparison(changed, shadowPixels int, cfg Config) Comparison {
	denom := cfg.Width*cfg.Height - cfg.ignoredPixelCount()
	norm := 0.0
	if denom > 0 {
		norm = float64(changed) / float64(denom)
	}
	shadowRatio := 0.0
	if denom > 0 {
		shadowRatio = float64(shadowPixels) / float64(denom)
	}
	return Comparison{
		ChangedPixels:        changed,
		NormalizedDifference: norm,
		ShadowPixels:         shadowPixels,
		ShadowRatio:          shadowRatio,
	}
}

// sceneBrightnessScale is max(0.5, min(1.5, sceneBrightness/128)),
// where sceneBrightness is the mean of the two frames' means over
// non-ignored pixels (spec §4.7.1).
func sceneBrightnessScale(prev, cur []byte, cfg Config) float64 {
	sum1, sum2, n := 0, 0, 0
	for y := 0; y < cfg.Height; y++ {
		if cfg.isIgnoredRow(y) {
			continue
		}
		rowStart := y * cfg.Width
		for x := 0; x < cfg.Width; x++ {
			i := rowStart + x
			sum1 += int(prev[i])
			sum2 += int(cur[i])
			n++
		}
	}
	if n == 0 {
		return 1
	}
	mean1 := float64(sum1) / float64(n)
	mean2 := float64(sum2) / float64(n)
	brightness := (mean1 + mean2) / 2
	scale := brightness / 128
	if scale < 0.5 {
		return 0.5
	}
	if scale > 1.5 {
		return 1.5
	}
	return scale
}

// rgbHue converts 0-255 RGB channels to a hue angle in [0, 360).
func rgbHue(r, g, b float64) float64 {
	max := math.Max(r, math.Max(g, b))
	min := math.Min(r, math.Min(g, b))
	delta := max - min
	if delta == 0 {
		return 0
	}
	var hue float64
	switch max {
	case r:
		hue = math.Mod((g-b)/delta, 6)
	case g:
		hue = (b-r)/delta + 2
	default:
		hue = (r-g)/delta + 4
	}
	hue *= 60
	if hue < 0 {
		hue += 360
	}
	return hue
}

// circularHueDistance returns the shortest distance between two hue
// angles on the 360-degree color wheel.
func circularHueDistance(a, b float64) float64 {
	d := math.Abs(a - b)
	if d > 180 {
		d = 360 - d
	}
	return d
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
