// Package motion implements the frame-pair comparison, temporal/
// regional/color analysis, and debounced motion events of spec §4.7.
package motion

import "time"

// DetectionMode selects which comparison branch runs (spec §4.7 step 4).
type DetectionMode string

const (
	ModeTraditional DetectionMode = "traditional"
	ModeColorFilter DetectionMode = "color_filter"
	ModeColorFirst  DetectionMode = "color_first"
)

// YRange is an inclusive band of rows ([Start, End]) excluded from both
// the changed-pixel sum and the normalization denominator.
type YRange struct {
	Start int
	End   int
}

func (r YRange) contains(y int) bool { return y >= r.Start && y <= r.End }

// ShadowRemovalConfig configures the shadow-aware comparison branches.
type ShadowRemovalConfig struct {
	Enabled   bool
	Intensity float64 // passed through to the motion worker pool's normalization
}

// ColorDetectionConfig configures color-aware comparison and the
// color-blob tracker.
type ColorDetectionConfig struct {
	Enabled         bool
	MinBlobSize     int
	MaxMatchDistance float64
	MinBlobMovement  float64
	MinBlobLifetime  int
}

func (c ColorDetectionConfig) withDefaults() ColorDetectionConfig {
	if c.MinBlobSize <= 0 {
		c.MinBlobSize = 50
	}
	if c.MaxMatchDistance <= 0 {
		c.MaxMatchDistance = 40
	}
	if c.MinBlobMovement <= 0 {
		c.MinBlobMovement = 5
	}
	if c.MinBlobLifetime < 2 {
		c.MinBlobLifetime = 2 // spec §9 open question: must be >= 2
	}
	return c
}

// RegionConfig configures the regional voter (spec §4.7 step 6).
type RegionConfig struct {
	Enabled          bool
	GridSize         int // default 4 (4x4)
	MinActiveRegions int // default 2
}

func (r RegionConfig) withDefaults() RegionConfig {
	if r.GridSize <= 0 {
		r.GridSize = 4
	}
	if r.MinActiveRegions <= 0 {
		r.MinActiveRegions = 2
	}
	return r
}

// Config is the per-source detection configuration named in spec §9.
type Config struct {
	Width     int
	Height    int
	FPS       int
	Threshold float64 // raw pixel-diff threshold for the "neither" branch
	CooldownMs int

	IgnoredYRanges []YRange

	ShadowRemoval   ShadowRemovalConfig
	ColorDetection  ColorDetectionConfig
	Region          RegionConfig
	TemporalShadow  bool
	DetectionMode   DetectionMode
}

// WithDefaults fills zero-valued sub-configs with spec-documented
// defaults without touching fields the caller explicitly set.
func (c Config) WithDefaults() Config {
	if c.Width <= 0 {
		c.Width = 160
	}
	if c.Height <= 0 {
		c.Height = 120
	}
	if c.FPS <= 0 {
		c.FPS = 5
	}
	if c.Threshold <= 0 {
		c.Threshold = 25
	}
	if c.CooldownMs <= 0 {
		c.CooldownMs = 2000
	}
	if c.DetectionMode == "" {
		c.DetectionMode = ModeTraditional
	}
	c.ColorDetection = c.ColorDetection.withDefaults()
	c.Region = c.Region.withDefaults()
	return c
}

// cooldown returns CooldownMs as a time.Duration.
func (c Config) cooldown() time.Duration {
	return time.Duration(c.CooldownMs) * time.Millisecond
}

func (c Config) isIgnoredRow(y int) bool {
	for _, r := range c.IgnoredYRanges {
		if r.contains(y) {
			return true
		}
	}
	return false
}

// ignoredPixelCount returns how many pixels in a Width x Height frame
// fall inside any ignored band.
func (c Config) ignoredPixelCount() int {
	count := 0
	for y := 0; y < c.Height; y++ {
		if c.isIgnoredRow(y) {
			count += c.Width
		}
	}
	return count
}
