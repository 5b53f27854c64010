package motion

// RegionVote is the per-region outcome of the grid-based voter
// (spec §4.7 step 6).
type RegionVote struct {
	ChangeRatio    float64
	ShadowRatio    float64
	HistoricalFreq float64
	HasMotion      bool
	IsShadow       bool
}

// RegionResult is the outcome of partitioning a Comparison's masks into
// a gridSize x gridSize grid and voting region-by-region.
type RegionResult struct {
	Votes            []RegionVote // row-major, len == GridSize*GridSize
	NonShadowActive  int
	ShadowRegions    int
	ActiveRegions    int
	WeightedMotion   float64
	MotionVoted      bool
	Confidence       float64
}

// regionChangeThreshold is the per-region changed-ratio above which a
// region "has motion" (spec §4.7 step 6).
const regionChangeThreshold = 0.1

// historicalShadowFreqAlpha smooths each region's shadow-frequency
// estimate across frames; the voter classifies a region as shadow when
// its smoothed frequency exceeds 0.5.
const historicalShadowFreqAlpha = 0.1

// RegionAnalyzer carries per-region historical shadow frequency across
// frames for one source, since the regional voter's shadow
// classification depends on more than a single frame's ratio.
type RegionAnalyzer struct {
	gridSize int
	freq     []float64 // EMA of "was this region shadow" per cell
}

// NewRegionAnalyzer returns an analyzer for the given grid size.
func NewRegionAnalyzer(gridSize int) *RegionAnalyzer {
	if gridSize <= 0 {
		gridSize = 4
	}
	return &RegionAnalyzer{gridSize: gridSize, freq: make([]float64, gridSize*gridSize)}
}

// Reset clears historical shadow frequency, used on pause/resume.
func (a *RegionAnalyzer) Reset() {
	for i := range a.freq {
		a.freq[i] = 0
	}
}

// Vote implements spec §4.7 step 6: split the frame into a
// gridSize x gridSize grid, compute each region's changed/shadow
// ratios from the comparison's masks, classify shadow regions from
// historical frequency or edge heuristics, and produce the weighted
// motion vote and confidence.
func (a *RegionAnalyzer) Vote(cmp Comparison, cfg Config) RegionResult {
	grid := a.gridSize
	votes := make([]RegionVote, grid*grid)
	if len(cmp.ChangedMask) != cfg.Width*cfg.Height || len(cmp.ShadowMask) != cfg.Width*cfg.Height {
		return RegionResult{Votes: votes}
	}

	cellW := cfg.Width / grid
	cellH := cfg.Height / grid
	if cellW == 0 || cellH == 0 {
		return RegionResult{Votes: votes}
	}

	nonShadowActive, shadowRegions, activeRegions := 0, 0, 0
	weightedMotion := 0.0

	for ry := 0; ry < grid; ry++ {
		for rx := 0; rx < grid; rx++ {
			x0, y0 := rx*cellW, ry*cellH
			x1, y1 := x0+cellW, y0+cellH
			if rx == grid-1 {
				x1 = cfg.Width
			}
			if ry == grid-1 {
				y1 = cfg.Height
			}

			changed, shadow, total := 0, 0, 0
			for y := y0; y < y1; y++ {
				if cfg.isIgnoredRow(y) {
					continue
				}
				rowStart := y * cfg.Width
				for x := x0; x < x1; x++ {
					i := rowStart + x
					total++
					if cmp.ChangedMask[i] {
						changed++
					}
					if cmp.ShadowMask[i] {
						shadow++
					}
				}
			}

			changeRatio, shadowRatio := 0.0, 0.0
			if total > 0 {
				changeRatio = float64(changed) / float64(total)
				shadowRatio = float64(shadow) / float64(total)
			}

			idx := ry*grid + rx
			a.freq[idx] = a.freq[idx]*(1-historicalShadowFreqAlpha) + shadowRatio*historicalShadowFreqAlpha

			isEdgeRegion := rx == 0 || ry == 0 || rx == grid-1 || ry == grid-1
			isShadow := a.freq[idx] > 0.5 || (isEdgeRegion && shadowRatio > 0.6 && changeRatio > 0.03)
			hasMotion := changeRatio > regionChangeThreshold

			votes[idx] = RegionVote{
				ChangeRatio:    changeRatio,
				ShadowRatio:    shadowRatio,
				HistoricalFreq: a.freq[idx],
				HasMotion:      hasMotion,
				IsShadow:       isShadow,
			}

			if hasMotion {
				activeRegions++
				weightedMotion += changeRatio
				if isShadow {
					shadowRegions++
				} else {
					nonShadowActive++
				}
			}
		}
	}

	minActive := cfg.Region.MinActiveRegions
	motionVoted := nonShadowActive >= minActive ||
		(weightedMotion > regionChangeThreshold && shadowRegions < activeRegions)

	confidence := 0.0
	if minActive > 0 {
		confidence = float64(nonShadowActive) / float64(minActive)
		if confidence > 1 {
			confidence = 1
		}
	}
	denom := activeRegions
	if denom == 0 {
		denom = 1
	}
	confidence *= 1 - float64(shadowRegions)/float64(denom)

	return RegionResult{
		Votes:           votes,
		NonShadowActive: nonShadowActive,
		ShadowRegions:   shadowRegions,
		ActiveRegions:   activeRegions,
		WeightedMotion:  weightedMotion,
		MotionVoted:     motionVoted,
		Confidence:      confidence,
	}
}
