// Package motion implements the frame-pair comparison, temporal/
// regional/color analysis, and debounced motion events of spec §4.7.
package motion

import (
	"context"
	"log"
	"time"

	"camfeed/internal/frame"
	"camfeed/internal/motionpool"
)

// submitTimeout bounds how long the detector waits for a queued frame
// to finish normalizing before giving up on that tick.
const submitTimeout = 5 * time.Second

// Detector runs the full per-source motion pipeline described in
// spec §4.7: consume sampled frames from a proxy, normalize them
// through the shared worker pool, compare against the previous frame,
// optionally vote over regions / discount sustained shadow / validate
// with the color-blob tracker, enforce a cooldown, and publish
// MotionEvents.
type Detector struct {
	sourceID string
	cfg      Config
	pool     *motionpool.Pool
	logger   *log.Logger

	events chan MotionEvent

	previousPixels []byte
	lastMotionMono int64
	paused         bool

	temporalShadow *TemporalShadowDetector
	regionAnalyzer *RegionAnalyzer
	blobTracker    *BlobTracker
}

// NewDetector builds a Detector for one source. cfg is normalized with
// WithDefaults before use.
func NewDetector(sourceID string, cfg Config, pool *motionpool.Pool, logger *log.Logger) *Detector {
	cfg = cfg.WithDefaults()
	return &Detector{
		sourceID:       sourceID,
		cfg:            cfg,
		pool:           pool,
		logger:         logger,
		events:         make(chan MotionEvent, 32),
		temporalShadow: NewTemporalShadowDetector(),
		regionAnalyzer: NewRegionAnalyzer(cfg.Region.GridSize),
		blobTracker:    NewBlobTracker(),
	}
}

// Events delivers motion and motion-start notifications for this
// source.
func (d *Detector) Events() <-chan MotionEvent { return d.events }

// Pause blocks frame handling until Resume (spec §4.7.5).
func (d *Detector) Pause() { d.paused = true }

// Resume clears previousPixels so the next comparison cannot
// spuriously fire on the gap, and resets the history-dependent
// analyzers along with it (spec §4.7.5).
func (d *Detector) Resume() {
	d.paused = false
	d.previousPixels = nil
	d.temporalShadow.Reset()
	d.regionAnalyzer.Reset()
	d.blobTracker.Reset()
}

// Run consumes motionFrames until ctx is cancelled or the channel
// closes, driving one pipeline pass per frame.
func (d *Detector) Run(ctx context.Context, motionFrames <-chan *frame.Frame) {
	for {
		select {
		case <-ctx.Done():
			close(d.events)
			return
		case f, ok := <-motionFrames:
			if !ok {
				close(d.events)
				return
			}
			d.handleFrame(f)
			f.Release()
		}
	}
}

// handleFrame implements the full spec §4.7 step 3-9 pipeline for one
// sampled frame.
func (d *Detector) handleFrame(f *frame.Frame) {
	if d.paused {
		return
	}

	color := d.cfg.DetectionMode != ModeTraditional
	fcfg := motionpool.FrameConfig{
		Width:           d.cfg.Width,
		Height:          d.cfg.Height,
		ColorMode:       color,
		ShadowEnabled:   d.cfg.ShadowRemoval.Enabled,
		ShadowIntensity: d.cfg.ShadowRemoval.Intensity,
	}

	future, err := d.pool.Submit(f.Bytes(), fcfg)
	if err != nil {
		if d.logger != nil {
			d.logger.Printf("[motion:%s] submit: %v", d.sourceID, err)
		}
		return
	}
	pixels, err := future.Wait(submitTimeout)
	if err != nil {
		if d.logger != nil {
			d.logger.Printf("[motion:%s] normalize: %v", d.sourceID, err)
		}
		return
	}

	now := time.Now()

	if d.cfg.DetectionMode == ModeColorFirst {
		d.runColorFirst(pixels, now)
		return
	}

	if d.previousPixels == nil {
		d.previousPixels = pixels.Data
		return
	}

	hour := now.Hour()
	var cmp Comparison
	switch {
	case d.cfg.DetectionMode == ModeColorFilter && d.cfg.ShadowRemoval.Enabled:
		cmp = compareColorShadowAware(d.previousPixels, pixels.Data, d.cfg, hour)
	case d.cfg.ShadowRemoval.Enabled:
		cmp = compareGrayShadowAware(d.previousPixels, pixels.Data, d.cfg, hour)
	default:
		cmp = compareGray(d.previousPixels, pixels.Data, d.cfg)
	}
	d.previousPixels = pixels.Data

	normalizedDifference := cmp.NormalizedDifference
	metadata := map[string]any{}

	if d.cfg.TemporalShadow {
		detected, confidence := d.temporalShadow.Observe(cmp.ShadowRatio)
		if detected {
			normalizedDifference = scaleForTemporalShadow(normalizedDifference, detected, confidence)
			metadata["temporalShadowConfidence"] = confidence
		}
	}

	motionDecided := normalizedDifference > (d.cfg.Threshold / 255)

	if d.cfg.Region.Enabled {
		regionResult := d.regionAnalyzer.Vote(cmp, d.cfg)
		motionDecided = regionResult.MotionVoted
		metadata["regionConfidence"] = regionResult.Confidence
	}

	if motionDecided && d.cfg.ColorDetection.Enabled && d.cfg.DetectionMode != ModeColorFirst && pixels.Color {
		moved, blobCount := d.blobTracker.Update(pixels.Data, d.cfg.Width, d.cfg.Height, d.cfg.ColorDetection)
		metadata["blobCount"] = blobCount
		if !moved {
			motionDecided = false
		}
	}

	if !motionDecided {
		return
	}

	d.fireIfCooledDown(now, normalizedDifference, metadata)
}

// runColorFirst implements the color_first branch of spec §4.7 step 4:
// skip pixel comparison entirely, run the blob tracker, and use its
// boolean result as the motion decision.
func (d *Detector) runColorFirst(pixels motionpool.Pixels, now time.Time) {
	if !pixels.Color {
		return
	}
	moved, blobCount := d.blobTracker.Update(pixels.Data, d.cfg.Width, d.cfg.Height, d.cfg.ColorDetection)
	if !moved {
		return
	}
	d.fireIfCooledDown(now, 1.0, map[string]any{"blobCount": blobCount})
}

// fireIfCooledDown implements spec §4.7 step 8: emit motion +
// motion-start only if the per-source cooldown has elapsed, updating
// lastMotionMono first so a burst of frames within the cooldown window
// doesn't re-fire.
func (d *Detector) fireIfCooledDown(now time.Time, normalizedDifference float64, metadata map[string]any) {
	nowMono := now.UnixNano()
	if d.lastMotionMono != 0 && time.Duration(nowMono-d.lastMotionMono) <= d.cfg.cooldown() {
		return
	}
	d.lastMotionMono = nowMono

	evt := newMotionEvent(EventMotion, d.sourceID, now, nowMono, normalizedDifference, d.cfg.Threshold, metadata)
	startEvt := evt
	startEvt.Kind = EventMotionStart

	d.publish(evt)
	d.publish(startEvt)
}

func (d *Detector) publish(evt MotionEvent) {
	select {
	case d.events <- evt:
	default:
		if d.logger != nil {
			d.logger.Printf("[motion:%s] event channel full, dropping %s", d.sourceID, evt.Kind)
		}
	}
}
