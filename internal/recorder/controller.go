// Package recorder implements the pre-buffer-snapshot + post-motion-
// extension recording state machine and its encoder hand-off
// (spec §4.9).
package recorder

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"camfeed/internal/frame"
	"camfeed/internal/motion"
	"camfeed/internal/prebuffer"
)

// State is a Recording's lifecycle stage (spec §4.3).
type State string

const (
	StateBuffering  State = "buffering"
	StateActive     State = "active"
	StateFinalizing State = "finalizing"
	StateEncoding   State = "encoding"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// Recording is one motion-triggered capture window for a source.
type Recording struct {
	ID         string
	SourceID   string
	StartMono  int64
	EndMono    int64
	State      State
	FrameRefs  []*frame.Frame
	OutputPath string
}

// Config is the recording surface named in spec §9's "recording"
// config block.
type Config struct {
	Enabled          bool
	PreBufferSeconds int
	PostMotionSeconds int
	OutputDir        string
	VideoQuality     Quality
	MaxConcurrent    int
	RetentionDays    int
	CooldownSeconds  int
	VideoCodec       string
	VideoPreset      string
	FPS              int
}

func (c Config) withDefaults() Config {
	if c.PreBufferSeconds <= 0 {
		c.PreBufferSeconds = 5
	}
	if c.PostMotionSeconds <= 0 {
		c.PostMotionSeconds = 15
	}
	if c.VideoQuality == "" {
		c.VideoQuality = QualityMedium
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 3
	}
	if c.CooldownSeconds <= 0 {
		c.CooldownSeconds = 10
	}
	if c.FPS <= 0 {
		c.FPS = 10
	}
	return c
}

// sidecar is the optional per-recording JSON metadata (spec §6
// "On-disk recording layout").
type sidecar struct {
	ID        string    `json:"id"`
	SourceID  string    `json:"sourceId"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
	FrameCount int      `json:"frameCount"`
	Motion    struct {
		Intensity float64 `json:"intensity"`
	} `json:"motion"`
}

// deadlineGrace bounds how long the controller waits past a Recording's
// EndMono for a frame that never arrives (source disconnect, stall)
// before finalizing on its own, per spec §4.9's "(or a short deadline
// elapses with no frames)" trigger.
const deadlineGrace = 2 * time.Second

// Controller runs one per-source Recording state machine and submits
// finished windows to an Encoder. Encoding concurrency is bounded by a
// semaphore shared across every source's Controller, so that at most
// cfg.MaxConcurrent encodes run process-wide at once (spec §4.9 "at
// most maxConcurrent encodings in flight" reads global, not per-source).
type Controller struct {
	cfg      Config
	pre      *prebuffer.Buffer
	encoder  Encoder
	logger   *log.Logger
	sourceID string

	mu                sync.Mutex
	active            *Recording
	cooldownUntilMono int64
	deadlineTimer     *time.Timer

	sem chan struct{}
	wg  sync.WaitGroup
}

// NewController builds a Controller for one source, backed by its
// pre-buffer and encodeSem, an encoding semaphore shared across every
// source's Controller (see NewEncodeSemaphore).
func NewController(sourceID string, cfg Config, pre *prebuffer.Buffer, encoder Encoder, encodeSem chan struct{}, logger *log.Logger) *Controller {
	cfg = cfg.withDefaults()
	return &Controller{
		cfg:      cfg,
		pre:      pre,
		encoder:  encoder,
		logger:   logger,
		sourceID: sourceID,
		sem:      encodeSem,
	}
}

// NewEncodeSemaphore builds the shared encoding semaphore every source's
// Controller must be constructed with, sized to the process-wide
// maxConcurrent limit.
func NewEncodeSemaphore(maxConcurrent int) chan struct{} {
	if maxConcurrent <= 0 {
		maxConcurrent = 3
	}
	return make(chan struct{}, maxConcurrent)
}

// OnMotion implements spec §4.9's motion-event handling: ignore during
// cooldown, extend an in-flight recording, or start a new one snapped
// from the pre-buffer.
func (c *Controller) OnMotion(evt motion.MotionEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	nowMono := evt.TimestampMono
	if nowMono < c.cooldownUntilMono {
		return
	}

	if c.active != nil {
		c.active.EndMono = nowMono + int64(c.cfg.PostMotionSeconds)*int64(time.Second)
		c.armDeadlineLocked(c.active)
		return
	}

	startMono := nowMono - int64(c.cfg.PreBufferSeconds)*int64(time.Second)
	rec := &Recording{
		ID:        evt.ID,
		SourceID:  c.sourceID,
		StartMono: startMono,
		EndMono:   nowMono + int64(c.cfg.PostMotionSeconds)*int64(time.Second),
		State:     StateActive,
	}

	since := time.Unix(0, startMono)
	rec.FrameRefs = append(rec.FrameRefs, c.pre.SnapshotSince(since)...)
	c.active = rec
	c.armDeadlineLocked(rec)
}

// armDeadlineLocked (re)schedules the no-frames-arrived fallback for
// rec. Must be called with mu held.
func (c *Controller) armDeadlineLocked(rec *Recording) {
	if c.deadlineTimer != nil {
		c.deadlineTimer.Stop()
	}
	d := time.Until(time.Unix(0, rec.EndMono)) + deadlineGrace
	if d < 0 {
		d = 0
	}
	c.deadlineTimer = time.AfterFunc(d, func() { c.onDeadline(rec) })
}

// onDeadline fires deadlineGrace after a Recording's EndMono if no frame
// finalized it first. A motion event that extended EndMono concurrently
// is handled by re-checking under the lock before acting.
func (c *Controller) onDeadline(rec *Recording) {
	c.mu.Lock()
	if c.active != rec {
		// already finalized via OnFrame, or superseded.
		c.mu.Unlock()
		return
	}
	nowMono := time.Now().UnixNano()
	if nowMono <= rec.EndMono {
		// EndMono was extended after this timer was scheduled; rearm.
		c.armDeadlineLocked(rec)
		c.mu.Unlock()
		return
	}
	c.active = nil
	c.deadlineTimer = nil
	c.cooldownUntilMono = nowMono + int64(c.cfg.CooldownSeconds)*int64(time.Second)
	c.mu.Unlock()

	if c.logger != nil {
		c.logger.Printf("[recorder:%s] recording %s finalized by deadline (no frames past endMono)", c.sourceID, rec.ID)
	}
	c.finalize(rec)
}

// OnFrame implements the "while active[s] is non-nil, append every
// frame with ts <= endMono" rule, and triggers finalization once a
// frame arrives past endMono. The caller retains ownership of f; OnFrame
// retains its own reference if it keeps the frame.
func (c *Controller) OnFrame(f *frame.Frame) {
	c.mu.Lock()
	rec := c.active
	if rec == nil {
		c.mu.Unlock()
		return
	}

	nowMono := f.ArrivedAt.UnixNano()
	if nowMono > rec.EndMono {
		c.active = nil
		if c.deadlineTimer != nil {
			c.deadlineTimer.Stop()
			c.deadlineTimer = nil
		}
		c.cooldownUntilMono = nowMono + int64(c.cfg.CooldownSeconds)*int64(time.Second)
		c.mu.Unlock()
		c.finalize(rec)
		return
	}

	f.Retain()
	rec.FrameRefs = append(rec.FrameRefs, f)
	c.mu.Unlock()
}

// finalize transitions a detached recording through finalizing ->
// encoding, enforcing cfg.MaxConcurrent via a buffered semaphore.
// Motion that would start a new recording while the semaphore is
// saturated still starts (OnMotion never touches the semaphore);
// only the encode step back-pressures.
func (c *Controller) finalize(rec *Recording) {
	rec.State = StateFinalizing
	outputPath, err := c.outputPath(rec)
	if err != nil {
		c.logFailure(rec, err)
		return
	}
	rec.OutputPath = outputPath

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.sem <- struct{}{}
		defer func() { <-c.sem }()

		rec.State = StateEncoding
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		_, err := c.encoder.Encode(ctx, rec.FrameRefs, rec.OutputPath, c.cfg.FPS, c.cfg.VideoQuality)
		for _, f := range rec.FrameRefs {
			f.Release()
		}
		if err != nil {
			c.logFailure(rec, err)
			return
		}
		rec.State = StateDone
		c.writeSidecar(rec)
	}()
}

func (c *Controller) logFailure(rec *Recording, err error) {
	rec.State = StateFailed
	for _, f := range rec.FrameRefs {
		f.Release()
	}
	if c.logger != nil {
		c.logger.Printf("[recorder:%s] recording %s failed: %v", c.sourceID, rec.ID, err)
	}
}

// outputPath builds <outputDir>/<YYYY-MM-DD>/motion_<ts>_<randHex>.mp4
// (spec §6 "On-disk recording layout").
func (c *Controller) outputPath(rec *Recording) (string, error) {
	day := time.Now().Format("2006-01-02")
	ts := time.Now().Format("2006-01-02T15-04-05")
	suffix, err := randHex(4)
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("motion_%s_%s.mp4", ts, suffix)
	return filepath.Join(c.cfg.OutputDir, day, name), nil
}

func (c *Controller) writeSidecar(rec *Recording) {
	side := sidecar{
		ID:         rec.ID,
		SourceID:   rec.SourceID,
		StartTime:  time.Unix(0, rec.StartMono),
		EndTime:    time.Unix(0, rec.EndMono),
		FrameCount: len(rec.FrameRefs),
	}
	data, err := json.MarshalIndent(side, "", "  ")
	if err != nil {
		return
	}
	path := rec.OutputPath[:len(rec.OutputPath)-len(filepath.Ext(rec.OutputPath))] + ".json"
	if err := os.WriteFile(path, data, 0o644); err != nil && c.logger != nil {
		c.logger.Printf("[recorder:%s] sidecar write failed: %v", c.sourceID, err)
	}
}

// Wait blocks until every in-flight encode started before the call
// completes, for graceful shutdown.
func (c *Controller) Wait() {
	c.wg.Wait()
}

func randHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
