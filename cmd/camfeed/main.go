// Command camfeed runs the multi-camera MJPEG fan-out and motion
// detection server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"camfeed/internal/auth"
	"camfeed/internal/bufpool"
	camfeedconfig "camfeed/internal/config"
	"camfeed/internal/httpapi"
	"camfeed/internal/mjpeg"
	"camfeed/internal/motion"
	"camfeed/internal/motionpool"
	"camfeed/internal/recorder"
	"camfeed/internal/sse"
	"camfeed/internal/store"
	"camfeed/internal/streammgr"
)

func main() {
	var configPathF = flag.String("config", "config.json", "path to the JSON configuration file")
	flag.Parse()

	logger := log.New(os.Stderr, "[camfeed] ", log.Ltime)

	cfg, err := camfeedconfig.Load(*configPathF)
	if err != nil {
		logger.Fatalf("config: %v", err)
	}

	bufPool := bufpool.New(256*1024, 32)

	sources := make([]mjpeg.SourceConfig, 0, len(cfg.StreamSources))
	for _, s := range cfg.StreamSources {
		sources = append(sources, mjpeg.SourceConfig{ID: s.ID, Name: s.Name, URL: s.URL, IsDefault: s.IsDefault})
	}

	preBufferFrames := cfg.Recording.PreBufferSeconds * cfg.MotionDetection.FPS
	streams, err := streammgr.New(sources, bufPool, preBufferFrames, cfg.MotionDetection.FPS, log.New(os.Stderr, "[camfeed:stream] ", log.Ltime))
	if err != nil {
		logger.Fatalf("streammgr: %v", err)
	}
	streams.PreWarm()

	authenticator, err := auth.NewPauseAuthenticator(cfg.StreamPausePassword)
	if err != nil {
		logger.Fatalf("auth: %v", err)
	}

	broadcaster := sse.New()

	var history *store.Store
	if cfg.MotionHistoryDBPath != "" {
		history, err = store.Open(cfg.MotionHistoryDBPath)
		if err != nil {
			logger.Fatalf("store: %v", err)
		}
		defer history.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())

	if history != nil && cfg.Recording.RetentionDays > 0 {
		go runRetentionSweep(ctx, history, cfg.Recording.RetentionDays, logger)
	}

	poolSize := cfg.MotionDetection.WorkerPool.PoolSize
	if poolSize <= 0 {
		poolSize = max(1, runtime.NumCPU()-1)
	}
	queueSize := cfg.MotionDetection.WorkerPool.MaxQueueSize
	if queueSize <= 0 {
		queueSize = motionpool.DefaultQueueSize
	}
	pool := motionpool.New(poolSize, queueSize)
	defer pool.Shutdown(5 * time.Second)

	motionLogger := log.New(os.Stderr, "[camfeed:motion] ", log.Ltime)
	recorderLogger := log.New(os.Stderr, "[camfeed:recorder] ", log.Ltime)

	// Shared across every source's Controller so that at most
	// cfg.Recording.MaxConcurrent encodes run process-wide, not per source.
	encodeSem := recorder.NewEncodeSemaphore(cfg.Recording.MaxConcurrent)

	detectorsRunning := 0
	for _, src := range sources {
		proxy, err := streams.GetProxy(src.ID)
		if err != nil {
			logger.Fatalf("streammgr: %v", err)
		}

		mcfg := motion.Config{
			Width:          cfg.MotionDetection.Width,
			Height:         cfg.MotionDetection.Height,
			FPS:            cfg.MotionDetection.FPS,
			Threshold:      cfg.MotionDetection.Threshold,
			CooldownMs:     cfg.MotionDetection.CooldownMs,
			IgnoredYRanges: cfg.MotionDetection.IgnoredYRanges,
			ShadowRemoval:  cfg.MotionDetection.ShadowRemoval,
			ColorDetection: cfg.MotionDetection.ColorDetection,
			Region:         cfg.MotionDetection.Region,
			TemporalShadow: cfg.MotionDetection.TemporalShadow,
			DetectionMode:  cfg.MotionDetection.DetectionMode,
		}

		detector := motion.NewDetector(src.ID, mcfg, pool, motionLogger)
		go detector.Run(ctx, proxy.MotionFrameEvents())

		var rec *recorder.Controller
		if cfg.Recording.Enabled {
			encoder := &recorder.FFmpegEncoder{Codec: cfg.Recording.VideoCodec, Preset: cfg.Recording.VideoPreset}
			rec = recorder.NewController(src.ID, cfg.Recording, proxy.PreBuffer(), encoder, encodeSem, recorderLogger)
			go func(p *mjpeg.Proxy, r *recorder.Controller) {
				for f := range p.FrameEvents() {
					r.OnFrame(f)
					f.Release()
				}
			}(proxy, rec)
		}

		go func(sourceID string, events <-chan motion.MotionEvent, rec *recorder.Controller) {
			for evt := range events {
				if evt.Kind != motion.EventMotion {
					continue
				}
				broadcaster.Publish(sse.Event{
					Type:        "motion",
					ID:          evt.ID,
					SourceID:    evt.SourceID,
					Timestamp:   evt.TimestampWall.Format(time.RFC3339),
					TimestampMs: evt.TimestampWall.UnixMilli(),
					Intensity:   evt.IntensityPct,
					Threshold:   evt.Threshold,
				})
				if history != nil {
					if err := history.Insert(evt); err != nil {
						motionLogger.Printf("[%s] store insert: %v", sourceID, err)
					}
				}
				if rec != nil {
					rec.OnMotion(evt)
				}
			}
		}(src.ID, detector.Events(), rec)

		detectorsRunning++
	}
	logger.Printf("started %d motion detector(s)", detectorsRunning)

	apiServer := httpapi.New(streams, authenticator, broadcaster, history, logger)
	httpServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, fmt.Sprintf("%d", cfg.Server.Port)),
		Handler: apiServer.Router(),
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	listenErrc := make(chan error, 1)
	go func() {
		logger.Printf("listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			listenErrc <- err
		}
	}()

	bindFailed := false
	select {
	case sig := <-sigc:
		logger.Printf("exiting (%s)", sig)
	case err := <-listenErrc:
		bindFailed = true
		logger.Printf("unrecoverable: failed to bind %s on %s: %v", httpServer.Addr, runtime.GOOS, err)
	}

	cancel()
	streams.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("http shutdown: %v", err)
	}

	if bindFailed {
		logger.Println("exited (listener bind failure)")
		os.Exit(1)
	}
	logger.Println("exited")
}

// runRetentionSweep periodically prunes motion-event history rows older
// than cfg.Recording.RetentionDays, stopping when ctx is cancelled.
func runRetentionSweep(ctx context.Context, history *store.Store, retentionDays int, logger *log.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		cutoff := time.Now().AddDate(0, 0, -retentionDays).UnixMilli()
		if n, err := history.PruneBefore(cutoff); err != nil {
			logger.Printf("retention sweep: %v", err)
		} else if n > 0 {
			logger.Printf("retention sweep: pruned %d motion event(s) older than %d day(s)", n, retentionDays)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
