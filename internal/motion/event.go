package motion

import (
	"time"

	"github.com/google/uuid"
)

// EventKind labels the two events emitted together on every firing:
// one EventMotion and one EventMotionStart with the same payload
// (spec §4.7 step 8).
type EventKind string

const (
	EventMotion      EventKind = "motion"
	EventMotionStart EventKind = "motion-start"
)

// MotionEvent is emitted when the detector's full decision pipeline
// fires and the per-source cooldown has elapsed (spec §4.7 step 8).
type MotionEvent struct {
	ID                   string    `json:"id"`
	Kind                 EventKind `json:"kind"`
	SourceID             string    `json:"sourceId"`
	TimestampWall        time.Time `json:"timestampWall"`
	TimestampMono        int64     `json:"timestampMono"`
	NormalizedDifference float64   `json:"normalizedDifference"`
	Threshold            float64   `json:"threshold"`
	IntensityPct         float64   `json:"intensityPct"`
	ClassifierMetadata   map[string]any `json:"classifierMetadata,omitempty"`
}

// newMotionEvent builds the event pair's payload for one firing.
func newMotionEvent(kind EventKind, sourceID string, wall time.Time, mono int64, normalizedDifference, threshold float64, metadata map[string]any) MotionEvent {
	return MotionEvent{
		ID:                   uuid.NewString(),
		Kind:                 kind,
		SourceID:             sourceID,
		TimestampWall:        wall,
		TimestampMono:        mono,
		NormalizedDifference: normalizedDifference,
		Threshold:            threshold,
		IntensityPct:         normalizedDifference * 100,
		ClassifierMetadata:   metadata,
	}
}
