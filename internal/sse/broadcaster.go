// Package sse implements the server-sent-event fan-out for motion
// notifications (spec §4.8 / §6 "Motion event channel").
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// subscriberBacklog is the bounded channel size for each
	// subscriber; a subscriber that can't keep up is dropped rather
	// than allowed to stall the publisher.
	subscriberBacklog = 16
	keepaliveInterval = 30 * time.Second
)

// Event is one motion notification's wire payload (spec §6).
type Event struct {
	Type         string  `json:"type"`
	ID           string  `json:"id"`
	SourceID     string  `json:"sourceId"`
	Timestamp    string  `json:"timestamp"`
	TimestampMs  int64   `json:"timestampMs"`
	Intensity    float64 `json:"intensity"`
	Threshold    float64 `json:"threshold"`
}

type subscriber struct {
	id string
	ch chan Event
}

// Broadcaster fans motion events out to any number of concurrent SSE
// subscribers, dropping slow subscribers rather than blocking on them.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[string]*subscriber
}

// New returns an empty Broadcaster.
func New() *Broadcaster {
	return &Broadcaster{subs: make(map[string]*subscriber)}
}

// Publish delivers evt to every subscriber's channel without
// blocking; a subscriber whose channel is already full is unsubscribed
// and its channel closed.
func (b *Broadcaster) Publish(evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subs {
		select {
		case sub.ch <- evt:
		default:
			close(sub.ch)
			delete(b.subs, id)
		}
	}
}

// subscribe registers a new subscriber and returns its id and channel.
func (b *Broadcaster) subscribe() (string, <-chan Event) {
	id := uuid.NewString()
	ch := make(chan Event, subscriberBacklog)
	b.mu.Lock()
	b.subs[id] = &subscriber{id: id, ch: ch}
	b.mu.Unlock()
	return id, ch
}

// unsubscribe removes a subscriber if still present; closing its
// channel if Publish hasn't already done so.
func (b *Broadcaster) unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(sub.ch)
	}
}

// SubscriberCount reports how many subscribers are currently attached.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// ServeHTTP streams motion events as text/event-stream until the
// client disconnects, interleaving 30s keepalive comment lines.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	id, ch := b.subscribe()
	defer b.unsubscribe(id)

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
