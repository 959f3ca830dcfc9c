// Package telemetry models the raw interaction buffer an external collector
// feeds into the pipeline. The buffer is a bounded ring: the producer appends,
// the extractor only ever reads an immutable snapshot.
package telemetry

import (
	"sync"
	"time"
)

// Capacity bounds the event ring. Older events are overwritten.
const Capacity = 500

// EventKind identifies an interaction event type.
type EventKind string

const (
	EventPointer EventKind = "pointer"
	EventKeyDown EventKind = "keydown"
	EventKeyUp   EventKind = "keyup"
	EventScroll  EventKind = "scroll"
	EventTouch   EventKind = "touch"
	EventMotion  EventKind = "motion"
)

// Event is one timestamped interaction sample. X/Y carry pointer or touch
// coordinates, scroll offsets, or device-motion axes depending on Kind.
type Event struct {
	Kind EventKind `json:"kind"`
	At   int64     `json:"at"` // epoch milliseconds
	X    float64   `json:"x,omitempty"`
	Y    float64   `json:"y,omitempty"`
	Z    float64   `json:"z,omitempty"`
	Key  string    `json:"key,omitempty"`
}

// Environment is the one-shot browser/environment snapshot captured at boot.
// Canvas and WebGL values are opaque strings produced by the collector.
type Environment struct {
	UserAgent           string `json:"userAgent"`
	Platform            string `json:"platform"`
	PluginCount         int    `json:"pluginCount"`
	HardwareConcurrency int    `json:"hardwareConcurrency"`
	CanvasHash          string `json:"canvasHash"`
	WebGLRenderer       string `json:"webglRenderer"`
	Timezone            string `json:"timezone"`
	Languages           int    `json:"languages"`
	WebDriver           bool   `json:"webdriver"`
	InnerEqualsOuter    bool   `json:"innerEqualsOuter"`
	HasOuterDimensions  bool   `json:"hasOuterDimensions"`
	MaxTouchPoints      int    `json:"maxTouchPoints"`
}

// Sample is an immutable view over the buffer contents at one instant.
type Sample struct {
	Events      []Event     `json:"events"`
	Environment Environment `json:"environment"`
	CollectedAt time.Time   `json:"collectedAt"`
}

// Buffer is the producer-owned bounded ring.
type Buffer struct {
	mu     sync.Mutex
	events [Capacity]Event
	head   int
	size   int
	env    Environment
	envSet bool
}

// NewBuffer creates an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Push appends an event, overwriting the oldest when full.
func (b *Buffer) Push(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events[b.head] = ev
	b.head = (b.head + 1) % Capacity
	if b.size < Capacity {
		b.size++
	}
}

// SetEnvironment records the one-shot environment snapshot. Only the first
// call takes effect; the environment does not change over a page lifetime.
func (b *Buffer) SetEnvironment(env Environment) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.envSet {
		b.env = env
		b.envSet = true
	}
}

// Len returns the number of buffered events.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Snapshot returns an immutable copy of the current contents in arrival order.
func (b *Buffer) Snapshot() *Sample {
	b.mu.Lock()
	defer b.mu.Unlock()

	events := make([]Event, 0, b.size)
	start := b.head - b.size
	if start < 0 {
		start += Capacity
	}
	for i := 0; i < b.size; i++ {
		events = append(events, b.events[(start+i)%Capacity])
	}

	return &Sample{
		Events:      events,
		Environment: b.env,
		CollectedAt: time.Now(),
	}
}
