// Package state implements the State Tracker: a record of the most
// recent sticky message per (stream, type), replayed to consumers that
// join a pipeline after those messages were first emitted. See spec §3
// and §4.6.
package state

import (
	"sync"

	"github.com/zsiec/glc/internal/glcfmt"
)

// Entry is one recorded sticky message.
type Entry struct {
	StreamID glcfmt.StreamID
	Header   glcfmt.MessageHeader
	Payload  []byte
}

type key struct {
	streamID glcfmt.StreamID
	typ      glcfmt.MessageType
}

// Tracker records the latest sticky message (VIDEO_FORMAT, AUDIO_FORMAT,
// COLOR) per (stream, type) and replays them in the order they were
// first inserted, so a consumer that attaches after the fact can still
// recover current format/color state without waiting for a resend.
//
// Modeled on the teacher's snapshot-style stats accessor
// (distribution.DemuxStats): an ordered slice of keys backs a map for
// O(1) overwrite-in-place, so replay order survives repeated updates.
type Tracker struct {
	mu      sync.Mutex
	order   []key
	entries map[key]Entry
}

// New returns an empty Tracker.
func New() *Tracker {
	return &Tracker{entries: make(map[key]Entry)}
}

// Submit records header/payload for streamID. Non-sticky message types
// are ignored: the Tracker only exists to answer "what was the last
// sticky state", not to log traffic.
func (t *Tracker) Submit(streamID glcfmt.StreamID, header glcfmt.MessageHeader, payload []byte) {
	if !header.Type.IsSticky() {
		return
	}
	k := key{streamID: streamID, typ: header.Type}

	t.mu.Lock()
	defer t.mu.Unlock()

	stored := make([]byte, len(payload))
	copy(stored, payload)
	if _, exists := t.entries[k]; !exists {
		t.order = append(t.order, k)
	}
	t.entries[k] = Entry{StreamID: streamID, Header: header, Payload: stored}
}

// Forget drops every entry recorded for streamID, used when a stream is
// closed and its format state is no longer relevant to new consumers.
func (t *Tracker) Forget(streamID glcfmt.StreamID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	kept := t.order[:0]
	for _, k := range t.order {
		if k.streamID == streamID {
			delete(t.entries, k)
			continue
		}
		kept = append(kept, k)
	}
	t.order = kept
}

// Iterate replays every recorded entry in first-insertion order. fn's
// return value is not observed: it exists purely for side effects (e.g.
// re-emitting the message onto a newly attached consumer buffer).
func (t *Tracker) Iterate(fn func(Entry)) {
	t.mu.Lock()
	snapshot := make([]Entry, 0, len(t.order))
	for _, k := range t.order {
		snapshot = append(snapshot, t.entries[k])
	}
	t.mu.Unlock()

	for _, e := range snapshot {
		fn(e)
	}
}
