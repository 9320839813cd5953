// Package sessiontest provides an in-memory session.Session for tests.
package sessiontest

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/robalobadob/forsale/apps/go-server/internal/session"
)

// Recorder captures every envelope sent to it.
type Recorder struct {
	id string

	mu     sync.Mutex
	frames []session.Envelope
	closed bool
}

// New returns a Recorder with a random id.
func New() *Recorder { return &Recorder{id: uuid.NewString()} }

func (r *Recorder) ID() string { return r.id }

func (r *Recorder) Send(env session.Envelope) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.frames = append(r.frames, env)
	return true
}

func (r *Recorder) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

// Closed reports whether Close was called.
func (r *Recorder) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Frames returns a copy of everything received so far.
func (r *Recorder) Frames() []session.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]session.Envelope(nil), r.frames...)
}

// Types returns the envelope types in arrival order.
func (r *Recorder) Types() []string {
	frames := r.Frames()
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = f.Type
	}
	return out
}

// Last decodes the payload of the most recent frame of type typ into v and
// reports whether one was found.
func (r *Recorder) Last(typ string, v any) bool {
	frames := r.Frames()
	for i := len(frames) - 1; i >= 0; i-- {
		if frames[i].Type == typ {
			return json.Unmarshal(frames[i].Payload, v) == nil
		}
	}
	return false
}

// Reset drops the captured frames.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.frames = nil
	r.mu.Unlock()
}
