package server

import (
	"sync"
)

// Registry tracks the outbound channel of every live session and fans
// messages out to them. A single mutex is held for the whole duration of a
// Broadcast call, so a broadcast observes a consistent membership and no
// two broadcasts interleave their per-channel deliveries.
type Registry struct {
	mu       sync.Mutex
	outbound map[uint32]chan<- string // sessionID -> outbound line channel
}

// NewRegistry creates an empty broadcast registry.
func NewRegistry() *Registry {
	return &Registry{
		outbound: make(map[uint32]chan<- string),
	}
}

// Register adds a session's outbound channel. Registering an already
// present session is a no-op.
func (r *Registry) Register(sessionID uint32, out chan<- string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.outbound[sessionID]; exists {
		return
	}
	r.outbound[sessionID] = out
}

// Deregister removes a session. Removing an absent session is a no-op, so
// cleanup paths may call it more than once.
func (r *Registry) Deregister(sessionID uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.outbound, sessionID)
}

// Broadcast queues line on every registered channel except the excluded
// session (0 = none). A session whose channel cannot accept the line is
// dropped from the registry; one dead peer never blocks delivery to the
// rest. Returns the number of sessions the line was delivered to.
func (r *Registry) Broadcast(line string, exclude uint32) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	delivered := 0
	for id, out := range r.outbound {
		if id == exclude {
			continue
		}
		select {
		case out <- line:
			delivered++
		default:
			// Full or abandoned outbound buffer: the peer is dead or
			// hopelessly behind. Its own read loop finishes cleanup.
			delete(r.outbound, id)
		}
	}
	return delivered
}

// Send queues line on a single session's channel. Returns false when the
// session is not registered or its channel would not accept the line.
func (r *Registry) Send(sessionID uint32, line string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	out, ok := r.outbound[sessionID]
	if !ok {
		return false
	}
	select {
	case out <- line:
		return true
	default:
		delete(r.outbound, sessionID)
		return false
	}
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.outbound)
}
