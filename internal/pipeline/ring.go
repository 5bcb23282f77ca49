package pipeline

import (
	"sync"

	"github.com/nerrad567/ebus-bridge/internal/ebus"
)

// ring keeps the last n decoded messages.
type ring struct {
	mu   sync.RWMutex
	buf  []ebus.Message
	next int
	full bool
}

func newRing(n int) *ring {
	return &ring{buf: make([]ebus.Message, n)}
}

func (r *ring) push(m ebus.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = m
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

// last returns up to n messages, newest first. n <= 0 returns all.
func (r *ring) last(n int) []ebus.Message {
	r.mu.RLock()
	defer r.mu.RUnlock()

	size := r.next
	if r.full {
		size = len(r.buf)
	}
	if n <= 0 || n > size {
		n = size
	}
	out := make([]ebus.Message, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, r.buf[(r.next-i+len(r.buf))%len(r.buf)])
	}
	return out
}
