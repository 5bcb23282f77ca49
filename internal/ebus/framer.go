package ebus

import "bytes"

// Framer buffer limits.
const (
	// DefaultMaxBuffer is the size past which an undelimited buffer is
	// treated as a desynchronised stream.
	DefaultMaxBuffer = 512

	// DefaultTailWindow is how many of the newest bytes survive a desync trim.
	DefaultTailWindow = 256
)

// FramerStats counts framer activity.
type FramerStats struct {
	Frames       uint64
	DesyncTrims  uint64
	BytesDropped uint64
}

// Framer splits a SYNC-delimited byte stream into raw frames.
//
// It keeps whatever follows the last SYNC byte until the next call, so
// chunks do not need to align with frame boundaries. A Framer is not safe
// for concurrent use.
type Framer struct {
	buf        []byte
	maxBuffer  int
	tailWindow int
	stats      FramerStats
}

// NewFramer creates a framer. Zero limits select the defaults.
func NewFramer(maxBuffer, tailWindow int) *Framer {
	if maxBuffer <= 0 {
		maxBuffer = DefaultMaxBuffer
	}
	if tailWindow <= 0 || tailWindow > maxBuffer {
		tailWindow = min(DefaultTailWindow, maxBuffer)
	}
	return &Framer{maxBuffer: maxBuffer, tailWindow: tailWindow}
}

// Feed appends chunk to the buffer and returns every complete frame, in
// arrival order. Returned frames are still escaped and own their memory.
func (f *Framer) Feed(chunk []byte) [][]byte {
	f.buf = append(f.buf, chunk...)

	var frames [][]byte
	for {
		start := 0
		for start < len(f.buf) && f.buf[start] == SyncByte {
			start++
		}
		f.buf = f.buf[start:]
		if len(f.buf) == 0 {
			break
		}

		end := bytes.IndexByte(f.buf, SyncByte)
		if end < 0 {
			f.trim()
			break
		}

		frame := make([]byte, end)
		copy(frame, f.buf[:end])
		frames = append(frames, frame)
		f.buf = f.buf[end:]
		f.stats.Frames++
	}

	f.compact()
	return frames
}

// trim drops the oldest bytes when no delimiter shows up within maxBuffer.
func (f *Framer) trim() {
	if len(f.buf) <= f.maxBuffer {
		return
	}
	drop := len(f.buf) - f.tailWindow
	f.buf = f.buf[drop:]
	f.stats.DesyncTrims++
	f.stats.BytesDropped += uint64(drop)
}

// compact moves the pending bytes to the front of a fresh slice once the
// backing array has grown well beyond what is held.
func (f *Framer) compact() {
	if cap(f.buf) > 4*f.maxBuffer && len(f.buf) < f.maxBuffer {
		f.buf = append([]byte(nil), f.buf...)
	}
}

// Pending returns the number of buffered bytes awaiting a delimiter.
func (f *Framer) Pending() int {
	return len(f.buf)
}

// Stats returns the framer counters.
func (f *Framer) Stats() FramerStats {
	return f.stats
}

// Reset discards buffered bytes, e.g. after the transport reconnects.
func (f *Framer) Reset() {
	f.buf = nil
}
