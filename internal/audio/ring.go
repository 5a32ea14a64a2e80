package audio

import (
	"math"
	"time"
)

// Ring buffer for PCM16 samples (int16). Keeps the most recent Cap() samples.
//
// Ring does no locking of its own. The owner serializes every call, which lets
// a single lock cover the ring and whatever state is read out of it.
type Ring struct {
	buf    []int16
	pos    int // next slot to write
	filled int // valid samples, saturates at len(buf)
}

func NewRing(size int) *Ring {
	if size < 1 {
		size = 1
	}
	return &Ring{buf: make([]int16, size)}
}

// SamplesFor converts a duration to a sample count at the given rate. The
// result saturates at math.MaxInt instead of wrapping.
func SamplesFor(sampleRate int, d time.Duration) int {
	ms := d.Milliseconds()
	if sampleRate <= 0 || ms <= 0 {
		return 0
	}
	if ms > math.MaxInt64/int64(sampleRate) {
		return math.MaxInt
	}
	n := int64(sampleRate) * ms / 1000
	if n > math.MaxInt {
		return math.MaxInt
	}
	return int(n)
}

// maxMillis is the largest millisecond count a time.Duration can hold.
const maxMillis = math.MaxInt64 / int64(time.Millisecond)

// Millis converts a millisecond count from a request or config file to a
// Duration, saturating at the int64 limits instead of wrapping.
func Millis(ms int64) time.Duration {
	switch {
	case ms > maxMillis:
		return math.MaxInt64
	case ms < -maxMillis:
		return math.MinInt64
	}
	return time.Duration(ms) * time.Millisecond
}

// Append copies the first length samples into the ring, overwriting the
// oldest data once full. length is clamped to len(samples).
func (r *Ring) Append(samples []int16, length int) {
	if length <= 0 {
		return
	}
	if length > len(samples) {
		length = len(samples)
	}

	idx := 0
	for idx < length {
		n := copy(r.buf[r.pos:], samples[idx:length])
		r.pos += n
		if r.pos >= len(r.buf) {
			r.pos = 0
		}
		r.filled = min(len(r.buf), r.filled+n)
		idx += n
	}
}

// Snapshot returns a copy of the last min(requested, Len()) samples, oldest
// first. It returns nil when requested <= 0 or the ring is empty.
func (r *Ring) Snapshot(requested int) []int16 {
	if requested <= 0 || r.filled == 0 {
		return nil
	}

	take := min(requested, r.filled)
	out := make([]int16, take)

	start := wrap(r.pos-take, len(r.buf))
	first := copy(out, r.buf[start:])
	if first < take {
		copy(out[first:], r.buf[:take-first])
	}
	return out
}

// Reset discards the logical contents. Storage is left as is; only the last
// Len() samples are ever read.
func (r *Ring) Reset() {
	r.pos = 0
	r.filled = 0
}

func (r *Ring) Len() int    { return r.filled }
func (r *Ring) Cap() int    { return len(r.buf) }
func (r *Ring) Cursor() int { return r.pos }

// wrap maps any x into [0, n), including negative x.
func wrap(x, n int) int {
	return ((x % n) + n) % n
}
