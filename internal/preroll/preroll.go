// Package preroll keeps the audio that precedes a trigger (a wake word or a
// button press) so a speech session that starts a moment later can still
// receive the utterance onset.
//
// A Store owns one ring of recent PCM16 samples and one pending capture slot.
// Delivery is a three step protocol:
//
//	info := store.Capture(preroll.DefaultWindow) // on trigger detection
//	store.Arm()                                  // once the session really starts
//	pcm := store.Consume(preroll.DefaultMaxAge)  // exactly once, if still fresh
//
// A capture that is never armed is never delivered, and an armed capture older
// than the consumer's max age is discarded instead of delivered. Every method
// degrades to an empty result rather than an error.
package preroll

import (
	"time"

	"go.uber.org/zap"
)

const (
	SampleRateHz = 16000
	CapacityMs   = 2500

	DefaultWindow = 1600 * time.Millisecond
	DefaultMaxAge = 10 * time.Second
)

type Option func(*Store)

// WithSampleRate sets the rate used to convert windows to sample counts.
func WithSampleRate(hz int) Option {
	return func(s *Store) {
		if hz > 0 {
			s.sampleRate = hz
		}
	}
}

// WithCapacity sets how much history the ring holds.
func WithCapacity(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.capacity = d
		}
	}
}

// WithClock replaces time.Now. The default clock carries a monotonic reading,
// so age checks are unaffected by wall-clock adjustments.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func WithSink(sink Sink) Option {
	return func(s *Store) {
		s.sink = sink
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}
