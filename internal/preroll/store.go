package preroll

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"speech-preroll/internal/audio"
)

type State string

const (
	StateEmpty    State = "empty"
	StateCaptured State = "captured"
	StateArmed    State = "armed"
)

// capture is the pending slot. It is replaced on every transition and never
// modified after being stored, so a nil slot is the only way to be "empty"
// and armed cannot exist without samples.
type capture struct {
	id      string
	samples []int16
	at      time.Time
	armed   bool
}

// Store is the ring buffer plus the pending slot, both behind one mutex so a
// capture never observes a partially appended chunk.
type Store struct {
	mu      sync.Mutex
	ring    *audio.Ring
	pending *capture

	sampleRate int
	capacity   time.Duration
	now        func() time.Time
	sink       Sink
	logger     *zap.Logger
}

type CaptureInfo struct {
	ID      string    `json:"id,omitempty"`
	Samples int       `json:"samples"`
	At      time.Time `json:"at"`
}

type Status struct {
	State          State         `json:"state"`
	SampleRate     int           `json:"sampleRate"`
	Capacity       int           `json:"capacity"`
	Filled         int           `json:"filled"`
	PendingID      string        `json:"pendingId,omitempty"`
	PendingSamples int           `json:"pendingSamples"`
	PendingAge     time.Duration `json:"pendingAgeNs"`
}

func New(opts ...Option) *Store {
	s := &Store{
		sampleRate: SampleRateHz,
		capacity:   CapacityMs * time.Millisecond,
		now:        time.Now,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ring = audio.NewRing(audio.SamplesFor(s.sampleRate, s.capacity))
	return s
}

func (s *Store) SampleRate() int { return s.sampleRate }

// Append stores the first length samples of pcm. It is called by the capture
// source for every chunk it delivers.
func (s *Store) Append(pcm []int16, length int) {
	if length <= 0 {
		return
	}
	s.mu.Lock()
	s.ring.Append(pcm, length)
	s.mu.Unlock()
}

// Capture takes the most recent window of audio into the pending slot,
// replacing whatever was there and disarming it. An empty ring leaves the
// slot empty; that is a valid outcome, not an error.
func (s *Store) Capture(window time.Duration) CaptureInfo {
	now := s.now()
	requested := audio.SamplesFor(s.sampleRate, window)

	info := CaptureInfo{At: now}

	s.mu.Lock()
	snap := s.ring.Snapshot(requested)
	if snap != nil {
		info.ID = uuid.NewString()
		info.Samples = len(snap)
		s.pending = &capture{id: info.ID, samples: snap, at: now}
	} else {
		s.pending = nil
	}
	s.mu.Unlock()

	if info.Samples > 0 {
		s.logger.Debug("captured pending preroll",
			zap.String("capture_id", info.ID),
			zap.Int("samples", info.Samples),
			zap.Int("ms", info.Samples*1000/s.sampleRate))
	} else {
		s.logger.Debug("captured pending preroll: empty")
	}
	s.emit(Event{Kind: EventCaptured, CaptureID: info.ID, Samples: info.Samples, At: now})
	return info
}

// Arm marks the pending capture as deliverable. With no pending capture it
// does nothing and reports false.
func (s *Store) Arm() bool {
	s.mu.Lock()
	p := s.pending
	if p != nil {
		armed := *p
		armed.armed = true
		s.pending = &armed
	}
	s.mu.Unlock()

	if p == nil {
		return false
	}
	s.emit(Event{Kind: EventArmed, CaptureID: p.id, Samples: len(p.samples), At: s.now()})
	return true
}

// Clip is a delivered capture.
type Clip struct {
	ID         string
	Samples    []int16
	CapturedAt time.Time
}

// Consume hands out the armed capture exactly once. It returns nil when
// nothing is pending, when the capture is not armed, or when it is older than
// maxAge; in the last case the capture is dropped.
func (s *Store) Consume(maxAge time.Duration) []int16 {
	clip, ok := s.ConsumeClip(maxAge)
	if !ok {
		return nil
	}
	return clip.Samples
}

// ConsumeClip is Consume with the capture's ID and timestamp.
func (s *Store) ConsumeClip(maxAge time.Duration) (Clip, bool) {
	now := s.now()

	s.mu.Lock()
	p := s.pending
	if p == nil || !p.armed {
		s.mu.Unlock()
		return Clip{}, false
	}
	s.pending = nil
	s.mu.Unlock()

	if age := now.Sub(p.at); age > maxAge {
		s.logger.Debug("pending preroll expired",
			zap.String("capture_id", p.id),
			zap.Duration("age", age),
			zap.Duration("max_age", maxAge))
		s.emit(Event{Kind: EventExpired, CaptureID: p.id, Samples: len(p.samples), At: now})
		return Clip{}, false
	}

	s.emit(Event{Kind: EventConsumed, CaptureID: p.id, Samples: len(p.samples), At: now})
	return Clip{ID: p.id, Samples: p.samples, CapturedAt: p.at}, true
}

// Clear empties the ring and drops any pending capture.
func (s *Store) Clear() {
	s.mu.Lock()
	s.ring.Reset()
	s.pending = nil
	s.mu.Unlock()

	s.emit(Event{Kind: EventCleared, At: s.now()})
}

func (s *Store) Status() Status {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		State:      StateEmpty,
		SampleRate: s.sampleRate,
		Capacity:   s.ring.Cap(),
		Filled:     s.ring.Len(),
	}
	if p := s.pending; p != nil {
		st.State = StateCaptured
		if p.armed {
			st.State = StateArmed
		}
		st.PendingID = p.id
		st.PendingSamples = len(p.samples)
		st.PendingAge = now.Sub(p.at)
	}
	return st
}

func (s *Store) emit(e Event) {
	if s.sink != nil {
		s.sink.Handle(e)
	}
}
