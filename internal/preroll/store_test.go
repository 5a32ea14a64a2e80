package preroll

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingSink) Handle(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recordingSink) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

func ramp(n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(i % 100)
	}
	return out
}

func newTestStore(t *testing.T, opts ...Option) (*Store, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return New(opts...), clock
}

func TestNew_Defaults(t *testing.T) {
	s := New()
	st := s.Status()
	if st.Capacity != 40000 {
		t.Errorf("Capacity = %d, want 40000", st.Capacity)
	}
	if st.SampleRate != SampleRateHz {
		t.Errorf("SampleRate = %d, want %d", st.SampleRate, SampleRateHz)
	}
	if st.State != StateEmpty || st.Filled != 0 {
		t.Errorf("new store status = %+v, want empty", st)
	}
}

func TestNew_CustomCapacity(t *testing.T) {
	s := New(WithSampleRate(8000), WithCapacity(500*time.Millisecond))
	if got := s.Status().Capacity; got != 4000 {
		t.Errorf("Capacity = %d, want 4000", got)
	}
}

func TestConsume_WithoutArmReturnsNothing(t *testing.T) {
	s, _ := newTestStore(t)
	s.Append(ramp(1000), 1000)
	s.Capture(DefaultWindow)

	if got := s.Consume(DefaultMaxAge); got != nil {
		t.Fatalf("Consume before Arm returned %d samples, want nil", len(got))
	}

	// still deliverable once armed
	if !s.Arm() {
		t.Fatal("Arm() = false, want true")
	}
	if got := s.Consume(DefaultMaxAge); len(got) != 1000 {
		t.Fatalf("Consume after Arm returned %d samples, want 1000", len(got))
	}
}

func TestConsume_ExactlyOnce(t *testing.T) {
	s, _ := newTestStore(t)
	s.Append(ramp(500), 500)
	s.Capture(DefaultWindow)
	s.Arm()

	if got := s.Consume(DefaultMaxAge); len(got) != 500 {
		t.Fatalf("first Consume returned %d samples, want 500", len(got))
	}
	if got := s.Consume(DefaultMaxAge); got != nil {
		t.Fatalf("second Consume returned %d samples, want nil", len(got))
	}
	if s.Status().State != StateEmpty {
		t.Errorf("state = %s, want empty", s.Status().State)
	}
}

func TestConsume_Expired(t *testing.T) {
	sink := &recordingSink{}
	s, clock := newTestStore(t, WithSink(sink))
	s.Append(ramp(500), 500)
	s.Capture(DefaultWindow)
	s.Arm()

	clock.Advance(DefaultMaxAge + time.Millisecond)

	if got := s.Consume(DefaultMaxAge); got != nil {
		t.Fatalf("expired Consume returned %d samples, want nil", len(got))
	}
	if s.Status().State != StateEmpty {
		t.Error("expired capture should be discarded")
	}

	kinds := sink.kinds()
	if kinds[len(kinds)-1] != EventExpired {
		t.Errorf("last event = %s, want %s", kinds[len(kinds)-1], EventExpired)
	}
}

func TestConsume_AtMaxAgeBoundary(t *testing.T) {
	s, clock := newTestStore(t)
	s.Append(ramp(10), 10)
	s.Capture(DefaultWindow)
	s.Arm()

	clock.Advance(DefaultMaxAge)

	if got := s.Consume(DefaultMaxAge); len(got) != 10 {
		t.Fatalf("Consume at exactly maxAge returned %d samples, want 10", len(got))
	}
}

func TestCapture_EmptyBuffer(t *testing.T) {
	s, _ := newTestStore(t)
	info := s.Capture(DefaultWindow)
	if info.Samples != 0 || info.ID != "" {
		t.Fatalf("capture on empty buffer = %+v, want empty", info)
	}
	if s.Arm() {
		t.Fatal("Arm() with no pending capture = true, want false")
	}
	if got := s.Consume(DefaultMaxAge); got != nil {
		t.Fatalf("Consume returned %d samples, want nil", len(got))
	}
}

func TestCapture_NonPositiveWindow(t *testing.T) {
	s, _ := newTestStore(t)
	s.Append(ramp(100), 100)
	if info := s.Capture(0); info.Samples != 0 {
		t.Errorf("Capture(0) samples = %d, want 0", info.Samples)
	}
	if info := s.Capture(-time.Second); info.Samples != 0 {
		t.Errorf("Capture(-1s) samples = %d, want 0", info.Samples)
	}
}

func TestCapture_ReplacesAndDisarms(t *testing.T) {
	s, _ := newTestStore(t)
	s.Append(ramp(100), 100)
	first := s.Capture(DefaultWindow)
	s.Arm()

	s.Append([]int16{7, 7, 7}, 3)
	second := s.Capture(DefaultWindow)
	if first.ID == second.ID {
		t.Fatal("capture IDs should differ")
	}
	if s.Status().State != StateCaptured {
		t.Fatalf("state = %s, want captured", s.Status().State)
	}
	if got := s.Consume(DefaultMaxAge); got != nil {
		t.Fatal("re-capture must disarm the slot")
	}

	s.Arm()
	got := s.Consume(DefaultMaxAge)
	if len(got) != 103 || got[102] != 7 {
		t.Fatalf("Consume returned %d samples, want the latest 103", len(got))
	}
}

func TestCapture_EmptyResultClearsPreviousSlot(t *testing.T) {
	s, _ := newTestStore(t)
	s.Append(ramp(100), 100)
	s.Capture(DefaultWindow)
	s.Arm()

	s.Capture(0)
	if s.Status().State != StateEmpty {
		t.Fatalf("state = %s, want empty", s.Status().State)
	}
	if got := s.Consume(DefaultMaxAge); got != nil {
		t.Fatal("empty capture must discard the previous slot")
	}
}

func TestCapture_WindowShorterThanFilled(t *testing.T) {
	s, _ := newTestStore(t, WithSampleRate(1000), WithCapacity(time.Second))
	s.Append(ramp(900), 900)

	info := s.Capture(200 * time.Millisecond)
	if info.Samples != 200 {
		t.Fatalf("samples = %d, want 200", info.Samples)
	}
	s.Arm()
	got := s.Consume(DefaultMaxAge)
	want := ramp(900)[700:]
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestClear(t *testing.T) {
	sink := &recordingSink{}
	s, _ := newTestStore(t, WithSink(sink))
	s.Append(ramp(100), 100)
	s.Capture(DefaultWindow)
	s.Arm()

	s.Clear()

	st := s.Status()
	if st.State != StateEmpty || st.Filled != 0 {
		t.Fatalf("status after Clear = %+v, want empty", st)
	}
	if s.Arm() {
		t.Error("Arm() after Clear = true, want false")
	}
	if got := s.Consume(DefaultMaxAge); got != nil {
		t.Error("Consume after Clear should return nil")
	}
	if info := s.Capture(DefaultWindow); info.Samples != 0 {
		t.Errorf("Capture after Clear samples = %d, want 0", info.Samples)
	}

	want := []EventKind{EventCaptured, EventArmed, EventCleared, EventCaptured}
	got := sink.kinds()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
}

func TestStatus_PendingAge(t *testing.T) {
	s, clock := newTestStore(t)
	s.Append(ramp(10), 10)
	info := s.Capture(DefaultWindow)
	clock.Advance(3 * time.Second)

	st := s.Status()
	if st.PendingID != info.ID || st.PendingSamples != 10 {
		t.Errorf("status = %+v, want pending %s with 10 samples", st, info.ID)
	}
	if st.PendingAge != 3*time.Second {
		t.Errorf("PendingAge = %v, want 3s", st.PendingAge)
	}
}

// 24000 samples of i%100, default window asks for 25600 and gets all of them.
func TestPrerollScenario(t *testing.T) {
	s, clock := newTestStore(t)
	pcm := ramp(24000)
	s.Append(pcm, len(pcm))

	info := s.Capture(1600 * time.Millisecond)
	if info.Samples != 24000 {
		t.Fatalf("captured %d samples, want 24000", info.Samples)
	}
	if !s.Arm() {
		t.Fatal("Arm() = false, want true")
	}

	clock.Advance(time.Second)
	got := s.Consume(10 * time.Second)
	if len(got) != len(pcm) {
		t.Fatalf("consumed %d samples, want %d", len(got), len(pcm))
	}
	for i := range pcm {
		if got[i] != pcm[i] {
			t.Fatalf("sample %d = %d, want %d", i, got[i], pcm[i])
		}
	}
	if again := s.Consume(10 * time.Second); again != nil {
		t.Fatal("second Consume should return nil")
	}
}

func TestConsumeClip_CarriesCaptureIdentity(t *testing.T) {
	sink := &recordingSink{}
	s, clock := newTestStore(t, WithSink(sink))
	s.Append(ramp(320), 320)

	info := s.Capture(10 * time.Millisecond)
	s.Arm()
	clock.Advance(2 * time.Second)

	clip, ok := s.ConsumeClip(DefaultMaxAge)
	if !ok {
		t.Fatal("ConsumeClip() ok = false, want true")
	}
	if clip.ID != info.ID || !clip.CapturedAt.Equal(info.At) {
		t.Errorf("clip = %s@%v, want %s@%v", clip.ID, clip.CapturedAt, info.ID, info.At)
	}
	if len(clip.Samples) != 160 {
		t.Errorf("len(clip.Samples) = %d, want 160", len(clip.Samples))
	}

	sink.mu.Lock()
	last := sink.events[len(sink.events)-1]
	sink.mu.Unlock()
	if last.Kind != EventConsumed || last.CaptureID != info.ID || last.Samples != 160 {
		t.Errorf("last event = %+v", last)
	}

	if _, ok := s.ConsumeClip(DefaultMaxAge); ok {
		t.Error("second ConsumeClip() ok = true, want false")
	}
}

func TestSinks_SkipsNil(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	sink := Sinks(a, nil, b)
	sink.Handle(Event{Kind: EventCleared})
	if len(a.kinds()) != 1 || len(b.kinds()) != 1 {
		t.Fatal("every non-nil sink should receive the event")
	}
}

func TestStore_Concurrent(t *testing.T) {
	s := New(WithCapacity(100 * time.Millisecond))
	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		chunk := ramp(320)
		for {
			select {
			case <-stop:
				return
			default:
				s.Append(chunk, len(chunk))
			}
		}
	}()

	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				s.Capture(50 * time.Millisecond)
				s.Arm()
				if got := s.Consume(DefaultMaxAge); got != nil && len(got) > 800 {
					t.Errorf("consumed %d samples, window is 800", len(got))
				}
				if j%50 == 0 {
					s.Clear()
				}
			}
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(stop)
	wg.Wait()

	if st := s.Status(); st.Filled > st.Capacity {
		t.Fatalf("Filled = %d exceeds Capacity = %d", st.Filled, st.Capacity)
	}
}
