package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"
)

// DefaultSampleRate is the realtime service's PCM16 output rate
const DefaultSampleRate = 24000

// Lead is the scheduling margin ahead of the output clock
const Lead = 20 * time.Millisecond

// ErrClosed is returned after Close
var ErrClosed = errors.New("audio scheduler closed")

// Output is a playback device with its own clock. Samples are mono float32 in [-1, 1].
type Output interface {
	Now() time.Duration
	Play(at time.Duration, samples []float32) error
	Close() error
}

// OutputFactory opens a fresh output at the given sample rate
type OutputFactory func(sampleRate int) (Output, error)

// Slot is the scheduled playback window of one chunk, on the output's clock
type Slot struct {
	Start time.Duration
	End   time.Duration
}

// Scheduler plays PCM16 chunks back to back in arrival order
type Scheduler struct {
	mu         sync.Mutex
	sampleRate int
	factory    OutputFactory
	out        Output
	nextStart  time.Duration
	closed     bool
}

// NewScheduler opens an output and starts an empty schedule
func NewScheduler(sampleRate int, factory OutputFactory) (*Scheduler, error) {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	out, err := factory(sampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio output: %w", err)
	}
	return &Scheduler{
		sampleRate: sampleRate,
		factory:    factory,
		out:        out,
	}, nil
}

// SampleRate returns the configured rate
func (s *Scheduler) SampleRate() int {
	return s.sampleRate
}

// Schedule converts one chunk and queues it right after the previous one.
// A trailing odd byte is dropped.
func (s *Scheduler) Schedule(pcm []byte) (Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Slot{}, ErrClosed
	}

	samples := Normalize(pcm)
	start := s.out.Now() + Lead
	if s.nextStart > start {
		start = s.nextStart
	}
	if len(samples) == 0 {
		return Slot{Start: start, End: start}, nil
	}

	duration := time.Duration(len(samples)) * time.Second / time.Duration(s.sampleRate)
	if err := s.out.Play(start, samples); err != nil {
		return Slot{}, fmt.Errorf("failed to schedule chunk: %w", err)
	}
	s.nextStart = start + duration

	return Slot{Start: start, End: s.nextStart}, nil
}

// Enqueue schedules a chunk, discarding the slot
func (s *Scheduler) Enqueue(pcm []byte) error {
	_, err := s.Schedule(pcm)
	return err
}

// Reset drops the current output and schedule so the next chunk starts promptly
func (s *Scheduler) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	_ = s.out.Close()
	out, err := s.factory(s.sampleRate)
	if err != nil {
		s.closed = true
		return fmt.Errorf("failed to reopen audio output: %w", err)
	}
	s.out = out
	s.nextStart = 0
	return nil
}

// Close releases the output
func (s *Scheduler) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.out.Close()
}

// Normalize decodes little-endian int16 samples into [-1, 1)
func Normalize(pcm []byte) []float32 {
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		samples[i] = float32(v) / 32768
	}
	return samples
}
