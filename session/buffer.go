package session

import (
	"errors"
	"sync"
)

// ErrBackpressureExceeded is returned when the pending queue exceeds its maximum size
var ErrBackpressureExceeded = errors.New("pending frame queue full")

// Frame is one websocket message, type preserved
type Frame struct {
	Type int
	Data []byte
}

// FrameQueue holds client frames until the upstream connection is ready
type FrameQueue struct {
	frames    []Frame
	totalSize int
	maxSize   int
	mu        sync.Mutex
}

// NewFrameQueue creates a queue capped at maxSize payload bytes; maxSize <= 0 means no cap
func NewFrameQueue(maxSize int) *FrameQueue {
	return &FrameQueue{
		frames:  make([]Frame, 0),
		maxSize: maxSize,
	}
}

// MaxSize returns the byte cap
func (q *FrameQueue) MaxSize() int {
	return q.maxSize
}

// Append adds a frame to the tail.
// Returns ErrBackpressureExceeded if adding the frame would exceed maxSize
func (q *FrameQueue) Append(f Frame) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	newSize := q.totalSize + len(f.Data)
	if q.maxSize > 0 && newSize > q.maxSize {
		return ErrBackpressureExceeded
	}

	q.frames = append(q.frames, f)
	q.totalSize = newSize
	return nil
}

// Drain returns all frames in arrival order and empties the queue
func (q *FrameQueue) Drain() []Frame {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.frames) == 0 {
		return nil
	}

	frames := q.frames
	q.frames = make([]Frame, 0)
	q.totalSize = 0
	return frames
}

// Clear empties the queue without returning frames
func (q *FrameQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.frames = make([]Frame, 0)
	q.totalSize = 0
}

// Size returns the queued payload bytes
func (q *FrameQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.totalSize
}

// Len returns the number of queued frames
func (q *FrameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

// IsEmpty returns true if no frames are queued
func (q *FrameQueue) IsEmpty() bool {
	return q.Len() == 0
}
