package peer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// FrameDuration is the length of one Opus frame written to the track
const FrameDuration = 20 * time.Millisecond

// Microphone supplies the local audio track attached during negotiation
type Microphone interface {
	Open(ctx context.Context) (webrtc.TrackLocal, error)
	Close() error
}

// SampleMicrophone writes pre-encoded Opus frames to a local track.
// With a nil frame source the track stays silent.
type SampleMicrophone struct {
	frames <-chan []byte

	mu     sync.Mutex
	track  *webrtc.TrackLocalStaticSample
	cancel context.CancelFunc
}

// NewSampleMicrophone creates a microphone fed from frames
func NewSampleMicrophone(frames <-chan []byte) *SampleMicrophone {
	return &SampleMicrophone{frames: frames}
}

// Open creates the track and starts forwarding frames until Close
func (m *SampleMicrophone) Open(_ context.Context) (webrtc.TrackLocal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.track != nil {
		return m.track, nil
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"microphone", "voicebank")
	if err != nil {
		return nil, fmt.Errorf("failed to create audio track: %w", err)
	}
	m.track = track

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	if m.frames != nil {
		go m.forward(ctx, track)
	}
	return track, nil
}

func (m *SampleMicrophone) forward(ctx context.Context, track *webrtc.TrackLocalStaticSample) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-m.frames:
			if !ok {
				return
			}
			if err := track.WriteSample(media.Sample{Data: frame, Duration: FrameDuration}); err != nil {
				return
			}
		}
	}
}

// Close stops forwarding. The microphone can be opened again afterwards.
func (m *SampleMicrophone) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.track = nil
	return nil
}
