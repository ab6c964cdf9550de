package peer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// ControlChannelLabel is the data channel the provider reads events from
const ControlChannelLabel = "oai-events"

// Link is one peer connection with a single control channel
type Link interface {
	AddTrack(track webrtc.TrackLocal) error
	// CreateOffer returns the local SDP once ICE gathering is complete
	CreateOffer(ctx context.Context) (string, error)
	SetAnswer(sdp string) error
	OnOpen(fn func())
	OnMessage(fn func(data []byte))
	// OnAudio receives remote speech as PCM16 mono at RemoteSampleRate
	OnAudio(fn func(pcm []byte))
	Send(data []byte) error
	CloseChannel() error
	Close() error
}

// LinkFactory creates a fresh link for each negotiation
type LinkFactory func() (Link, error)

var errChannelNotOpen = errors.New("control channel not open")

// PionLink is a Link over a pion peer connection
type PionLink struct {
	pc     *webrtc.PeerConnection
	dc     *webrtc.DataChannel
	logger *zap.Logger

	mu        sync.Mutex
	onOpen    func()
	onMessage func([]byte)
	onAudio   func([]byte)
}

// NewPionLinkFactory returns a factory using the given ICE servers
func NewPionLinkFactory(iceServers []string, logger *zap.Logger) LinkFactory {
	return func() (Link, error) {
		return NewPionLink(iceServers, logger)
	}
}

// NewPionLink creates a peer connection and its control channel
func NewPionLink(iceServers []string, logger *zap.Logger) (*PionLink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(m))

	rtcConfig := webrtc.Configuration{}
	for _, url := range iceServers {
		rtcConfig.ICEServers = append(rtcConfig.ICEServers, webrtc.ICEServer{URLs: []string{url}})
	}

	pc, err := api.NewPeerConnection(rtcConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	dc, err := pc.CreateDataChannel(ControlChannelLabel, nil)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("failed to create control channel: %w", err)
	}

	l := &PionLink{pc: pc, dc: dc, logger: logger}

	dc.OnOpen(func() {
		l.mu.Lock()
		fn := l.onOpen
		l.mu.Unlock()
		if fn != nil {
			fn()
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		l.mu.Lock()
		fn := l.onMessage
		l.mu.Unlock()
		if fn != nil {
			fn(msg.Data)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Debug("Peer connection state", zap.String("state", state.String()))
	})

	// Remote speech arrives as Opus RTP on the media track
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		logger.Info("Remote track received",
			zap.String("codec", track.Codec().MimeType),
			zap.String("kind", track.Kind().String()))
		if !strings.EqualFold(track.Codec().MimeType, webrtc.MimeTypeOpus) {
			go drain(track)
			return
		}
		go l.playRemote(track)
	})

	return l, nil
}

func (l *PionLink) playRemote(track *webrtc.TrackRemote) {
	dec, err := NewOpusDecoder()
	if err != nil {
		l.logger.Error("Failed to create Opus decoder", zap.Error(err))
		drain(track)
		return
	}
	if err := decodeRemote(trackSource{track: track}, dec, l.deliverAudio, l.logger); err != nil {
		l.logger.Debug("Remote track ended", zap.Error(err))
	}
}

func (l *PionLink) deliverAudio(pcm []byte) {
	l.mu.Lock()
	fn := l.onAudio
	l.mu.Unlock()
	if fn != nil {
		fn(pcm)
	}
}

// drain keeps a track the link cannot decode flowing
func drain(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			return
		}
	}
}

func (l *PionLink) AddTrack(track webrtc.TrackLocal) error {
	_, err := l.pc.AddTrack(track)
	return err
}

func (l *PionLink) CreateOffer(ctx context.Context) (string, error) {
	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create offer: %w", err)
	}

	gathered := webrtc.GatheringCompletePromise(l.pc)
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("failed to set local description: %w", err)
	}

	select {
	case <-gathered:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	return l.pc.LocalDescription().SDP, nil
}

func (l *PionLink) SetAnswer(sdp string) error {
	return l.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	})
}

func (l *PionLink) OnOpen(fn func()) {
	l.mu.Lock()
	l.onOpen = fn
	l.mu.Unlock()
}

func (l *PionLink) OnMessage(fn func(data []byte)) {
	l.mu.Lock()
	l.onMessage = fn
	l.mu.Unlock()
}

func (l *PionLink) OnAudio(fn func(pcm []byte)) {
	l.mu.Lock()
	l.onAudio = fn
	l.mu.Unlock()
}

func (l *PionLink) Send(data []byte) error {
	if l.dc.ReadyState() != webrtc.DataChannelStateOpen {
		return errChannelNotOpen
	}
	return l.dc.SendText(string(data))
}

func (l *PionLink) CloseChannel() error {
	return l.dc.Close()
}

func (l *PionLink) Close() error {
	return l.pc.Close()
}
