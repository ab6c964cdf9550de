package peer

import (
	"encoding/binary"
	"errors"
	"io"
	"math"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
	"gopkg.in/hraban/opus.v2"
)

// RemoteSampleRate is the rate remote speech is decoded at. It matches the
// PCM16 rate of the playback path, so decoded frames feed the same player.
const RemoteSampleRate = 24000

// maxFrameSamples covers the longest Opus frame (120ms)
const maxFrameSamples = RemoteSampleRate * 120 / 1000

// OpusDecoder decodes one Opus packet into mono float samples
type OpusDecoder interface {
	DecodeFloat32(data []byte, pcm []float32) (int, error)
}

// PayloadSource yields the payloads of successive RTP packets
type PayloadSource interface {
	NextPayload() ([]byte, error)
}

// NewOpusDecoder decodes to mono at RemoteSampleRate; stereo streams are downmixed by the codec
func NewOpusDecoder() (OpusDecoder, error) {
	dec, err := opus.NewDecoder(RemoteSampleRate, 1)
	if err != nil {
		return nil, err
	}
	return dec, nil
}

type trackSource struct {
	track *webrtc.TrackRemote
}

func (s trackSource) NextPayload() ([]byte, error) {
	pkt, _, err := s.track.ReadRTP()
	if err != nil {
		return nil, err
	}
	return pkt.Payload, nil
}

// decodeRemote decodes packets until the source ends and hands each frame to
// deliver as little-endian PCM16. Empty and undecodable packets are skipped.
func decodeRemote(src PayloadSource, dec OpusDecoder, deliver func(pcm []byte), logger *zap.Logger) error {
	buf := make([]float32, maxFrameSamples)
	frames := 0
	for {
		payload, err := src.NextPayload()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if len(payload) == 0 {
			continue
		}

		n, err := dec.DecodeFloat32(payload, buf)
		if err != nil {
			logger.Debug("Opus decode error", zap.Error(err), zap.Int("bytes", len(payload)))
			continue
		}
		if n <= 0 {
			continue
		}

		frames++
		if frames == 1 {
			logger.Debug("Remote speech started", zap.Int("samples", n))
		}
		deliver(encodePCM16(buf[:n]))
	}
}

// encodePCM16 clamps to [-1, 1]; the decoder overshoots on transients
func encodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, v := range samples {
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v*math.MaxInt16)))
	}
	return out
}
