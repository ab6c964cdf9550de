package realtime

import (
	"encoding/base64"
	"errors"
	"testing"

	"go.uber.org/zap"
)

type recordingSinks struct {
	messages []string
	audio    [][]byte
	errs     []string
}

func (r *recordingSinks) sinks() Sinks {
	return Sinks{
		OnMessage: func(text string) { r.messages = append(r.messages, text) },
		OnAudio:   func(pcm []byte) { r.audio = append(r.audio, pcm) },
		OnError:   func(message string) { r.errs = append(r.errs, message) },
	}
}

func (r *recordingSinks) calls() int {
	return len(r.messages) + len(r.audio) + len(r.errs)
}

type fakePlayer struct {
	chunks [][]byte
	resets int
	err    error
}

func (p *fakePlayer) Enqueue(pcm []byte) error {
	if p.err != nil {
		return p.err
	}
	p.chunks = append(p.chunks, pcm)
	return nil
}

func (p *fakePlayer) Reset() error {
	p.resets++
	return nil
}

func TestInterpreterTextDeltaBothNames(t *testing.T) {
	rec := &recordingSinks{}
	in := NewInterpreter(rec.sinks(), nil, zap.NewNop())

	in.Handle([]byte(`{"type":"response.text.delta","delta":"Hel"}`))
	in.Handle([]byte(`{"type":"response.output_text.delta","delta":"lo"}`))

	if len(rec.messages) != 2 || rec.messages[0] != "Hel" || rec.messages[1] != "lo" {
		t.Errorf("messages = %v", rec.messages)
	}
}

func TestInterpreterAudioToPlayer(t *testing.T) {
	rec := &recordingSinks{}
	player := &fakePlayer{}
	in := NewInterpreter(rec.sinks(), player, zap.NewNop())

	pcm := []byte{0x00, 0x40, 0x00, 0xC0}
	payload := base64.StdEncoding.EncodeToString(pcm)
	in.Handle([]byte(`{"type":"response.audio.delta","delta":"` + payload + `"}`))
	in.Handle([]byte(`{"type":"response.output_audio.delta","delta":"` + payload + `"}`))

	if len(player.chunks) != 2 {
		t.Fatalf("player chunks = %d, want 2", len(player.chunks))
	}
	if string(player.chunks[0]) != string(pcm) {
		t.Errorf("chunk = %v, want %v", player.chunks[0], pcm)
	}
	if len(rec.audio) != 0 {
		t.Errorf("audio sink called %d times with player attached", len(rec.audio))
	}
}

func TestInterpreterAudioWithoutPlayer(t *testing.T) {
	rec := &recordingSinks{}
	in := NewInterpreter(rec.sinks(), nil, zap.NewNop())

	in.Handle([]byte(`{"type":"response.audio.delta","delta":"AAE="}`))

	if len(rec.audio) != 1 || len(rec.audio[0]) != 2 {
		t.Errorf("audio sink = %v", rec.audio)
	}
}

func TestInterpreterAudioFallbackOnEnqueueError(t *testing.T) {
	rec := &recordingSinks{}
	in := NewInterpreter(rec.sinks(), &fakePlayer{err: errors.New("closed")}, zap.NewNop())

	in.Handle([]byte(`{"type":"response.audio.delta","delta":"AAE="}`))

	if len(rec.audio) != 1 {
		t.Errorf("audio sink calls = %d, want 1", len(rec.audio))
	}
}

func TestInterpreterResponseCompletedResetsPlayer(t *testing.T) {
	player := &fakePlayer{}
	in := NewInterpreter(Sinks{}, player, zap.NewNop())

	in.Handle([]byte(`{"type":"response.completed"}`))

	if player.resets != 1 {
		t.Errorf("resets = %d, want 1", player.resets)
	}
}

func TestInterpreterUnknownAndMalformedCallNoSinks(t *testing.T) {
	rec := &recordingSinks{}
	player := &fakePlayer{}
	in := NewInterpreter(rec.sinks(), player, zap.NewNop())

	for _, msg := range []string{
		`{"type":"rate_limits.updated"}`,
		`{"type":"response.function_call_arguments.delta","delta":"{}"}`,
		`{"type":"response.audio.done"}`,
		`{"type":"session.created","session":{"id":"sess_9"}}`,
		`garbage`,
		`{"type":"response.audio.delta","delta":"!!not-base64!!"}`,
		``,
	} {
		in.Handle([]byte(msg))
	}

	if rec.calls() != 0 {
		t.Errorf("sinks called %d times, want 0", rec.calls())
	}
	if len(player.chunks) != 0 || player.resets != 0 {
		t.Errorf("player touched: %d chunks, %d resets", len(player.chunks), player.resets)
	}
	if in.SessionID() != "sess_9" {
		t.Errorf("SessionID() = %q", in.SessionID())
	}
}

func TestInterpreterErrorAndTranscript(t *testing.T) {
	rec := &recordingSinks{}
	in := NewInterpreter(rec.sinks(), nil, zap.NewNop())

	in.Handle([]byte(`{"type":"error","error":{"message":"bad request"}}`))
	in.Handle([]byte(`{"type":"conversation.item.input_audio_transcription.completed","transcript":"what is my balance"}`))

	if len(rec.errs) != 1 || rec.errs[0] != "bad request" {
		t.Errorf("errors = %v", rec.errs)
	}
	if len(rec.messages) != 1 || rec.messages[0] != "what is my balance" {
		t.Errorf("messages = %v", rec.messages)
	}
}
