package realtime

import (
	"encoding/base64"
	"sync"

	"go.uber.org/zap"
)

// Player accepts decoded PCM16 audio for scheduled playback
type Player interface {
	Enqueue(pcm []byte) error
	Reset() error
}

// Sinks receive interpreted events. Nil sinks are skipped.
type Sinks struct {
	OnMessage          func(text string)
	OnAudio            func(pcm []byte)
	OnError            func(message string)
	OnConnectionChange func(connected bool)
}

// Interpreter turns raw server messages into sink calls and playback
type Interpreter struct {
	sinks  Sinks
	logger *zap.Logger

	mu        sync.Mutex
	player    Player
	sessionID string
}

// NewInterpreter creates an interpreter. player may be nil.
func NewInterpreter(sinks Sinks, player Player, logger *zap.Logger) *Interpreter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Interpreter{
		sinks:  sinks,
		player: player,
		logger: logger,
	}
}

// SetPlayer attaches or detaches the playback scheduler
func (in *Interpreter) SetPlayer(p Player) {
	in.mu.Lock()
	in.player = p
	in.mu.Unlock()
}

// SessionID returns the id from the last session.created event
func (in *Interpreter) SessionID() string {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.sessionID
}

// Handle decodes and dispatches one message. Malformed messages are logged and dropped.
func (in *Interpreter) Handle(data []byte) {
	ev, err := Decode(data)
	if err != nil {
		in.logger.Warn("Discarding realtime message", zap.Error(err), zap.Int("bytes", len(data)))
		return
	}
	in.Dispatch(ev)
}

// Dispatch routes a decoded event to the sinks
func (in *Interpreter) Dispatch(ev Event) {
	switch e := ev.(type) {
	case SessionCreated:
		in.mu.Lock()
		in.sessionID = e.ID
		in.mu.Unlock()
		in.logger.Info("Realtime session created", zap.String("session_id", e.ID))

	case TranscriptionCompleted:
		if e.Text != "" && in.sinks.OnMessage != nil {
			in.sinks.OnMessage(e.Text)
		}

	case AudioDelta:
		in.handleAudio(e.Payload)

	case TextDelta:
		if e.Text != "" && in.sinks.OnMessage != nil {
			in.sinks.OnMessage(e.Text)
		}

	case Error:
		in.logger.Warn("Realtime error event", zap.String("message", e.Message))
		if in.sinks.OnError != nil {
			in.sinks.OnError(e.Message)
		}

	case AudioDone:
		in.logger.Debug("Audio stream done")

	case ResponseCompleted:
		in.mu.Lock()
		player := in.player
		in.mu.Unlock()
		if player != nil {
			if err := player.Reset(); err != nil {
				in.logger.Warn("Failed to reset player", zap.Error(err))
			}
		}

	case Unknown:
		in.logger.Debug("Unhandled realtime event", zap.String("type", e.Type))
	}
}

func (in *Interpreter) handleAudio(payload string) {
	if payload == "" {
		return
	}
	pcm, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		in.logger.Warn("Discarding audio delta", zap.Error(err))
		return
	}

	in.mu.Lock()
	player := in.player
	in.mu.Unlock()

	if player != nil {
		err := player.Enqueue(pcm)
		if err == nil {
			return
		}
		in.logger.Warn("Playback enqueue failed, falling back to audio sink", zap.Error(err))
	}
	if in.sinks.OnAudio != nil {
		in.sinks.OnAudio(pcm)
	}
}
