package realtime

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

// ErrMissingType is returned for messages without a "type" field
var ErrMissingType = errors.New("realtime event has no type")

const defaultErrorMessage = "Unknown error occurred"

// Kind classifies a decoded event
type Kind int

const (
	KindUnknown Kind = iota
	KindSessionCreated
	KindTranscriptionCompleted
	KindAudioDelta
	KindTextDelta
	KindError
	KindAudioDone
	KindResponseCompleted
)

func (k Kind) String() string {
	switch k {
	case KindSessionCreated:
		return "session_created"
	case KindTranscriptionCompleted:
		return "transcription_completed"
	case KindAudioDelta:
		return "audio_delta"
	case KindTextDelta:
		return "text_delta"
	case KindError:
		return "error"
	case KindAudioDone:
		return "audio_done"
	case KindResponseCompleted:
		return "response_completed"
	default:
		return "unknown"
	}
}

// eventAliases maps wire event names onto kinds. The service has renamed several events
// across API revisions; both spellings are accepted.
var eventAliases = map[string]Kind{
	"session.created": KindSessionCreated,
	"conversation.item.input_audio_transcription.completed": KindTranscriptionCompleted,
	"response.audio.delta":        KindAudioDelta,
	"response.output_audio.delta": KindAudioDelta,
	"response.text.delta":         KindTextDelta,
	"response.output_text.delta":  KindTextDelta,
	"error":                       KindError,
	"response.audio.done":         KindAudioDone,
	"response.output_audio.done":  KindAudioDone,
	"response.completed":          KindResponseCompleted,
}

// KindOf returns the kind for a wire event name
func KindOf(eventType string) Kind {
	return eventAliases[eventType]
}

// Event is a decoded server event
type Event interface {
	Kind() Kind
}

// SessionCreated carries the remote session identifier
type SessionCreated struct {
	ID string
}

// TranscriptionCompleted carries the transcript of user speech
type TranscriptionCompleted struct {
	Text string
}

// AudioDelta carries a base64-encoded PCM16 chunk
type AudioDelta struct {
	Payload string
}

// TextDelta carries an incremental piece of assistant text
type TextDelta struct {
	Text string
}

// Error carries a service-reported error
type Error struct {
	Message string
}

// AudioDone marks the end of an audio stream
type AudioDone struct{}

// ResponseCompleted marks the end of a response
type ResponseCompleted struct{}

// Unknown is any event without a handler
type Unknown struct {
	Type string
	Raw  []byte
}

func (SessionCreated) Kind() Kind         { return KindSessionCreated }
func (TranscriptionCompleted) Kind() Kind { return KindTranscriptionCompleted }
func (AudioDelta) Kind() Kind             { return KindAudioDelta }
func (TextDelta) Kind() Kind              { return KindTextDelta }
func (Error) Kind() Kind                  { return KindError }
func (AudioDone) Kind() Kind              { return KindAudioDone }
func (ResponseCompleted) Kind() Kind      { return KindResponseCompleted }
func (Unknown) Kind() Kind                { return KindUnknown }

type envelope struct {
	Type string `json:"type"`
}

type sessionCreatedPayload struct {
	Session struct {
		ID string `json:"id"`
	} `json:"session"`
}

type transcriptionPayload struct {
	Transcript string `json:"transcript"`
}

type audioDeltaPayload struct {
	Delta string `json:"delta"`
	Audio string `json:"audio"`
	Data  string `json:"data"`
}

type textDeltaPayload struct {
	Delta string `json:"delta"`
	Text  string `json:"text"`
	Data  string `json:"data"`
}

type errorPayload struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Decode parses one server message. Unrecognized types decode to Unknown.
func Decode(data []byte) (Event, error) {
	var env envelope
	if err := sonic.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to parse event: %w", err)
	}
	if env.Type == "" {
		return nil, ErrMissingType
	}

	switch KindOf(env.Type) {
	case KindSessionCreated:
		var p sessionCreatedPayload
		if err := sonic.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", env.Type, err)
		}
		return SessionCreated{ID: p.Session.ID}, nil

	case KindTranscriptionCompleted:
		var p transcriptionPayload
		if err := sonic.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", env.Type, err)
		}
		return TranscriptionCompleted{Text: p.Transcript}, nil

	case KindAudioDelta:
		var p audioDeltaPayload
		if err := sonic.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", env.Type, err)
		}
		return AudioDelta{Payload: firstNonEmpty(p.Delta, p.Audio, p.Data)}, nil

	case KindTextDelta:
		var p textDeltaPayload
		if err := sonic.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", env.Type, err)
		}
		return TextDelta{Text: firstNonEmpty(p.Delta, p.Text, p.Data)}, nil

	case KindError:
		var p errorPayload
		if err := sonic.Unmarshal(data, &p); err != nil || p.Error.Message == "" {
			return Error{Message: defaultErrorMessage}, nil
		}
		return Error{Message: p.Error.Message}, nil

	case KindAudioDone:
		return AudioDone{}, nil

	case KindResponseCompleted:
		return ResponseCompleted{}, nil

	default:
		return Unknown{Type: env.Type, Raw: data}, nil
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
