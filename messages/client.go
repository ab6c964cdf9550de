package messages

import "encoding/base64"

// Client event types sent to the realtime service
const (
	TypeSessionUpdate          = "session.update"
	TypeConversationItemCreate = "conversation.item.create"
	TypeResponseCreate         = "response.create"
	TypeResponseCancel         = "response.cancel"
	TypeInputAudioAppend       = "input_audio_buffer.append"
	TypeInputAudioCommit       = "input_audio_buffer.commit"
)

// Default session parameters
const (
	DefaultVoice            = "alloy"
	AudioFormatPCM16        = "pcm16"
	MaxResponseOutputTokens = 4096
)

// SessionUpdate configures the realtime session once the control channel opens
type SessionUpdate struct {
	Type    string        `json:"type"`
	Session SessionConfig `json:"session"`
}

// SessionConfig is the session.update payload
type SessionConfig struct {
	Modalities              []string       `json:"modalities"`
	Instructions            string         `json:"instructions"`
	Voice                   string         `json:"voice"`
	InputAudioFormat        string         `json:"input_audio_format"`
	OutputAudioFormat       string         `json:"output_audio_format"`
	InputAudioTranscription *Transcription `json:"input_audio_transcription"` // null disables transcription
	TurnDetection           TurnDetection  `json:"turn_detection"`
	Tools                   []any          `json:"tools"`
	ToolChoice              string         `json:"tool_choice"`
	MaxResponseOutputTokens int            `json:"max_response_output_tokens"`
}

// Transcription enables input audio transcription
type Transcription struct {
	Model string `json:"model"`
}

// TurnDetection is the server-side voice activity detection config
type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMS   int     `json:"prefix_padding_ms"`
	SilenceDurationMS int     `json:"silence_duration_ms"`
}

// ConversationItemCreate adds a message to the remote conversation
type ConversationItemCreate struct {
	Type string `json:"type"`
	Item Item   `json:"item"`
}

// Item is a conversation message
type Item struct {
	Type    string        `json:"type"`
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

// ContentPart holds input text
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ResponseCreate asks the service to produce a response
type ResponseCreate struct {
	Type     string           `json:"type"`
	Response *ResponseOptions `json:"response,omitempty"`
}

// ResponseOptions narrows a single response
type ResponseOptions struct {
	Modalities   []string `json:"modalities,omitempty"`
	Instructions string   `json:"instructions,omitempty"`
}

// ResponseCancel stops an in-flight response
type ResponseCancel struct {
	Type string `json:"type"`
}

// NewSessionUpdate creates the session configuration event with server VAD
func NewSessionUpdate(instructions, voice string, modalities []string) *SessionUpdate {
	if voice == "" {
		voice = DefaultVoice
	}
	if len(modalities) == 0 {
		modalities = []string{"text", "audio"}
	}
	return &SessionUpdate{
		Type: TypeSessionUpdate,
		Session: SessionConfig{
			Modalities:        modalities,
			Instructions:      instructions,
			Voice:             voice,
			InputAudioFormat:  AudioFormatPCM16,
			OutputAudioFormat: AudioFormatPCM16,
			TurnDetection: TurnDetection{
				Type:              "server_vad",
				Threshold:         0.5,
				PrefixPaddingMS:   300,
				SilenceDurationMS: 500,
			},
			Tools:                   []any{},
			ToolChoice:              "auto",
			MaxResponseOutputTokens: MaxResponseOutputTokens,
		},
	}
}

func newTextItem(role, text string) *ConversationItemCreate {
	return &ConversationItemCreate{
		Type: TypeConversationItemCreate,
		Item: Item{
			Type:    "message",
			Role:    role,
			Content: []ContentPart{{Type: "input_text", Text: text}},
		},
	}
}

// NewUserText creates a user message item
func NewUserText(text string) *ConversationItemCreate {
	return newTextItem("user", text)
}

// NewSystemText creates a system message item, used to preload context
func NewSystemText(text string) *ConversationItemCreate {
	return newTextItem("system", text)
}

// NewResponseCreate creates a response request; empty instructions send a bare request
func NewResponseCreate(instructions string, modalities ...string) *ResponseCreate {
	if instructions == "" && len(modalities) == 0 {
		return &ResponseCreate{Type: TypeResponseCreate}
	}
	if len(modalities) == 0 {
		modalities = []string{"text", "audio"}
	}
	return &ResponseCreate{
		Type: TypeResponseCreate,
		Response: &ResponseOptions{
			Modalities:   modalities,
			Instructions: instructions,
		},
	}
}

// NewResponseCancel creates a response cancel event
func NewResponseCancel() *ResponseCancel {
	return &ResponseCancel{Type: TypeResponseCancel}
}

// InputAudioAppend streams base64 PCM16 into the input buffer
type InputAudioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

// NewInputAudioAppend encodes one chunk of PCM16 audio
func NewInputAudioAppend(pcm []byte) *InputAudioAppend {
	return &InputAudioAppend{Type: TypeInputAudioAppend, Audio: base64.StdEncoding.EncodeToString(pcm)}
}

// InputAudioCommit closes the input buffer as one user turn
type InputAudioCommit struct {
	Type string `json:"type"`
}

// NewInputAudioCommit creates a commit event
func NewInputAudioCommit() *InputAudioCommit {
	return &InputAudioCommit{Type: TypeInputAudioCommit}
}
