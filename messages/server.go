package messages

import "github.com/gorilla/websocket"

// Close codes sent to relay clients
const (
	CloseMissingKey     = websocket.ClosePolicyViolation   // 1008
	CloseUpstreamError  = websocket.CloseInternalServerErr // 1011
	CloseBackpressure   = websocket.CloseTryAgainLater     // 1013
	CloseSessionLimit   = websocket.CloseTryAgainLater
	CloseNormal         = websocket.CloseNormalClosure
	maxCloseReasonBytes = 123
)

// Close reasons sent to relay clients
const (
	ReasonMissingKey       = "OPENAI_REALTIME_API_KEY missing"
	ReasonUpstreamError    = "upstream error"
	ReasonHandshakeTimeout = "upstream handshake timed out"
	ReasonBackpressure     = "pending buffer full"
	ReasonSessionLimit     = "maximum sessions reached"
)

// Error messages returned by the HTTP endpoints
const (
	ErrMsgMissingKey         = "OPENAI_API_KEY missing"
	ErrMsgMissingRealtimeKey = "OPENAI_REALTIME_API_KEY missing"
	ErrMsgMissingGeminiKey   = "GEMINI_API_KEY missing"
	ErrMsgMissingText        = "Missing text"
	ErrMsgMissingFile        = "Missing audio file"
	ErrMsgMissingInput       = "Missing input"
	ErrMsgTranscribeDisabled = "Transcription not enabled"
	ErrMsgChatProxy          = "OpenAI chat proxy error"
	ErrMsgTTSProxy           = "TTS proxy error"
	ErrMsgTranscribeProxy    = "Transcription proxy error"
	ErrMsgClientSecret       = "Failed to create client secret"
	ErrMsgAgent              = "Agent error"
)

// ErrorResponse is the JSON envelope for HTTP errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// NewErrorResponse creates an error envelope
func NewErrorResponse(message string) *ErrorResponse {
	return &ErrorResponse{Error: message}
}

// CloseMessage formats a websocket close frame payload, trimming the reason to the frame limit
func CloseMessage(code int, reason string) []byte {
	if len(reason) > maxCloseReasonBytes {
		reason = reason[:maxCloseReasonBytes]
	}
	return websocket.FormatCloseMessage(code, reason)
}
