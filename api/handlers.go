package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/room4-2/voicebank/config"
	"github.com/room4-2/voicebank/credential"
	"github.com/room4-2/voicebank/messages"
	"github.com/room4-2/voicebank/mockdata"
)

const (
	maxRequestBytes    = 10 << 20
	maxUploadBytes     = 25 << 20
	defaultTTSVoice    = "alloy"
	defaultTTSModel    = "tts-1"
	defaultTTSFormat   = "mp3"
	transcribeModel    = "whisper-1"
	defaultUploadName  = "audio.webm"
	defaultUploadType  = "audio/webm"
	upstreamTimeout    = 60 * time.Second
	chatCompletionPath = "/v1/chat/completions"
	speechPath         = "/v1/audio/speech"
	transcriptionPath  = "/v1/audio/transcriptions"
)

// Agent answers free-form banking questions
type Agent interface {
	Answer(ctx context.Context, input string) (string, error)
}

// Handlers proxies the browser's HTTP calls to the model providers
type Handlers struct {
	config     *config.Config
	httpClient *http.Client
	minter     *credential.Minter
	agent      Agent
	logger     *zap.Logger
}

// NewHandlers creates the API handlers. agent may be nil when no Gemini key is configured.
func NewHandlers(cfg *config.Config, httpClient *http.Client, minter *credential.Minter, agent Agent, logger *zap.Logger) *Handlers {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: upstreamTimeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		config:     cfg,
		httpClient: httpClient,
		minter:     minter,
		agent:      agent,
		logger:     logger,
	}
}

// Routes returns the API router, meant to be mounted at the server root
func (h *Handlers) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/api", func(r chi.Router) {
		r.Post("/openai-chat", h.handleChat)
		r.Post("/tts", h.handleTTS)
		r.Post("/transcribe", h.handleTranscribe)
		r.Post("/realtime/client_secret", h.handleClientSecret)
		r.Post("/agent", h.handleAgent)
	})
	r.Get("/mock/accounts.json", h.handleMockAccounts)

	return r
}

type chatRequest struct {
	Model    string `json:"model,omitempty"`
	Messages []any  `json:"messages"`
}

func (h *Handlers) handleChat(w http.ResponseWriter, r *http.Request) {
	if h.config.OpenAIAPIKey == "" {
		writeError(w, http.StatusInternalServerError, messages.ErrMsgMissingKey)
		return
	}

	var req chatRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Model == "" {
		req.Model = h.config.ChatModel
	}
	if req.Messages == nil {
		req.Messages = []any{}
	}

	payload, err := sonic.Marshal(req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, messages.ErrMsgChatProxy)
		return
	}

	resp, err := h.post(r.Context(), chatCompletionPath, "application/json", bytes.NewReader(payload))
	if err != nil {
		h.logger.Warn("Chat proxy failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, messages.ErrMsgChatProxy)
		return
	}
	defer resp.Body.Close()

	relay(w, resp, "application/json")
}

type ttsRequest struct {
	Text   string `json:"text"`
	Voice  string `json:"voice,omitempty"`
	Model  string `json:"model,omitempty"`
	Format string `json:"format,omitempty"`
}

type speechPayload struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format"`
}

func (h *Handlers) handleTTS(w http.ResponseWriter, r *http.Request) {
	if h.config.OpenAIAPIKey == "" {
		writeError(w, http.StatusInternalServerError, messages.ErrMsgMissingKey)
		return
	}

	var req ttsRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, messages.ErrMsgMissingText)
		return
	}

	payload, err := sonic.Marshal(speechPayload{
		Model:          orDefault(req.Model, defaultTTSModel),
		Input:          req.Text,
		Voice:          orDefault(req.Voice, defaultTTSVoice),
		ResponseFormat: orDefault(req.Format, defaultTTSFormat),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, messages.ErrMsgTTSProxy)
		return
	}

	resp, err := h.post(r.Context(), speechPath, "application/json", bytes.NewReader(payload))
	if err != nil {
		h.logger.Warn("TTS proxy failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, messages.ErrMsgTTSProxy)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		relay(w, resp, "text/plain; charset=utf-8")
		return
	}

	w.Header().Set("Content-Type", "audio/"+orDefault(req.Format, defaultTTSFormat))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, resp.Body); err != nil {
		h.logger.Debug("TTS stream interrupted", zap.Error(err))
	}
}

func (h *Handlers) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if !h.config.TranscribeEnabled {
		writeError(w, http.StatusNotImplemented, messages.ErrMsgTranscribeDisabled)
		return
	}
	if h.config.OpenAIAPIKey == "" {
		writeError(w, http.StatusInternalServerError, messages.ErrMsgMissingKey)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, messages.ErrMsgMissingFile)
		return
	}
	defer file.Close()

	body, contentType, err := transcriptionForm(file, header.Filename, header.Header.Get("Content-Type"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, messages.ErrMsgTranscribeProxy)
		return
	}

	resp, err := h.post(r.Context(), transcriptionPath, contentType, body)
	if err != nil {
		h.logger.Warn("Transcription proxy failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, messages.ErrMsgTranscribeProxy)
		return
	}
	defer resp.Body.Close()

	relay(w, resp, "application/json")
}

// transcriptionForm rebuilds the upload as the provider's multipart form
func transcriptionForm(file io.Reader, filename, mimeType string) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)

	part := make(textproto.MIMEHeader)
	part.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`,
		strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(orDefault(filename, defaultUploadName))))
	part.Set("Content-Type", orDefault(mimeType, defaultUploadType))

	fw, err := mw.CreatePart(part)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(fw, file); err != nil {
		return nil, "", err
	}
	if err := mw.WriteField("model", transcribeModel); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return buf, mw.FormDataContentType(), nil
}

func (h *Handlers) handleClientSecret(w http.ResponseWriter, r *http.Request) {
	if h.minter == nil {
		writeError(w, http.StatusInternalServerError, messages.ErrMsgMissingRealtimeKey)
		return
	}

	body, status, err := h.minter.Mint(r.Context())
	switch {
	case errors.Is(err, credential.ErrNotConfigured):
		writeError(w, http.StatusInternalServerError, messages.ErrMsgMissingRealtimeKey)
		return
	case err != nil:
		h.logger.Warn("Client secret mint failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, messages.ErrMsgClientSecret)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

type agentRequest struct {
	Input string `json:"input"`
}

type agentResponse struct {
	FinalOutput string `json:"final_output"`
}

func (h *Handlers) handleAgent(w http.ResponseWriter, r *http.Request) {
	if h.agent == nil {
		writeError(w, http.StatusInternalServerError, messages.ErrMsgMissingGeminiKey)
		return
	}

	var req agentRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Input) == "" {
		writeError(w, http.StatusBadRequest, messages.ErrMsgMissingInput)
		return
	}

	answer, err := h.agent.Answer(r.Context(), req.Input)
	if err != nil {
		h.logger.Warn("Agent failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, messages.ErrMsgAgent)
		return
	}

	writeJSON(w, http.StatusOK, agentResponse{FinalOutput: answer})
}

func (h *Handlers) handleMockAccounts(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(mockdata.Raw())
}

// post sends one authenticated request to the provider
func (h *Handlers) post(ctx context.Context, path, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.config.Endpoint(path), body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+h.config.OpenAIAPIKey)
	req.Header.Set("Content-Type", contentType)
	return h.httpClient.Do(req)
}
