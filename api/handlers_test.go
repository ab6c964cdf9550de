package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/room4-2/voicebank/config"
	"github.com/room4-2/voicebank/credential"
)

type upstreamCall struct {
	path        string
	auth        string
	contentType string
	body        []byte
}

// fakeProvider records every call and answers with a fixed status and body
type fakeProvider struct {
	server *httptest.Server
	calls  atomic.Int32
	last   chan upstreamCall
}

func newFakeProvider(t *testing.T, status int, contentType, body string) *fakeProvider {
	t.Helper()
	p := &fakeProvider{last: make(chan upstreamCall, 8)}
	p.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.calls.Add(1)
		data, _ := io.ReadAll(r.Body)
		p.last <- upstreamCall{
			path:        r.URL.Path,
			auth:        r.Header.Get("Authorization"),
			contentType: r.Header.Get("Content-Type"),
			body:        data,
		}
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(p.server.Close)
	return p
}

func testConfig(baseURL string) *config.Config {
	cfg := config.Default()
	cfg.OpenAIBaseURL = baseURL
	cfg.OpenAIAPIKey = "sk-test"
	cfg.RealtimeAPIKey = "sk-rt"
	return cfg
}

func newTestHandlers(cfg *config.Config, agent Agent) http.Handler {
	minter := credential.NewMinter(cfg.OpenAIBaseURL, cfg.RealtimeAPIKey, cfg.RealtimeModel, nil)
	return NewHandlers(cfg, nil, minter, agent, nil).Routes()
}

func do(h http.Handler, method, path, contentType string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func errorMessage(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body["error"]
}

func TestMissingKeyFailsBeforeReadingBody(t *testing.T) {
	provider := newFakeProvider(t, http.StatusOK, "application/json", `{}`)
	cfg := testConfig(provider.server.URL)
	cfg.OpenAIAPIKey = ""
	h := newTestHandlers(cfg, nil)

	bodies := []string{``, `{"messages":[]}`, `not json`}
	for _, path := range []string{"/api/openai-chat", "/api/tts"} {
		for _, body := range bodies {
			w := do(h, http.MethodPost, path, "application/json", strings.NewReader(body))
			if w.Code != http.StatusInternalServerError {
				t.Errorf("%s with %q: status = %d, want 500", path, body, w.Code)
				continue
			}
			if msg := errorMessage(t, w); msg != "OPENAI_API_KEY missing" {
				t.Errorf("%s: error = %q", path, msg)
			}
		}
	}

	if n := provider.calls.Load(); n != 0 {
		t.Errorf("provider calls = %d, want 0", n)
	}
}

func TestTTSEmptyTextRejectedLocally(t *testing.T) {
	provider := newFakeProvider(t, http.StatusOK, "audio/mpeg", "ID3")
	h := newTestHandlers(testConfig(provider.server.URL), nil)

	for _, body := range []string{`{"text":""}`, `{}`, ``} {
		w := do(h, http.MethodPost, "/api/tts", "application/json", strings.NewReader(body))
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, w.Code)
			continue
		}
		if msg := errorMessage(t, w); msg != "Missing text" {
			t.Errorf("error = %q", msg)
		}
	}

	if n := provider.calls.Load(); n != 0 {
		t.Errorf("provider calls = %d, want 0", n)
	}
}

func TestTTSStreamsAudio(t *testing.T) {
	provider := newFakeProvider(t, http.StatusOK, "audio/mpeg", "ID3-bytes")
	h := newTestHandlers(testConfig(provider.server.URL), nil)

	w := do(h, http.MethodPost, "/api/tts", "application/json", strings.NewReader(`{"text":"Hei","format":"opus"}`))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "audio/opus" {
		t.Errorf("Content-Type = %q, want audio/opus", ct)
	}
	if w.Body.String() != "ID3-bytes" {
		t.Errorf("body = %q", w.Body.String())
	}

	call := <-provider.last
	if call.path != "/v1/audio/speech" || call.auth != "Bearer sk-test" {
		t.Errorf("upstream call = %s %s", call.path, call.auth)
	}
	var sent map[string]string
	if err := json.Unmarshal(call.body, &sent); err != nil {
		t.Fatalf("upstream body: %v", err)
	}
	if sent["input"] != "Hei" || sent["voice"] != "alloy" || sent["model"] != "tts-1" || sent["response_format"] != "opus" {
		t.Errorf("upstream payload = %v", sent)
	}
}

func TestTTSRelaysUpstreamError(t *testing.T) {
	provider := newFakeProvider(t, http.StatusTooManyRequests, "text/plain", "slow down")
	h := newTestHandlers(testConfig(provider.server.URL), nil)

	w := do(h, http.MethodPost, "/api/tts", "application/json", strings.NewReader(`{"text":"Hei"}`))
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", w.Code)
	}
	if w.Body.String() != "slow down" {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestChatRelaysStatusAndBody(t *testing.T) {
	provider := newFakeProvider(t, http.StatusBadRequest, "application/json", `{"error":{"message":"bad model"}}`)
	h := newTestHandlers(testConfig(provider.server.URL), nil)

	w := do(h, http.MethodPost, "/api/openai-chat", "application/json",
		strings.NewReader(`{"messages":[{"role":"user","content":"hi"}]}`))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if w.Body.String() != `{"error":{"message":"bad model"}}` {
		t.Errorf("body = %q", w.Body.String())
	}

	call := <-provider.last
	if call.path != "/v1/chat/completions" {
		t.Errorf("path = %q", call.path)
	}
	var sent struct {
		Model    string           `json:"model"`
		Messages []map[string]any `json:"messages"`
	}
	if err := json.Unmarshal(call.body, &sent); err != nil {
		t.Fatalf("upstream body: %v", err)
	}
	if sent.Model != "gpt-5-mini-2025-08-07" {
		t.Errorf("model = %q, want configured default", sent.Model)
	}
	if len(sent.Messages) != 1 || sent.Messages[0]["content"] != "hi" {
		t.Errorf("messages = %v", sent.Messages)
	}
}

func TestChatTransportFailure(t *testing.T) {
	provider := newFakeProvider(t, http.StatusOK, "application/json", `{}`)
	cfg := testConfig(provider.server.URL)
	provider.server.Close()
	h := newTestHandlers(cfg, nil)

	w := do(h, http.MethodPost, "/api/openai-chat", "application/json", strings.NewReader(`{}`))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if msg := errorMessage(t, w); msg != "OpenAI chat proxy error" {
		t.Errorf("error = %q", msg)
	}
}

func multipartUpload(t *testing.T, withFile bool) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	if withFile {
		fw, err := mw.CreateFormFile("file", "clip.webm")
		if err != nil {
			t.Fatal(err)
		}
		fw.Write([]byte("webm-bytes"))
	} else {
		mw.WriteField("note", "no file")
	}
	mw.Close()
	return buf, mw.FormDataContentType()
}

func TestTranscribe(t *testing.T) {
	provider := newFakeProvider(t, http.StatusOK, "application/json", `{"text":"hva er saldoen min"}`)
	h := newTestHandlers(testConfig(provider.server.URL), nil)

	body, ct := multipartUpload(t, true)
	w := do(h, http.MethodPost, "/api/transcribe", ct, body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if w.Body.String() != `{"text":"hva er saldoen min"}` {
		t.Errorf("body = %q", w.Body.String())
	}

	call := <-provider.last
	if call.path != "/v1/audio/transcriptions" {
		t.Errorf("path = %q", call.path)
	}
	if !strings.HasPrefix(call.contentType, "multipart/form-data") {
		t.Errorf("upstream Content-Type = %q", call.contentType)
	}
	if !bytes.Contains(call.body, []byte("whisper-1")) || !bytes.Contains(call.body, []byte("webm-bytes")) {
		t.Errorf("upstream form missing model or file: %q", call.body)
	}
}

func TestTranscribeRejections(t *testing.T) {
	provider := newFakeProvider(t, http.StatusOK, "application/json", `{}`)

	h := newTestHandlers(testConfig(provider.server.URL), nil)
	body, ct := multipartUpload(t, false)
	w := do(h, http.MethodPost, "/api/transcribe", ct, body)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing file status = %d, want 400", w.Code)
	}

	disabled := testConfig(provider.server.URL)
	disabled.TranscribeEnabled = false
	body, ct = multipartUpload(t, true)
	w = do(newTestHandlers(disabled, nil), http.MethodPost, "/api/transcribe", ct, body)
	if w.Code != http.StatusNotImplemented {
		t.Errorf("disabled status = %d, want 501", w.Code)
	}
	if msg := errorMessage(t, w); msg != "Transcription not enabled" {
		t.Errorf("error = %q", msg)
	}

	if n := provider.calls.Load(); n != 0 {
		t.Errorf("provider calls = %d, want 0", n)
	}
}

func TestClientSecret(t *testing.T) {
	provider := newFakeProvider(t, http.StatusOK, "application/json",
		`{"value":"ek_123","session":{"model":"gpt-realtime"}}`)
	h := newTestHandlers(testConfig(provider.server.URL), nil)

	w := do(h, http.MethodPost, "/api/realtime/client_secret", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "sk-rt") {
		t.Error("response leaked the long-lived key")
	}

	cred, err := credential.Extract(w.Body.Bytes())
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if cred.Secret != "ek_123" {
		t.Errorf("Secret = %q", cred.Secret)
	}

	call := <-provider.last
	if call.path != "/v1/realtime/client_secrets" || call.auth != "Bearer sk-rt" {
		t.Errorf("upstream call = %s %s", call.path, call.auth)
	}
}

func TestClientSecretMissingKey(t *testing.T) {
	provider := newFakeProvider(t, http.StatusOK, "application/json", `{}`)
	cfg := testConfig(provider.server.URL)
	cfg.RealtimeAPIKey = ""

	w := do(newTestHandlers(cfg, nil), http.MethodPost, "/api/realtime/client_secret", "", nil)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if msg := errorMessage(t, w); msg != "OPENAI_REALTIME_API_KEY missing" {
		t.Errorf("error = %q", msg)
	}
	if n := provider.calls.Load(); n != 0 {
		t.Errorf("provider calls = %d, want 0", n)
	}
}

type stubAgent struct {
	answer string
	err    error
	inputs []string
}

func (a *stubAgent) Answer(_ context.Context, input string) (string, error) {
	a.inputs = append(a.inputs, input)
	return a.answer, a.err
}

func TestAgentEndpoint(t *testing.T) {
	agent := &stubAgent{answer: "You have 66471.15 NOK in total."}
	h := newTestHandlers(testConfig("http://unused.invalid"), agent)

	w := do(h, http.MethodPost, "/api/agent", "application/json", strings.NewReader(`{"input":"total?"}`))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var got map[string]string
	json.NewDecoder(w.Body).Decode(&got)
	if got["final_output"] != agent.answer {
		t.Errorf("final_output = %q", got["final_output"])
	}

	w = do(h, http.MethodPost, "/api/agent", "application/json", strings.NewReader(`{"input":"  "}`))
	if w.Code != http.StatusBadRequest {
		t.Errorf("blank input status = %d, want 400", w.Code)
	}
	if len(agent.inputs) != 1 {
		t.Errorf("agent calls = %d, want 1", len(agent.inputs))
	}

	agent.err = errors.New("quota")
	w = do(h, http.MethodPost, "/api/agent", "application/json", strings.NewReader(`{"input":"again"}`))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("agent failure status = %d, want 500", w.Code)
	}
}

func TestAgentNotConfigured(t *testing.T) {
	w := do(newTestHandlers(testConfig("http://unused.invalid"), nil), http.MethodPost, "/api/agent",
		"application/json", strings.NewReader(`{"input":"hi"}`))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if msg := errorMessage(t, w); msg != "GEMINI_API_KEY missing" {
		t.Errorf("error = %q", msg)
	}
}

func TestMockAccounts(t *testing.T) {
	w := do(newTestHandlers(testConfig("http://unused.invalid"), nil), http.MethodGet, "/mock/accounts.json", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var doc map[string]any
	if err := json.NewDecoder(w.Body).Decode(&doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := doc["accounts"]; !ok {
		t.Errorf("document has no accounts: %v", doc)
	}
}
