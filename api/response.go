package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/bytedance/sonic"

	"github.com/room4-2/voicebank/messages"
)

var errInvalidBody = errors.New("invalid JSON body")

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := sonic.Marshal(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, messages.NewErrorResponse(message))
}

// decodeBody reads a JSON request body. An empty body decodes to the zero value.
func decodeBody(r *http.Request, v any) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		return errInvalidBody
	}
	if len(data) == 0 {
		return nil
	}
	if err := sonic.Unmarshal(data, v); err != nil {
		return errInvalidBody
	}
	return nil
}

// relay copies the provider's status and body to the client
func relay(w http.ResponseWriter, resp *http.Response, fallbackType string) {
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = fallbackType
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
