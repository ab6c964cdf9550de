package credential

import (
	"errors"
	"math"

	"github.com/bytedance/sonic"
	"github.com/bytedance/sonic/ast"
)

var (
	// ErrUpstreamUnavailable is returned when the issuer cannot be reached or refuses
	ErrUpstreamUnavailable = errors.New("credential upstream unavailable")
	// ErrMalformedCredential is returned when no secret field is set or the first one set is not a string
	ErrMalformedCredential = errors.New("no recognized secret field in credential response")
	// ErrNotConfigured is returned when the long-lived realtime key is missing
	ErrNotConfigured = errors.New("OPENAI_REALTIME_API_KEY missing")
)

// Credential is a short-lived secret for one realtime session
type Credential struct {
	Secret string
	Model  string
}

// Field paths the issuer has used for the secret, in priority order
var secretPaths = [][]any{
	{"client_secret", "value"},
	{"client_secret"},
	{"value"},
	{"secret"},
	{"ephemeralKey", "secret"},
	{"ephemeral_key"},
}

var modelPaths = [][]any{
	{"model"},
	{"session", "model"},
}

// Extract searches a credential response for the secret and model
func Extract(body []byte) (Credential, error) {
	secret, ok := firstString(body, secretPaths)
	if !ok {
		return Credential{}, ErrMalformedCredential
	}
	model, _ := firstString(body, modelPaths)
	return Credential{Secret: secret, Model: model}, nil
}

// firstString returns the first set path. A set value that is not a string
// ends the search, so later paths never mask a malformed earlier field.
func firstString(body []byte, paths [][]any) (string, bool) {
	for _, path := range paths {
		node, err := sonic.Get(body, path...)
		if err != nil || !isSet(node) {
			continue
		}
		s, err := node.StrictString()
		return s, err == nil
	}
	return "", false
}

// isSet reports whether a value counts as present: null, false, zero and "" do not
func isSet(node ast.Node) bool {
	switch node.Type() {
	case ast.V_STRING:
		s, err := node.StrictString()
		return err == nil && s != ""
	case ast.V_NUMBER:
		f, err := node.Float64()
		return err == nil && f != 0 && !math.IsNaN(f)
	case ast.V_TRUE, ast.V_ARRAY, ast.V_OBJECT:
		return true
	default:
		return false
	}
}
