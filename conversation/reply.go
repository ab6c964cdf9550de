package conversation

import (
	"strings"

	"github.com/bytedance/sonic"
)

// ActionCard is a confirmable next step suggested by the assistant
type ActionCard struct {
	Title           string         `json:"title"`
	Details         string         `json:"details,omitempty"`
	ConfirmLabel    string         `json:"confirmLabel"`
	OnConfirmIntent string         `json:"onConfirmIntent"`
	Slots           map[string]any `json:"slots,omitempty"`
}

// Reply is an assistant answer split into spoken text and an optional card
type Reply struct {
	Say  string      `json:"assistant_say"`
	Card *ActionCard `json:"action_card,omitempty"`
}

// ParseReply looks for a trailing JSON object in text. When it decodes, its
// assistant_say and action_card win; otherwise the whole text is the reply.
func ParseReply(text string) Reply {
	reply := Reply{Say: text}

	trimmed := strings.TrimRight(text, " \t\r\n")
	start := strings.IndexByte(trimmed, '{')
	if start < 0 || !strings.HasSuffix(trimmed, "}") {
		return reply
	}

	var parsed Reply
	if err := sonic.UnmarshalString(trimmed[start:], &parsed); err != nil {
		return reply
	}
	if parsed.Say != "" {
		reply.Say = parsed.Say
	}
	reply.Card = parsed.Card
	return reply
}
