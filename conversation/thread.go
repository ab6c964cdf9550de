package conversation

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Role of a message author
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MaxAuditEvents is how many audit entries a thread keeps
const MaxAuditEvents = 20

// Message is one entry in the conversation thread
type Message struct {
	ID         string      `json:"id"`
	Role       Role        `json:"role"`
	Content    string      `json:"content"`
	Timestamp  time.Time   `json:"timestamp"`
	ActionCard *ActionCard `json:"actionCard,omitempty"`
}

// AuditEvent records an action the user confirmed
type AuditEvent struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Slots       map[string]any `json:"slots,omitempty"`
	At          time.Time      `json:"at"`
	ReasonCodes []string       `json:"reasonCodes,omitempty"`
}

// Thread is the in-memory conversation of one console session
type Thread struct {
	mu       sync.RWMutex
	messages []Message
	audit    []AuditEvent
	now      func() time.Time
}

// NewThread creates an empty thread
func NewThread() *Thread {
	return &Thread{now: time.Now}
}

// AddMessage appends a message and returns it with id and timestamp set
func (t *Thread) AddMessage(role Role, content string, card *ActionCard) Message {
	msg := Message{
		ID:         "msg-" + uuid.New().String(),
		Role:       role,
		Content:    content,
		Timestamp:  t.now().UTC(),
		ActionCard: card,
	}

	t.mu.Lock()
	t.messages = append(t.messages, msg)
	t.mu.Unlock()
	return msg
}

// AppendToLastAssistant adds streamed text to the newest assistant message.
// It reports false when the thread has no assistant message yet.
func (t *Thread) AppendToLastAssistant(text string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := len(t.messages) - 1; i >= 0; i-- {
		if t.messages[i].Role == RoleAssistant {
			t.messages[i].Content += text
			return true
		}
	}
	return false
}

// AttachCard sets the action card on the newest assistant message
func (t *Thread) AttachCard(card *ActionCard) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := len(t.messages) - 1; i >= 0; i-- {
		if t.messages[i].Role == RoleAssistant {
			t.messages[i].ActionCard = card
			return true
		}
	}
	return false
}

// Messages returns a copy of the thread in order
func (t *Thread) Messages() []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Clear drops all messages. The audit log is kept.
func (t *Thread) Clear() {
	t.mu.Lock()
	t.messages = nil
	t.mu.Unlock()
}

// Audit records an event, newest first, keeping at most MaxAuditEvents
func (t *Thread) Audit(eventType string, slots map[string]any, reasonCodes ...string) AuditEvent {
	ev := AuditEvent{
		ID:          "audit-" + uuid.New().String(),
		Type:        eventType,
		Slots:       slots,
		At:          t.now().UTC(),
		ReasonCodes: reasonCodes,
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.audit = append([]AuditEvent{ev}, t.audit...)
	if len(t.audit) > MaxAuditEvents {
		t.audit = t.audit[:MaxAuditEvents]
	}
	return ev
}

// AuditLog returns a copy of the audit log, newest first
func (t *Thread) AuditLog() []AuditEvent {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]AuditEvent, len(t.audit))
	copy(out, t.audit)
	return out
}
