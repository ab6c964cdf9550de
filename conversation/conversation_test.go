package conversation

import (
	"fmt"
	"strings"
	"testing"
)

func TestParseReplyWithCard(t *testing.T) {
	text := `Your balance is shown below.
{"assistant_say":"You have 12450.75 NOK in Everyday.","action_card":{"title":"Check spend","confirmLabel":"Show","onConfirmIntent":"RECENT_SPEND","slots":{"windowDays":30}}}
`
	got := ParseReply(text)
	if got.Say != "You have 12450.75 NOK in Everyday." {
		t.Errorf("Say = %q", got.Say)
	}
	if got.Card == nil {
		t.Fatal("expected an action card")
	}
	if got.Card.OnConfirmIntent != "RECENT_SPEND" || got.Card.ConfirmLabel != "Show" {
		t.Errorf("Card = %+v", got.Card)
	}
	if got.Card.Slots["windowDays"] != float64(30) {
		t.Errorf("Slots = %v", got.Card.Slots)
	}
}

func TestParseReplyPlainText(t *testing.T) {
	tests := []string{
		"Hi! I can help with your balance.",
		"Use {braces} carefully, they are not JSON.",
		"Broken card {\"assistant_say\": }",
	}

	for _, text := range tests {
		got := ParseReply(text)
		if got.Say != text {
			t.Errorf("ParseReply(%q).Say = %q, want the whole text", text, got.Say)
		}
		if got.Card != nil {
			t.Errorf("ParseReply(%q).Card = %+v, want nil", text, got.Card)
		}
	}
}

func TestParseReplyJSONWithoutSay(t *testing.T) {
	text := `Freeze it? {"action_card":{"title":"Freeze card","confirmLabel":"Freeze","onConfirmIntent":"FREEZE_CARD"}}`
	got := ParseReply(text)
	if got.Say != text {
		t.Errorf("Say = %q, want the whole text", got.Say)
	}
	if got.Card == nil || got.Card.Title != "Freeze card" {
		t.Errorf("Card = %+v", got.Card)
	}
}

func TestThreadAppendToLastAssistant(t *testing.T) {
	th := NewThread()

	if th.AppendToLastAssistant("orphan") {
		t.Error("AppendToLastAssistant() on an empty thread should report false")
	}

	th.AddMessage(RoleAssistant, "Hello", nil)
	th.AddMessage(RoleUser, "Balance?", nil)
	th.AddMessage(RoleAssistant, "", nil)

	th.AppendToLastAssistant("Your ")
	th.AppendToLastAssistant("balance")

	msgs := th.Messages()
	if len(msgs) != 3 {
		t.Fatalf("len(Messages()) = %d", len(msgs))
	}
	if msgs[0].Content != "Hello" {
		t.Errorf("first assistant message changed: %q", msgs[0].Content)
	}
	if msgs[2].Content != "Your balance" {
		t.Errorf("last assistant content = %q", msgs[2].Content)
	}
	if !strings.HasPrefix(msgs[1].ID, "msg-") || msgs[1].ID == msgs[2].ID {
		t.Errorf("unexpected ids %q %q", msgs[1].ID, msgs[2].ID)
	}

	card := &ActionCard{Title: "Pay bill", OnConfirmIntent: "PAY"}
	if !th.AttachCard(card) || th.Messages()[2].ActionCard != card {
		t.Error("AttachCard() should set the card on the last assistant message")
	}

	th.Clear()
	if len(th.Messages()) != 0 {
		t.Error("Clear() should empty the thread")
	}
}

func TestThreadAuditLogCapped(t *testing.T) {
	th := NewThread()
	for i := 0; i < MaxAuditEvents+5; i++ {
		th.Audit(fmt.Sprintf("EVENT_%d", i), nil)
	}

	log := th.AuditLog()
	if len(log) != MaxAuditEvents {
		t.Fatalf("len(AuditLog()) = %d, want %d", len(log), MaxAuditEvents)
	}
	if log[0].Type != fmt.Sprintf("EVENT_%d", MaxAuditEvents+4) {
		t.Errorf("newest = %q", log[0].Type)
	}
	if log[len(log)-1].Type != "EVENT_5" {
		t.Errorf("oldest kept = %q", log[len(log)-1].Type)
	}
}
