package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

// ---------------------------------------------------------------------------
// Test: Parsing a valid inbound message
// ---------------------------------------------------------------------------

func TestParseInbound(t *testing.T) {
	input := []byte(`{"chat_id":1001,"user_id":55,"message_id":42,"text":"hello","sent_at":1714500000}`)

	m, err := ParseInbound(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.ChatID != 1001 {
		t.Errorf("expected chat_id 1001, got %d", m.ChatID)
	}
	if m.UserID != 55 {
		t.Errorf("expected user_id 55, got %d", m.UserID)
	}
	if m.Text != "hello" {
		t.Errorf("expected text %q, got %q", "hello", m.Text)
	}
	if m.Sent().Unix() != 1714500000 {
		t.Errorf("expected sent_at 1714500000, got %d", m.Sent().Unix())
	}
	if m.IsAdmin || m.IsBot || m.Replay {
		t.Error("optional flags should default to false")
	}
}

// ---------------------------------------------------------------------------
// Test: Rejecting malformed inbound payloads
// ---------------------------------------------------------------------------

func TestParseInbound_Invalid(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{"not json", `{{{`},
		{"missing chat_id", `{"user_id":55,"text":"hi"}`},
		{"missing user_id", `{"chat_id":1001,"text":"hi"}`},
		{"empty object", `{}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseInbound([]byte(tc.input)); err == nil {
				t.Fatalf("expected error for %s", tc.name)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Test: Action event round trip
// ---------------------------------------------------------------------------

func TestActionEventEncode(t *testing.T) {
	ev := ActionEvent{
		ChatID:        1001,
		UserID:        55,
		MessageID:     42,
		Action:        "mute",
		DurationSec:   3600,
		DeleteMessage: true,
		Category:      "drug_selling",
		Severity:      "high",
		Source:        "rule",
		Confidence:    0.95,
		Reason:        "repeat violation",
		DecidedAt:     1714500000,
	}

	data, err := Encode(ev)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var decoded ActionEvent
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded != ev {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", decoded, ev)
	}
}

// ---------------------------------------------------------------------------
// Test: Command replies
// ---------------------------------------------------------------------------

func TestCommandReplies(t *testing.T) {
	var ok CommandReply
	if err := json.Unmarshal(ReplyOK(), &ok); err != nil {
		t.Fatalf("unmarshal ok reply: %v", err)
	}
	if !ok.OK || ok.Err != "" {
		t.Errorf("ok reply = %+v", ok)
	}

	var fail CommandReply
	if err := json.Unmarshal(ReplyErr(errors.New("invalid mode")), &fail); err != nil {
		t.Fatalf("unmarshal err reply: %v", err)
	}
	if fail.OK || fail.Err != "invalid mode" {
		t.Errorf("err reply = %+v", fail)
	}
}
