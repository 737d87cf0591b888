package events

import "testing"

func TestAsAcceptsValueAndPointer(t *testing.T) {
	byValue := New(MessageDelta, MessageDeltaPayload{Content: "hi"})
	if p, ok := As[MessageDeltaPayload](byValue); !ok || p.Content != "hi" {
		t.Fatalf("expected value payload, got %+v %v", p, ok)
	}
	byPointer := New(MessageDelta, &MessageDeltaPayload{Content: "ho"})
	if p, ok := As[MessageDeltaPayload](byPointer); !ok || p.Content != "ho" {
		t.Fatalf("expected pointer payload, got %+v %v", p, ok)
	}
	if _, ok := As[AudioDeltaPayload](byValue); ok {
		t.Fatalf("expected mismatched payload to be rejected")
	}
}

func TestTerminal(t *testing.T) {
	for _, typ := range []Type{ChatCompleted, ChatFailed, Error, Done} {
		if !New(typ, nil).Terminal() {
			t.Fatalf("%s should be terminal", typ)
		}
	}
	if New(MessageDelta, nil).Terminal() {
		t.Fatalf("message delta should not be terminal")
	}
}
