package main

import (
	"errors"
	"testing"

	"github.com/koscakluka/ema-live/core/events"
)

func setPublishFlags(t *testing.T, session, text, amount, wallet string) {
	t.Helper()

	saved := publishFlags
	t.Cleanup(func() { publishFlags = saved })
	publishFlags.sessionID = session
	publishFlags.text = text
	publishFlags.amount = amount
	publishFlags.currency = "ETH"
	publishFlags.tipper = "alice"
	publishFlags.wallet = wallet
}

func TestBuildTipEvent(t *testing.T) {
	setPublishFlags(t, "", "love the stream", "60", "0xabc")

	event, err := buildEvent(events.KindTip, "default")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tip, ok := event.(events.Tip)
	if !ok {
		t.Fatalf("expected tip, got %T", event)
	}
	if tip.SessionID() != "default" || tip.Amount.String() != "60" || tip.Tipper != "alice" || tip.Message != "love the stream" || !tip.HasWallet() {
		t.Fatalf("unexpected tip %+v", tip)
	}
}

func TestBuildEventFromFlags(t *testing.T) {
	setPublishFlags(t, "s1", "stop that", "", "")

	event, err := buildEvent(events.KindInterrupt, "default")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	interrupt := event.(events.Interrupt)
	if interrupt.SessionID() != "s1" || interrupt.HeardText == nil || *interrupt.HeardText != "stop that" {
		t.Fatalf("unexpected interrupt %+v", interrupt)
	}

	if _, err := buildEvent(events.KindTip, "default"); err == nil {
		t.Fatalf("expected an error for a tip without amount")
	}
	if _, err := buildEvent("dance", "default"); !errors.Is(err, events.ErrUnknownKind) {
		t.Fatalf("expected unknown kind, got %v", err)
	}

	setPublishFlags(t, "s1", "", "", "")
	if _, err := buildEvent(events.KindNewPrompt, "default"); err == nil {
		t.Fatalf("expected an error for an empty prompt")
	}
}
