package model

import "testing"

func TestEventStatusValid(t *testing.T) {
	for _, st := range []EventStatus{StatusPending, StatusSent, StatusFailed} {
		if !st.Valid() {
			t.Fatalf("%s should be valid", st)
		}
	}
	if EventStatus("processing").Valid() {
		t.Fatal("unknown status should be invalid")
	}
}

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to EventStatus
		want     bool
	}{
		{StatusPending, StatusSent, true},
		{StatusPending, StatusFailed, true},
		{StatusPending, StatusPending, true},
		{StatusFailed, StatusPending, true}, // manual retry
		{StatusFailed, StatusSent, false},
		{StatusSent, StatusPending, false}, // sent is terminal
		{StatusSent, StatusFailed, false},
		{StatusSent, StatusSent, true},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.want {
			t.Errorf("%s -> %s: got %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestParseEventType(t *testing.T) {
	if typ, ok := ParseEventType("  Purchase "); !ok || typ != EventTypePurchase {
		t.Fatalf("got %q ok=%v", typ, ok)
	}
	if typ, ok := ParseEventType("refund"); !ok || typ != EventTypeRefund {
		t.Fatalf("got %q ok=%v", typ, ok)
	}
	// unknown types pass through
	if typ, ok := ParseEventType("subscription_renewal"); !ok || typ != EventType("subscription_renewal") {
		t.Fatalf("got %q ok=%v", typ, ok)
	}
	if _, ok := ParseEventType("   "); ok {
		t.Fatal("blank type should be rejected")
	}
}
