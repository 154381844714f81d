package event

import (
	"testing"
)

func TestParseMaskSingle(t *testing.T) {
	mask, flags, err := ParseMask("IN_MODIFY")
	if err != nil {
		t.Fatalf("ParseMask() failed: %v", err)
	}
	if mask != Modify {
		t.Errorf("mask = %v, want IN_MODIFY", mask)
	}
	if flags.CreateIfMissing || flags.RunIfMissing {
		t.Errorf("flags should be zero for plain mask, got %+v", flags)
	}
}

func TestParseMaskComposite(t *testing.T) {
	tests := []struct {
		expr string
		want Mask
	}{
		{"IN_CLOSE", CloseWrite | CloseNoWrite},
		{"IN_MOVE", MovedFrom | MovedTo},
		{"IN_ALL_EVENTS", AllEvents},
		{"IN_MODIFY|IN_DELETE_SELF", Modify | DeleteSelf},
		{"IN_CLOSE|IN_CREATE", Close | Create},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			mask, _, err := ParseMask(tt.expr)
			if err != nil {
				t.Fatalf("ParseMask(%q) failed: %v", tt.expr, err)
			}
			if mask != tt.want {
				t.Errorf("ParseMask(%q) = %v, want %v", tt.expr, mask, tt.want)
			}
		})
	}
}

func TestParseMaskPseudoKinds(t *testing.T) {
	mask, flags, err := ParseMask("IN_CREATE_SELF|IN_DELETE_SELF")
	if err != nil {
		t.Fatalf("ParseMask() failed: %v", err)
	}
	if !flags.CreateIfMissing {
		t.Error("IN_CREATE_SELF should set CreateIfMissing")
	}
	if flags.RunIfMissing {
		t.Error("RunIfMissing should not be set")
	}
	if mask != DeleteSelf {
		t.Errorf("pseudo kind leaked into mask: %v", mask)
	}

	_, flags, err = ParseMask("IN_RUN_SELF|IN_MODIFY")
	if err != nil {
		t.Fatalf("ParseMask() failed: %v", err)
	}
	if !flags.RunIfMissing {
		t.Error("IN_RUN_SELF should set RunIfMissing")
	}
}

func TestParseMaskErrors(t *testing.T) {
	tests := []string{
		"IN_BOGUS",
		"IN_MODIFY|",
		"",
		"in_modify",
	}
	for _, expr := range tests {
		t.Run(expr, func(t *testing.T) {
			if _, _, err := ParseMask(expr); err == nil {
				t.Errorf("ParseMask(%q) should fail", expr)
			}
		})
	}
}

func TestParseMaskPseudoOnly(t *testing.T) {
	// A pseudo-kind with no real bits is still a valid expression; the
	// reconciler forces IN_DELETE_SELF in afterwards.
	mask, flags, err := ParseMask("IN_CREATE_SELF")
	if err != nil {
		t.Fatalf("ParseMask() failed: %v", err)
	}
	if mask != 0 || !flags.CreateIfMissing {
		t.Errorf("got mask=%v flags=%+v", mask, flags)
	}
}

func TestMaskString(t *testing.T) {
	tests := []struct {
		mask Mask
		want string
	}{
		{Modify, "IN_MODIFY"},
		{Close, "IN_CLOSE"},
		{AllEvents, "IN_ALL_EVENTS"},
		{Modify | DeleteSelf, "IN_DELETE_SELF|IN_MODIFY"},
		{0, "0"},
	}
	for _, tt := range tests {
		if got := tt.mask.String(); got != tt.want {
			t.Errorf("Mask(%d).String() = %q, want %q", tt.mask, got, tt.want)
		}
	}
}

func TestMaskStringRoundTrip(t *testing.T) {
	masks := []Mask{Modify, Close | Create, Move | DeleteSelf, Attrib | Open}
	for _, m := range masks {
		parsed, _, err := ParseMask(m.String())
		if err != nil {
			t.Fatalf("round-trip parse of %q failed: %v", m.String(), err)
		}
		if parsed != m {
			t.Errorf("round-trip of %v gave %v", m, parsed)
		}
	}
}

func TestSelfGone(t *testing.T) {
	if !(DeleteSelf | MoveSelf).Intersects(SelfGone) {
		t.Error("SelfGone must cover IN_DELETE_SELF and IN_MOVE_SELF")
	}
	if Modify.Intersects(SelfGone) {
		t.Error("IN_MODIFY must not intersect SelfGone")
	}
}
