// Package event defines the closed catalog of file-change event kinds used
// throughout watchd: the mask bits watch entries request, the composite
// groups the watchtab syntax accepts, and the pseudo-kinds that decode into
// entry flags instead of mask bits.
package event

import (
	"fmt"
	"sort"
	"strings"
)

// Mask is a bitset of event kinds.
type Mask uint32

// Event kind bits. Values mirror the inotify vocabulary so watchtab files
// written against the kernel names keep their meaning.
const (
	Access       Mask = 1 << iota // file was read
	Modify                        // file content changed
	Attrib                        // metadata changed
	CloseWrite                    // writable fd closed
	CloseNoWrite                  // read-only fd closed
	Open                          // file was opened
	MovedFrom                     // entry moved out of watched dir
	MovedTo                       // entry moved into watched dir
	Create                        // entry created in watched dir
	Delete                        // entry deleted in watched dir
	DeleteSelf                    // watched path itself deleted
	MoveSelf                      // watched path itself moved
)

// Composite groups.
const (
	Close     = CloseWrite | CloseNoWrite
	Move      = MovedFrom | MovedTo
	AllEvents = Access | Modify | Attrib | Close | Open | Move | Create | Delete | DeleteSelf | MoveSelf
)

// SelfGone are the kinds that mean the watched path itself no longer exists
// under its old identity. A watch receiving one of these cannot be restored;
// it must be cancelled and rebuilt.
const SelfGone = DeleteSelf | MoveSelf

// Flags decoded from pseudo event-kinds in the watchtab mask expression.
// They are carried on the watch entry, never on the mask.
type Flags struct {
	CreateIfMissing bool // IN_CREATE_SELF: create the file before watching
	RunIfMissing    bool // IN_RUN_SELF: fire the reaction once when absent
}

var names = map[string]Mask{
	"IN_ACCESS":        Access,
	"IN_MODIFY":        Modify,
	"IN_ATTRIB":        Attrib,
	"IN_CLOSE_WRITE":   CloseWrite,
	"IN_CLOSE_NOWRITE": CloseNoWrite,
	"IN_CLOSE":         Close,
	"IN_OPEN":          Open,
	"IN_MOVED_FROM":    MovedFrom,
	"IN_MOVED_TO":      MovedTo,
	"IN_MOVE":          Move,
	"IN_CREATE":        Create,
	"IN_DELETE":        Delete,
	"IN_DELETE_SELF":   DeleteSelf,
	"IN_MOVE_SELF":     MoveSelf,
	"IN_ALL_EVENTS":    AllEvents,
}

// Pseudo-kind tokens. Recognized in mask expressions but stored as flags.
const (
	tokCreateSelf = "IN_CREATE_SELF"
	tokRunSelf    = "IN_RUN_SELF"
)

// ParseMask parses a pipe-separated mask expression such as
// "IN_MODIFY|IN_DELETE_SELF|IN_CREATE_SELF". Unknown tokens are an error so
// the caller can skip the whole watchtab line.
func ParseMask(expr string) (Mask, Flags, error) {
	var mask Mask
	var flags Flags

	for _, tok := range strings.Split(expr, "|") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			return 0, Flags{}, fmt.Errorf("empty token in mask expression %q", expr)
		}
		switch tok {
		case tokCreateSelf:
			flags.CreateIfMissing = true
		case tokRunSelf:
			flags.RunIfMissing = true
		default:
			bits, ok := names[tok]
			if !ok {
				return 0, Flags{}, fmt.Errorf("unknown event kind %q", tok)
			}
			mask |= bits
		}
	}

	if mask == 0 && !flags.CreateIfMissing && !flags.RunIfMissing {
		return 0, Flags{}, fmt.Errorf("mask expression %q selects nothing", expr)
	}
	return mask, flags, nil
}

// Has reports whether all bits in want are set.
func (m Mask) Has(want Mask) bool {
	return m&want == want
}

// Intersects reports whether any bit in other is set.
func (m Mask) Intersects(other Mask) bool {
	return m&other != 0
}

// String renders the mask as a canonical pipe-separated expression, composite
// groups collapsed where they fully apply.
func (m Mask) String() string {
	if m == 0 {
		return "0"
	}
	if m == AllEvents {
		return "IN_ALL_EVENTS"
	}

	var toks []string
	rest := m
	if rest.Has(Close) {
		toks = append(toks, "IN_CLOSE")
		rest &^= Close
	}
	if rest.Has(Move) {
		toks = append(toks, "IN_MOVE")
		rest &^= Move
	}
	for name, bits := range names {
		switch name {
		case "IN_CLOSE", "IN_MOVE", "IN_ALL_EVENTS":
			continue
		}
		if rest.Has(bits) {
			toks = append(toks, name)
			rest &^= bits
		}
	}
	sort.Strings(toks)
	return strings.Join(toks, "|")
}
