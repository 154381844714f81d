// Package reaction defines the closed set of reaction kinds a watch entry
// can carry and the parsing of watchtab reaction specs into them.
package reaction

import (
	"fmt"
	"strings"

	shellquote "github.com/kballard/go-shellquote"
)

// Kind discriminates the reaction union.
type Kind int

// Reaction kinds. The set is closed; dispatch switches over it exhaustively.
const (
	KindRunCommand Kind = iota
	KindForwardSocket
	KindLoadConf
	KindSetWatch
)

// Directive spellings recognized in the watchtab third field. Anything else
// is treated as a command line for the shell.
const (
	DirectiveLoadConf = "LOAD_CONF"
	DirectiveSetWatch = "SET_WATCH"
	DirectiveForward  = "FORWARD"
)

// Reaction is the tagged union carried by a watch entry. Exactly one kind's
// fields are meaningful. All fields are strings so entries compare with ==.
type Reaction struct {
	Kind Kind

	// KindRunCommand
	Command string

	// KindForwardSocket
	Daemon  string
	Payload string

	// KindLoadConf: resource to reload; empty means the entry's own source.
	// KindSetWatch: the watch to create on demand.
	Path         string
	MaskExpr     string
	ReactionSpec string
}

// RunCommand builds a shell command reaction.
func RunCommand(cmdline string) Reaction {
	return Reaction{Kind: KindRunCommand, Command: cmdline}
}

// ForwardSocket builds a companion-daemon forward reaction.
func ForwardSocket(daemon, payload string) Reaction {
	return Reaction{Kind: KindForwardSocket, Daemon: daemon, Payload: payload}
}

// LoadConf builds a configuration reload directive.
func LoadConf(path string) Reaction {
	return Reaction{Kind: KindLoadConf, Path: path}
}

// SetWatch builds an on-demand watch creation directive. The mask and
// reaction stay unparsed; they are resolved when the directive fires, with
// the same validation as a watchtab line.
func SetWatch(path, maskExpr, reactionSpec string) Reaction {
	return Reaction{Kind: KindSetWatch, Path: path, MaskExpr: maskExpr, ReactionSpec: reactionSpec}
}

// IsDirective reports whether the reaction is an internal directive rather
// than an externally executed action.
func (r Reaction) IsDirective() bool {
	return r.Kind == KindLoadConf || r.Kind == KindSetWatch
}

// String renders the reaction in watchtab spelling.
func (r Reaction) String() string {
	switch r.Kind {
	case KindRunCommand:
		return r.Command
	case KindForwardSocket:
		return fmt.Sprintf("%s %s %s", DirectiveForward, r.Daemon, r.Payload)
	case KindLoadConf:
		if r.Path == "" {
			return DirectiveLoadConf
		}
		return fmt.Sprintf("%s %s", DirectiveLoadConf, r.Path)
	case KindSetWatch:
		return fmt.Sprintf("%s %s %s %s", DirectiveSetWatch, r.Path, r.MaskExpr, r.ReactionSpec)
	}
	return "<invalid>"
}

// cutToken splits off the first whitespace-delimited token and returns the
// trimmed remainder.
func cutToken(s string) (token, rest string) {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, " \t"); i >= 0 {
		return s[:i], strings.TrimSpace(s[i+1:])
	}
	return s, ""
}

// Parse decodes a watchtab reaction spec. A spec whose first word is a known
// directive name is decoded into that directive; everything else becomes a
// RunCommand with the spec verbatim as the command line.
func Parse(spec string) (Reaction, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return Reaction{}, fmt.Errorf("empty reaction spec")
	}

	first, rest := cutToken(spec)

	switch first {
	case DirectiveLoadConf:
		// Optional single path argument.
		if rest == "" {
			return LoadConf(""), nil
		}
		args, err := shellquote.Split(rest)
		if err != nil {
			return Reaction{}, fmt.Errorf("%s: %w", DirectiveLoadConf, err)
		}
		if len(args) != 1 {
			return Reaction{}, fmt.Errorf("%s takes at most one path, got %d args", DirectiveLoadConf, len(args))
		}
		return LoadConf(args[0]), nil

	case DirectiveForward:
		args, err := shellquote.Split(rest)
		if err != nil {
			return Reaction{}, fmt.Errorf("%s: %w", DirectiveForward, err)
		}
		if len(args) < 2 {
			return Reaction{}, fmt.Errorf("%s needs a daemon name and a payload", DirectiveForward)
		}
		return ForwardSocket(args[0], strings.Join(args[1:], " ")), nil

	case DirectiveSetWatch:
		// Cut the path and mask fields in order so the nested reaction
		// stays verbatim even when the path contains the mask text.
		path, after := cutToken(rest)
		maskExpr, nested := cutToken(after)
		if path == "" || maskExpr == "" || nested == "" {
			return Reaction{}, fmt.Errorf("%s needs <path> <mask> <reaction>", DirectiveSetWatch)
		}
		return SetWatch(path, maskExpr, nested), nil
	}

	return RunCommand(spec), nil
}
