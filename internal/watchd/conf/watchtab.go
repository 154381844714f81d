// Package conf parses the two configuration surfaces of watchd: the
// line-oriented watchtab resource that declares watches, and the YAML
// settings file that configures the daemon itself.
package conf

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dimasma0305/watchd/internal/watchd/event"
	"github.com/dimasma0305/watchd/internal/watchd/reaction"
)

// WatchSpec is one parsed watchtab line.
type WatchSpec struct {
	Path     string
	Mask     event.Mask
	Flags    event.Flags
	Reaction reaction.Reaction
	Line     int // 1-based line number in the resource
}

// SkipError reports a malformed watchtab line. Parsing continues past it;
// the caller logs and moves on.
type SkipError struct {
	Source string
	Line   int
	Reason error
}

func (e *SkipError) Error() string {
	return fmt.Sprintf("%s:%d: %v (line skipped)", e.Source, e.Line, e.Reason)
}

func (e *SkipError) Unwrap() error { return e.Reason }

// ParseWatchtab parses a watchtab stream. Grammar per line:
//
//	<path> <mask-expr> <reaction...>
//
// '#' starts a comment, blank lines are ignored, the third field is free
// form up to end of line. Malformed lines are collected as SkipErrors, never
// aborting the parse. The forced IN_DELETE_SELF bit is applied later by the
// registry, not here, so specs round-trip exactly as written.
func ParseWatchtab(r io.Reader, source string) ([]WatchSpec, []*SkipError) {
	var specs []WatchSpec
	var skips []*SkipError

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		spec, err := parseLine(line, lineno)
		if err != nil {
			skips = append(skips, &SkipError{Source: source, Line: lineno, Reason: err})
			continue
		}
		specs = append(specs, spec)
	}
	if err := scanner.Err(); err != nil {
		skips = append(skips, &SkipError{Source: source, Line: lineno, Reason: err})
	}
	return specs, skips
}

// cutField splits off the first whitespace-delimited field and returns the
// trimmed remainder. Positional splitting keeps the reaction field verbatim
// even when the path or mask text recurs later in the line.
func cutField(s string) (field, rest string) {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, " \t"); i >= 0 {
		return s[:i], strings.TrimSpace(s[i+1:])
	}
	return s, ""
}

func parseLine(line string, lineno int) (WatchSpec, error) {
	// Cut the first two fields in order; the remainder is the reaction
	// spec verbatim.
	path, rest := cutField(line)
	maskExpr, reactSpec := cutField(rest)
	if path == "" || maskExpr == "" || reactSpec == "" {
		return WatchSpec{}, fmt.Errorf("expected <path> <mask> <reaction>, got %q", line)
	}

	if !strings.HasPrefix(path, "/") {
		return WatchSpec{}, fmt.Errorf("watch path %q must be absolute", path)
	}

	mask, flags, err := event.ParseMask(maskExpr)
	if err != nil {
		return WatchSpec{}, err
	}

	react, err := reaction.Parse(reactSpec)
	if err != nil {
		return WatchSpec{}, err
	}

	return WatchSpec{Path: path, Mask: mask, Flags: flags, Reaction: react, Line: lineno}, nil
}

// LoadWatchtab opens and parses the watchtab at path.
func LoadWatchtab(path string) ([]WatchSpec, []*SkipError, error) {
	//nolint:gosec // G304: watchtab path comes from daemon configuration
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open watchtab %s: %w", path, err)
	}
	defer f.Close()

	specs, skips := ParseWatchtab(f, path)
	return specs, skips, nil
}

// Retracted reports whether the watchtab resource at path has been truncated
// to nothing. A wiped config is treated as "config retracted", tearing down
// every watch it owns, rather than as an empty-but-valid config.
func Retracted(path string) bool {
	//nolint:gosec // G304: watchtab path comes from daemon configuration
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return len(strings.TrimSpace(string(data))) == 0
}
