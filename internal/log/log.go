//nolint:revive // Package name kept as "log" for stable internal imports.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
)

var (
	mu        sync.Mutex
	out       io.Writer = os.Stdout
	errOut    io.Writer = os.Stderr
	debugMode           = false
)

// SetDebugMode enables or disables debug logging
func SetDebugMode(enabled bool) {
	debugMode = enabled
}

// SetOutput redirects both log streams. Used by the daemon after forking and
// by tests capturing output.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
	errOut = w
}

// Reopen reopens the log file at path and swaps it in as the output for both
// streams. The previous writer is closed unless it is a standard stream.
// Implements the operator's reopen-log request after external rotation.
func Reopen(path string) error {
	//nolint:gosec // G304: log path comes from daemon configuration
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return fmt.Errorf("reopen log %s: %w", path, err)
	}
	mu.Lock()
	prev := out
	out = f
	errOut = f
	mu.Unlock()
	if c, ok := prev.(io.Closer); ok && prev != os.Stdout && prev != os.Stderr {
		_ = c.Close()
	}
	return nil
}

func println(w io.Writer, s string) {
	mu.Lock()
	defer mu.Unlock()
	fmt.Fprintln(w, s)
}

// Debug logs debug messages when debug mode is enabled
func Debug(format string, elem ...any) {
	if debugMode {
		println(out, color.CyanString("[DEBUG] ")+fmt.Sprintf(format, elem...))
	}
}

// DebugH3 logs indented debug messages when debug mode is enabled
func DebugH3(format string, elem ...any) {
	if debugMode {
		println(out, color.CyanString("    [DEBUG] ")+fmt.Sprintf(format, elem...))
	}
}

// Info logs an informational message
func Info(format string, elem ...any) {
	println(out, color.BlueString("[x] ")+fmt.Sprintf(format, elem...))
}

// InfoH2 logs an indented informational message
func InfoH2(format string, elem ...any) {
	println(out, color.GreenString("  [x] ")+fmt.Sprintf(format, elem...))
}

// InfoH3 logs a double-indented informational message
func InfoH3(format string, elem ...any) {
	println(out, color.YellowString("    [x] ")+fmt.Sprintf(format, elem...))
}

// Warn logs a warning. Conflict refusals and skipped watchtab lines land here.
func Warn(format string, elem ...any) {
	println(errOut, color.MagentaString("[!] ")+fmt.Sprintf(format, elem...))
}

// Error logs an error message to stderr
func Error(str string, elem ...any) {
	println(errOut, color.RedString("[x] ")+fmt.Sprintf(str, elem...))
}

// Fatal logs an error message and exits the program
func Fatal(args ...interface{}) {
	var message string

	switch len(args) {
	case 0:
		message = "fatal error occurred"
	case 1:
		switch v := args[0].(type) {
		case error:
			message = v.Error()
		case string:
			message = v
		default:
			message = fmt.Sprintf("%v", v)
		}
	default:
		if format, ok := args[0].(string); ok {
			message = fmt.Sprintf(format, args[1:]...)
		} else {
			message = fmt.Sprint(args...)
		}
	}

	lines := strings.Split(strings.TrimSpace(message), "\n")
	for _, line := range lines {
		println(errOut, color.RedString("[x] ")+line)
	}
	os.Exit(1)
}
