package errtrack

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/t77yq/watchtower/internal/model"
)

// Stack line formats tried in order; first match wins.
var (
	frameWithFunc = regexp.MustCompile(`^\s*at\s+(.+?)\s+\((.+?):(\d+):(\d+)\)\s*$`)
	frameNoFunc   = regexp.MustCompile(`^\s*at\s+(.+?):(\d+):(\d+)\s*$`)
	frameBare     = regexp.MustCompile(`^\s*(.+?):(\d+):(\d+)\s*$`)
)

// Path markers that classify a frame as external to the application
var vendorMarkers = []string{
	"node_modules",
	"/vendor/",
	"go/pkg/mod",
	"/usr/lib",
	"internal/runtime",
}

// ParseStack parses a raw stack trace into frames. Unparseable lines are
// skipped; parsing never fails.
func ParseStack(raw string) []model.StackFrame {
	var frames []model.StackFrame
	for _, line := range strings.Split(raw, "\n") {
		if frame, ok := parseFrame(line); ok {
			frames = append(frames, frame)
		}
	}
	return frames
}

func parseFrame(line string) (model.StackFrame, bool) {
	if m := frameWithFunc.FindStringSubmatch(line); m != nil {
		return newFrame(m[2], m[1], m[3], m[4]), true
	}
	if m := frameNoFunc.FindStringSubmatch(line); m != nil {
		return newFrame(m[1], "", m[2], m[3]), true
	}
	if m := frameBare.FindStringSubmatch(line); m != nil {
		return newFrame(m[1], "", m[2], m[3]), true
	}
	return model.StackFrame{}, false
}

func newFrame(file, function, lineStr, colStr string) model.StackFrame {
	line, _ := strconv.Atoi(lineStr)
	col, _ := strconv.Atoi(colStr)
	return model.StackFrame{
		Function: function,
		File:     file,
		Line:     line,
		Column:   col,
		InApp:    isInApp(file),
	}
}

func isInApp(file string) bool {
	for _, marker := range vendorMarkers {
		if strings.Contains(file, marker) {
			return false
		}
	}
	return true
}

// Fingerprint derives the deterministic grouping key for an error:
// the type plus the top in-application frame, falling back to the first
// 100 characters of the message when no in-app frame exists.
func Fingerprint(errType, message string, frames []model.StackFrame) string {
	for _, frame := range frames {
		if frame.InApp {
			return fmt.Sprintf("%s:%s:%s:%d", errType, frame.File, frame.Function, frame.Line)
		}
	}

	msg := message
	if len(msg) > 100 {
		msg = msg[:100]
	}
	return fmt.Sprintf("%s:%s", errType, msg)
}
