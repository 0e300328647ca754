package backend

import (
	"fmt"
	"regexp"
	"strconv"
)

type ErrorKind string

const (
	ErrInit     ErrorKind = "init"
	ErrEval     ErrorKind = "eval"
	ErrRuntime  ErrorKind = "runtime"
	ErrInternal ErrorKind = "internal"
)

// Error is returned by backends for failures that are not script exceptions.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return string(e.Kind) + ": " + e.Message
	}
	if e.Cause != nil {
		return string(e.Kind) + ": " + e.Cause.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Exception is a script exception that escaped evaluation.
type Exception struct {
	Value    Value
	Message  string
	Resource string
	Line     int
	Stack    string
}

func (e *Exception) Error() string {
	if e.Resource != "" && e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.Resource, e.Line, e.Message)
	}
	return e.Message
}

// Thrown is returned from a Trampoline to raise an arbitrary script value.
type Thrown struct {
	Value Value
}

func (t *Thrown) Error() string { return "script value thrown from native code" }

var (
	chunkLocation  = regexp.MustCompile(`(?s)^([^\s:]+):(\d+):\s?(.*)$`)
	stackLocation  = regexp.MustCompile(`([^\s()]+):(\d+):(\d+)`)
	syntaxLocation = regexp.MustCompile(`(?i)line:?\s?(\d+)`)
)

// SplitLocation separates a "resource:line: message" prefix from message.
// ok is false when message carries no such prefix.
func SplitLocation(message string) (resource string, line int, text string, ok bool) {
	m := chunkLocation.FindStringSubmatch(message)
	if m == nil {
		return "", 0, message, false
	}
	line, _ = strconv.Atoi(m[2])
	return m[1], line, m[3], true
}

// StackLocation returns the first "resource:line:column" found in a stack
// trace.
func StackLocation(stack string) (resource string, line int, ok bool) {
	m := stackLocation.FindStringSubmatch(stack)
	if m == nil {
		return "", 0, false
	}
	line, _ = strconv.Atoi(m[2])
	return m[1], line, true
}

// SyntaxLine extracts the line number from a parser diagnostic.
func SyntaxLine(message string) int {
	m := syntaxLocation.FindStringSubmatch(message)
	if m == nil {
		return 0
	}
	line, _ := strconv.Atoi(m[1])
	return line
}
