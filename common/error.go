package common

import (
	"fmt"
	"strings"
)

// ErrCode classifies the fatal error conditions an analysis call can
// surface. Structural rejections during scanning are not errors and never
// appear here; they are counted in Diagnostics instead.
type ErrCode uint32

const (
	ErrNone ErrCode = iota
	ErrRangeOutOfBounds
	ErrSourceRead
	ErrImageTooLarge
	ErrRegistryConflict
	ErrBadRegistryFile
)

var errCodeDesc = map[ErrCode]string{
	ErrNone:             "no error",
	ErrRangeOutOfBounds: "requested range outside input image",
	ErrSourceRead:       "input image accessor read failure",
	ErrImageTooLarge:    "input image exceeds addressable size",
	ErrRegistryConflict: "conflicting signature registry entry",
	ErrBadRegistryFile:  "malformed signature registry file",
}

// Error is the typed failure object surfaced by analysis entry points.
// It carries the image offset and operation that failed so a caller can
// report resource-exhaustion failures with context.
type Error struct {
	Code    ErrCode
	Sev     Severity
	Offset  int64 // image offset the failure relates to, -1 if none
	Op      string
	Message string
}

// NewError creates an Error with no associated offset.
func NewError(sev Severity, code ErrCode, op, msg string) *Error {
	return &Error{Code: code, Sev: sev, Offset: -1, Op: op, Message: msg}
}

// NewErrorAt creates an Error tied to an image offset.
func NewErrorAt(sev Severity, code ErrCode, off int64, op, msg string) *Error {
	return &Error{Code: code, Sev: sev, Offset: off, Op: op, Message: msg}
}

// Error implements the standard error interface.
func (e *Error) Error() string {
	var sb strings.Builder

	switch e.Sev {
	case SeverityWarning:
		sb.WriteString("WARN : ")
	case SeverityInfo:
		sb.WriteString("INFO : ")
	default:
		sb.WriteString("ERROR: ")
	}

	if desc, ok := errCodeDesc[e.Code]; ok {
		sb.WriteString(fmt.Sprintf("0x%02x (%s); ", uint32(e.Code), desc))
	} else {
		sb.WriteString(fmt.Sprintf("0x%02x (unknown); ", uint32(e.Code)))
	}

	if e.Op != "" {
		sb.WriteString(fmt.Sprintf("op=%s; ", e.Op))
	}
	if e.Offset >= 0 {
		sb.WriteString(fmt.Sprintf("offset=0x%X; ", e.Offset))
	}

	sb.WriteString(e.Message)
	return sb.String()
}
