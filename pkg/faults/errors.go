// Package faults holds the error taxonomy shared by the device and media
// pipeline packages.
package faults

import (
	"errors"
	"fmt"
)

// Sentinel errors. Wrap them with New or fmt.Errorf("...: %w") and test with
// errors.Is.
var (
	ErrToolUnavailable       = errors.New("tool unavailable")
	ErrDeviceBusy            = errors.New("device busy")
	ErrDeviceGone            = errors.New("device disconnected")
	ErrNoDevices             = errors.New("no devices detected")
	ErrCaptureFailed         = errors.New("capture failed")
	ErrTimeout               = errors.New("operation timed out")
	ErrNoFramesProduced      = errors.New("no frames produced")
	ErrFilterFailed          = errors.New("filter failed")
	ErrComposeFailed         = errors.New("page composition failed")
	ErrCleanupFailed         = errors.New("cleanup failed")
	ErrBinaryDiscoveryFailed = errors.New("binary discovery failed")
	ErrPreviewStalled        = errors.New("preview stalled")
	ErrMediaToolMissing      = errors.New("media tool not installed")
	ErrInputMissing          = errors.New("input file missing")
	ErrUnknownPreset         = errors.New("unknown preset")
	ErrPrintFailed           = errors.New("print failed")
)

// Error wraps a sentinel with the operation that produced it.
type Error struct {
	Op       string // e.g. "camera.CaptureStill"
	Err      error  // sentinel or wrapped error
	Detail   string
	Fallback bool // caller may switch to an alternative capture source
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Err, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an *Error. Fallback is set for the sentinels a caller can
// recover from with another capture source.
func New(op string, err error, detail string) *Error {
	return &Error{
		Op:       op,
		Err:      err,
		Detail:   detail,
		Fallback: errors.Is(err, ErrNoDevices) || errors.Is(err, ErrToolUnavailable),
	}
}

// Wrap adds operation context to err. Returns nil if err is nil.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// FallbackAcceptable reports whether err carries the fallback flag.
func FallbackAcceptable(err error) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Fallback
	}
	return false
}

// Code is a machine-readable category used in API responses and metrics.
type Code string

const (
	CodeUnknown          Code = "UNKNOWN"
	CodeToolUnavailable  Code = "TOOL_UNAVAILABLE"
	CodeDeviceBusy       Code = "DEVICE_BUSY"
	CodeDeviceGone       Code = "DEVICE_GONE"
	CodeNoDevices        Code = "NO_DEVICES"
	CodeCaptureFailed    Code = "CAPTURE_FAILED"
	CodeTimeout          Code = "TIMEOUT"
	CodeNoFrames         Code = "NO_FRAMES_PRODUCED"
	CodeFilterFailed     Code = "FILTER_FAILED"
	CodeComposeFailed    Code = "COMPOSE_FAILED"
	CodeCleanupFailed    Code = "CLEANUP_FAILED"
	CodeBinaryDiscovery  Code = "BINARY_DISCOVERY_FAILED"
	CodePreviewStalled   Code = "PREVIEW_STALLED"
	CodeMediaToolMissing Code = "MEDIA_TOOL_MISSING"
	CodePrintFailed      Code = "PRINT_FAILED"
)

// Order matters: more specific sentinels come first.
var codes = []struct {
	err  error
	code Code
}{
	{ErrMediaToolMissing, CodeMediaToolMissing},
	{ErrTimeout, CodeTimeout},
	{ErrToolUnavailable, CodeToolUnavailable},
	{ErrDeviceBusy, CodeDeviceBusy},
	{ErrDeviceGone, CodeDeviceGone},
	{ErrNoDevices, CodeNoDevices},
	{ErrCaptureFailed, CodeCaptureFailed},
	{ErrNoFramesProduced, CodeNoFrames},
	{ErrFilterFailed, CodeFilterFailed},
	{ErrComposeFailed, CodeComposeFailed},
	{ErrCleanupFailed, CodeCleanupFailed},
	{ErrBinaryDiscoveryFailed, CodeBinaryDiscovery},
	{ErrPreviewStalled, CodePreviewStalled},
	{ErrPrintFailed, CodePrintFailed},
}

// CodeOf returns the Code of the first sentinel found in err's chain.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeUnknown
}
