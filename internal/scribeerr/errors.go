// Package scribeerr defines the typed error kinds used across the ledger
// and the single boundary that converts them into the {ok:false, error}
// envelope described in the error-handling design: internal code never
// builds that envelope by hand.
package scribeerr

import (
	"errors"
	"fmt"
)

// Kind is a stable error code a caller can branch on.
type Kind string

const (
	KindProjectResolution    Kind = "ProjectResolutionError"
	KindRateLimitExceeded    Kind = "RateLimitExceeded"
	KindPathEscape           Kind = "PathEscape"
	KindLockTimeout          Kind = "LockTimeout"
	KindAtomicWriteFailure   Kind = "AtomicWriteFailure"
	KindBackupFailure        Kind = "BackupFailure"
	KindJournalReplayFailure Kind = "JournalReplayFailure"
	KindMessageInvalid       Kind = "MessageInvalid"
	KindMetadataInvalid      Kind = "MetadataInvalid"
	KindMetadataMissing      Kind = "MetadataRequirementsMissing"
	KindVersionConflict      Kind = "VersionConflict"
	KindPatchHashMismatch    Kind = "PatchHashMismatch"
	KindSectionNotFound      Kind = "SectionNotFound"
	KindDuplicateAnchor      Kind = "DuplicateAnchor"
	KindDocNotRegistered     Kind = "DocNotRegistered"
	KindMirrorFailure        Kind = "MirrorFailure"
	KindTeeFailure           Kind = "TeeFailure"
	KindIndexUpdateFailure   Kind = "IndexUpdateFailure"
	KindRotationIntegrityWarning Kind = "RotationIntegrityWarning"
	KindNotFound             Kind = "NotFound"
)

// Fatal reports whether errors of this kind abort the current operation.
// Non-fatal kinds accumulate as warnings on an otherwise-successful response.
func (k Kind) Fatal() bool {
	switch k {
	case KindMirrorFailure, KindTeeFailure, KindIndexUpdateFailure, KindRotationIntegrityWarning:
		return false
	default:
		return true
	}
}

// Error is the typed error carried through the pipeline. Details carries
// kind-specific payload (recent_projects, retry_after_seconds, ...).
type Error struct {
	Kind       Kind
	Message    string
	Suggestion string
	Details    map[string]any
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an Error with the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap annotates cause with a kind and message, following the teacher's
// fmt.Errorf("describe: %w", err) wrapping convention (see
// internal/repo/sqlite.go's GetXxx methods in the reference pack) but with
// a typed Kind instead of a bare string.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithDetails attaches structured payload and returns the receiver for
// chaining at the call site.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// WithSuggestion attaches a recovery-path hint.
func (e *Error) WithSuggestion(s string) *Error {
	e.Suggestion = s
	return e
}

// As reports whether err is (or wraps) a *Error of the given kind.
func As(err error, kind Kind) (*Error, bool) {
	var se *Error
	if errors.As(err, &se) && se.Kind == kind {
		return se, true
	}
	return nil, false
}

// Result is the {ok, error} envelope every tool-level operation returns.
type Result struct {
	OK       bool           `json:"ok"`
	Error    *ErrorPayload  `json:"error,omitempty"`
	Warnings []ErrorPayload `json:"warnings,omitempty"`
}

// ErrorPayload is the wire shape of a single error.
type ErrorPayload struct {
	Code       Kind           `json:"code"`
	Message    string         `json:"message"`
	Suggestion string         `json:"suggestion,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

func payload(e *Error) ErrorPayload {
	return ErrorPayload{Code: e.Kind, Message: e.Message, Suggestion: e.Suggestion, Details: e.Details}
}

// ToResult converts any error into the outer {ok:false, error} boundary
// envelope. Errors that are not *Error are wrapped as an opaque internal
// failure rather than leaking an untyped error across the boundary.
func ToResult(err error) Result {
	if err == nil {
		return Result{OK: true}
	}
	var se *Error
	if errors.As(err, &se) {
		return Result{OK: false, Error: ptr(payload(se))}
	}
	return Result{OK: false, Error: ptr(ErrorPayload{Code: "InternalError", Message: err.Error()})}
}

// CollectWarnings appends a non-fatal error's payload to a warnings slice,
// used by callers that want an otherwise-successful response to carry
// surfaced MirrorFailure/TeeFailure/IndexUpdateFailure/RotationIntegrityWarning
// entries.
func CollectWarnings(warnings []ErrorPayload, err error) []ErrorPayload {
	if err == nil {
		return warnings
	}
	var se *Error
	if errors.As(err, &se) {
		return append(warnings, payload(se))
	}
	return append(warnings, ErrorPayload{Code: "InternalError", Message: err.Error()})
}

func ptr[T any](v T) *T { return &v }
