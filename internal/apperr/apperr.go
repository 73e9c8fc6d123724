package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error by who has to act on it.
type Kind int

const (
	// KindUnknown is reported for errors that carry no classification.
	KindUnknown Kind = iota
	// KindValidation covers bad input and malformed manifests or bundles.
	KindValidation
	// KindConfiguration covers missing or invalid settings.
	KindConfiguration
	// KindAuthorization covers insufficient funds and rejected signatures.
	KindAuthorization
	// KindNetwork covers timeouts, connection failures, gateway errors and missing content.
	KindNetwork
	// KindFileSystem covers permission and disk space problems.
	KindFileSystem
)

// String returns the lowercase kind name used in logs and JSON output.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConfiguration:
		return "configuration"
	case KindAuthorization:
		return "authorization"
	case KindNetwork:
		return "network"
	case KindFileSystem:
		return "filesystem"
	default:
		return "unknown"
	}
}

// Machine-checkable error codes.
const (
	CodeInvalidInput          = "invalid_input"
	CodeInvalidManifest       = "invalid_manifest"
	CodeInvalidBundle         = "invalid_bundle"
	CodeManifestMissing       = "manifest_missing"
	CodeManifestNameMissing   = "manifest_name_missing"
	CodeTargetExists          = "target_exists"
	CodeCircularDependency    = "circular_dependency"
	CodeMaxDepthExceeded      = "max_depth_exceeded"
	CodeVersionConflict       = "version_conflict"
	CodeNoMatchingVersion     = "no_matching_version"
	CodeAlreadyPublished      = "already_published"
	CodeCancelled             = "cancelled"
	CodeMissingSetting        = "missing_setting"
	CodeInsufficientFunds     = "insufficient_funds"
	CodeSignatureRejected     = "signature_rejected"
	CodeNotFound              = "not_found"
	CodeTimeout               = "timeout"
	CodeConnection            = "connection_failed"
	CodeGateway               = "gateway_error"
	CodeServerError           = "server_error"
	CodeBadRequest            = "bad_request"
	CodeNoResponse            = "no_response"
	CodeRegistryError         = "registry_error"
	CodePermissionDenied      = "permission_denied"
	CodeInsufficientDiskSpace = "insufficient_disk_space"
	CodeIO                    = "io_error"
)

// Error is a classified error. It wraps an optional cause so that
// errors.Is and errors.As keep working through the chain.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Hint    string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Code
	}
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error without a cause.
func New(kind Kind, code, message, hint string) error {
	return &Error{Kind: kind, Code: code, Message: message, Hint: hint}
}

// Wrap classifies err. If err is nil, Wrap returns nil.
func Wrap(err error, kind Kind, code, message, hint string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Code: code, Message: message, Hint: hint, Err: err}
}

// As returns the outermost *Error in the chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of the outermost classified error in the chain.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindUnknown
}

// CodeOf returns the code of the outermost classified error, or "".
func CodeOf(err error) string {
	if e, ok := As(err); ok {
		return e.Code
	}
	return ""
}

// HasCode reports whether any classified error in the chain carries code.
func HasCode(err error, code string) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Err
	}
	return false
}

// HintOf returns the first non-empty remediation hint in the chain.
func HintOf(err error) string {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return ""
		}
		if e.Hint != "" {
			return e.Hint
		}
		err = e.Err
	}
	return ""
}

// Exit codes returned by the CLI.
const (
	ExitOK            = 0
	ExitUser          = 1
	ExitSystem        = 2
	ExitAuthorization = 3
)

// ExitCode maps an error to the process exit code. Unclassified errors are
// treated as system errors.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	switch KindOf(err) {
	case KindValidation, KindConfiguration:
		return ExitUser
	case KindAuthorization:
		return ExitAuthorization
	default:
		return ExitSystem
	}
}
