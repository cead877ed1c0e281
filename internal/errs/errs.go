/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Package errs provides the structured error taxonomy for tacticalmesh.

Error Categories:
  - FatalBoot: missing identity keys, malformed trust file, lane cannot bind
  - AuthDenied: inbound handshake from an unknown or revoked key
  - BackpressureDrop: a non-blocking send would have blocked
  - StaleWrite: write_triple rejected by the convergence rule
  - DecodeError: malformed envelope or payload
  - PeerTimeout: anti-entropy reply not received in time
  - StorageCorruption: decode of a stored blob failed
  - TransportTerminated: the transport context was torn down mid-call

Nothing except FatalBoot and StorageCorruption should cause the engine to
exit; every other category is isolated to the offending peer or frame.
*/
package errs

import "fmt"

// Code uniquely identifies an error within its category.
type Code int

const (
	// Boot errors (1000-1999)
	CodeMissingIdentityKey Code = 1000
	CodeMalformedTrustFile Code = 1001
	CodeLaneBindFailed     Code = 1002
	CodeInvalidConfig      Code = 1003

	// Auth errors (2000-2999)
	CodeUnknownKey Code = 2000
	CodeRevokedKey Code = 2001

	// Backpressure errors (3000-3999)
	CodeLaneFull Code = 3000

	// Convergence errors (4000-4999)
	CodeStaleWrite Code = 4000

	// Decode errors (5000-5999)
	CodeMalformedEnvelope Code = 5000
	CodeMalformedPayload  Code = 5001

	// Peer errors (6000-6999)
	CodeAntiEntropyTimeout Code = 6000

	// Storage errors (7000-7999)
	CodeBlobCorrupted Code = 7000
	CodeWALCorrupted  Code = 7001

	// Transport lifecycle (8000-8999)
	CodeContextTornDown Code = 8000
)

// Category groups related error codes and drives the handling policy a
// caller should apply (abort boot, drop silently, enter backoff, ...).
type Category string

const (
	CategoryFatalBoot           Category = "FATAL_BOOT"
	CategoryAuthDenied          Category = "AUTH_DENIED"
	CategoryBackpressureDrop    Category = "BACKPRESSURE_DROP"
	CategoryStaleWrite          Category = "STALE_WRITE"
	CategoryDecodeError         Category = "DECODE_ERROR"
	CategoryPeerTimeout         Category = "PEER_TIMEOUT"
	CategoryStorageCorruption   Category = "STORAGE_CORRUPTION"
	CategoryTransportTerminated Category = "TRANSPORT_TERMINATED"
)

// MeshError is a structured error carrying enough context for both
// operator-facing logs and programmatic handling.
type MeshError struct {
	Code     Code
	Category Category
	Message  string
	Detail   string
	Hint     string
	Cause    error
}

// Error implements the error interface.
func (e *MeshError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("mesh error %d (%s): %s - %s", e.Code, e.Category, e.Message, e.Detail)
	}
	return fmt.Sprintf("mesh error %d (%s): %s", e.Code, e.Category, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *MeshError) Unwrap() error {
	return e.Cause
}

// UserMessage returns an operator-friendly rendering including hint text.
func (e *MeshError) UserMessage() string {
	msg := fmt.Sprintf("ERROR: %s", e.Message)
	if e.Detail != "" {
		msg += fmt.Sprintf(" (%s)", e.Detail)
	}
	if e.Hint != "" {
		msg += fmt.Sprintf("\nHINT: %s", e.Hint)
	}
	return msg
}

// WithDetail attaches additional detail and returns the receiver.
func (e *MeshError) WithDetail(detail string) *MeshError {
	e.Detail = detail
	return e
}

// WithHint attaches an operator hint and returns the receiver.
func (e *MeshError) WithHint(hint string) *MeshError {
	e.Hint = hint
	return e
}

// WithCause attaches a wrapped cause and returns the receiver.
func (e *MeshError) WithCause(cause error) *MeshError {
	e.Cause = cause
	return e
}

// ============================================================================
// FatalBoot constructors
// ============================================================================

// MissingIdentityKey reports that this node's private identity file could
// not be loaded.
func MissingIdentityKey(path string) *MeshError {
	return &MeshError{
		Code:     CodeMissingIdentityKey,
		Category: CategoryFatalBoot,
		Message:  fmt.Sprintf("missing identity key file: %s", path),
		Hint:     "run meshkeygen to provision identity and trust files",
	}
}

// MalformedTrustFile reports that the trust file failed to parse.
func MalformedTrustFile(path string, cause error) *MeshError {
	return &MeshError{
		Code:     CodeMalformedTrustFile,
		Category: CategoryFatalBoot,
		Message:  fmt.Sprintf("malformed trust file: %s", path),
		Cause:    cause,
	}
}

// LaneBindFailed reports that a lane's listener could not bind its port.
func LaneBindFailed(lane string, addr string, cause error) *MeshError {
	return &MeshError{
		Code:     CodeLaneBindFailed,
		Category: CategoryFatalBoot,
		Message:  fmt.Sprintf("%s lane failed to bind %s", lane, addr),
		Cause:    cause,
	}
}

// InvalidConfig reports that an environment-supplied configuration value
// failed to parse or validate.
func InvalidConfig(envVar string, cause error) *MeshError {
	return &MeshError{
		Code:     CodeInvalidConfig,
		Category: CategoryFatalBoot,
		Message:  fmt.Sprintf("invalid configuration for %s", envVar),
		Cause:    cause,
	}
}

// ============================================================================
// AuthDenied constructors
// ============================================================================

// UnknownKey reports a handshake from a key absent from the trust registry.
// Never include the offending key material in Detail or Hint.
func UnknownKey() *MeshError {
	return &MeshError{
		Code:     CodeUnknownKey,
		Category: CategoryAuthDenied,
		Message:  "handshake denied: unknown identity",
	}
}

// RevokedKey reports a handshake from a NodeId that has been revoked.
func RevokedKey() *MeshError {
	return &MeshError{
		Code:     CodeRevokedKey,
		Category: CategoryAuthDenied,
		Message:  "handshake denied: revoked identity",
	}
}

// ============================================================================
// BackpressureDrop constructors
// ============================================================================

// LaneFull reports that a non-blocking send to a peer's lane queue would
// have blocked, so the frame was dropped.
func LaneFull(lane string, peer string) *MeshError {
	return &MeshError{
		Code:     CodeLaneFull,
		Category: CategoryBackpressureDrop,
		Message:  fmt.Sprintf("%s lane queue full for peer %s, frame dropped", lane, peer),
	}
}

// ============================================================================
// StaleWrite constructors
// ============================================================================

// StaleWrite reports that write_triple rejected a write under the
// convergence rule. TripleStore.WriteTriple itself does not return this
// error: it reports a rejection as a RejectedStale result with a nil
// error.
func StaleWrite(subject, predicate string) *MeshError {
	return &MeshError{
		Code:     CodeStaleWrite,
		Category: CategoryStaleWrite,
		Message:  fmt.Sprintf("write rejected as stale for (%s, %s)", subject, predicate),
	}
}

// ============================================================================
// DecodeError constructors
// ============================================================================

// MalformedEnvelope reports a wire envelope that failed to decode.
func MalformedEnvelope(cause error) *MeshError {
	return &MeshError{
		Code:     CodeMalformedEnvelope,
		Category: CategoryDecodeError,
		Message:  "malformed envelope",
		Cause:    cause,
	}
}

// MalformedPayload reports an envelope whose payload failed to decode.
func MalformedPayload(kind string, cause error) *MeshError {
	return &MeshError{
		Code:     CodeMalformedPayload,
		Category: CategoryDecodeError,
		Message:  fmt.Sprintf("malformed %s payload", kind),
		Cause:    cause,
	}
}

// ============================================================================
// PeerTimeout constructors
// ============================================================================

// AntiEntropyTimeout reports that an anti-entropy reply was not received
// from a peer within the expected window.
func AntiEntropyTimeout(peer string) *MeshError {
	return &MeshError{
		Code:     CodeAntiEntropyTimeout,
		Category: CategoryPeerTimeout,
		Message:  fmt.Sprintf("anti-entropy reply timed out for peer %s", peer),
	}
}

// ============================================================================
// StorageCorruption constructors
// ============================================================================

// BlobCorrupted reports that a stored triple blob failed to decode.
func BlobCorrupted(key string, cause error) *MeshError {
	return &MeshError{
		Code:     CodeBlobCorrupted,
		Category: CategoryStorageCorruption,
		Message:  fmt.Sprintf("stored blob corrupted for key %s", key),
		Cause:    cause,
		Hint:     "this key is unrecoverable without a replay from a peer",
	}
}

// WALCorrupted reports that the replication log failed to decode.
func WALCorrupted(detail string) *MeshError {
	return &MeshError{
		Code:     CodeWALCorrupted,
		Category: CategoryStorageCorruption,
		Message:  "replication log corrupted",
		Detail:   detail,
	}
}

// ============================================================================
// TransportTerminated constructors
// ============================================================================

// ContextTornDown reports that the transport context was torn down while
// a call was in flight. The calling worker should exit cleanly.
func ContextTornDown() *MeshError {
	return &MeshError{
		Code:     CodeContextTornDown,
		Category: CategoryTransportTerminated,
		Message:  "transport context torn down",
	}
}

// ============================================================================
// Predicates
// ============================================================================

// IsAuthDenied reports whether err is an AuthDenied MeshError.
func IsAuthDenied(err error) bool { return hasCategory(err, CategoryAuthDenied) }

// IsBackpressureDrop reports whether err is a BackpressureDrop MeshError.
func IsBackpressureDrop(err error) bool { return hasCategory(err, CategoryBackpressureDrop) }

// IsStaleWrite reports whether err is a StaleWrite MeshError.
func IsStaleWrite(err error) bool { return hasCategory(err, CategoryStaleWrite) }

// IsDecodeError reports whether err is a DecodeError MeshError.
func IsDecodeError(err error) bool { return hasCategory(err, CategoryDecodeError) }

// IsPeerTimeout reports whether err is a PeerTimeout MeshError.
func IsPeerTimeout(err error) bool { return hasCategory(err, CategoryPeerTimeout) }

// IsStorageCorruption reports whether err is a StorageCorruption MeshError.
func IsStorageCorruption(err error) bool { return hasCategory(err, CategoryStorageCorruption) }

// IsFatalBoot reports whether err is a FatalBoot MeshError.
func IsFatalBoot(err error) bool { return hasCategory(err, CategoryFatalBoot) }

// IsTransportTerminated reports whether err is a TransportTerminated MeshError.
func IsTransportTerminated(err error) bool { return hasCategory(err, CategoryTransportTerminated) }

func hasCategory(err error, cat Category) bool {
	if e, ok := err.(*MeshError); ok {
		return e.Category == cat
	}
	return false
}

// GetCode returns the error code if err is a MeshError, or 0 otherwise.
func GetCode(err error) Code {
	if e, ok := err.(*MeshError); ok {
		return e.Code
	}
	return 0
}

// FormatError formats any error for operator display.
func FormatError(err error) string {
	if e, ok := err.(*MeshError); ok {
		return e.UserMessage()
	}
	return fmt.Sprintf("ERROR: %v", err)
}
