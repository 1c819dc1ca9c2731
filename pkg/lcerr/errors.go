// Package lcerr defines the typed error kinds the light client surfaces to
// its callers. Every rejection the client makes carries one of these kinds
// so a host can distinguish "this client is now frozen" from "this specific
// message was malformed" without parsing strings.
package lcerr

import "fmt"

// Kind identifies the category of a client error.
type Kind string

const (
	// ParaIDMismatch: a parachain header's para ID does not match the
	// client state's configured para ID.
	ParaIDMismatch Kind = "para_id_mismatch"
	// InvalidAncestry: a claimed ancestor relationship does not hold
	// (parent-hash chain broken, or target unreachable from base).
	InvalidAncestry Kind = "invalid_ancestry"
	// InvalidJustification: a GRANDPA justification failed signature,
	// voter-set, or supermajority verification.
	InvalidJustification Kind = "invalid_justification"
	// InvalidEquivocation: a submitted misbehaviour proof does not in
	// fact demonstrate conflicting finality.
	InvalidEquivocation Kind = "invalid_equivocation"
	// MissingHeader: a referenced header (relay or parachain) is absent
	// from the headers supplied with the message.
	MissingHeader Kind = "missing_header"
	// HeightRegression: an update would move client state backwards.
	HeightRegression Kind = "height_regression"
	// HeightMismatch: two values that must agree on height disagree.
	HeightMismatch Kind = "height_mismatch"
	// InvalidUpgradeProof: a client/consensus state upgrade proof failed
	// storage-proof verification against the upgrade commitment.
	InvalidUpgradeProof Kind = "invalid_upgrade_proof"
	// FrozenClient: the client is frozen (misbehaviour already recorded)
	// and refuses further updates.
	FrozenClient Kind = "frozen_client"
	// TypeMismatch: a ClientMessage/ClientState/ConsensusState value was
	// not of the concrete type this client implements.
	TypeMismatch Kind = "type_mismatch"
	// Decode: SCALE or storage-proof decoding failed.
	Decode Kind = "decode"
	// Unimplemented: operation recognized but intentionally not
	// implemented by this client (see CheckSubstituteAndUpdateState).
	Unimplemented Kind = "unimplemented"
)

// Error is the concrete error type returned by every exported operation in
// this module that can fail for a reason the caller should be able to
// branch on.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an *Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf constructs an *Error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an *Error carrying cause as the underlying reason.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err is an *Error of the given kind, unwrapping
// through any wrapped causes.
func Is(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			if e.Kind == kind {
				return true
			}
			err = e.Cause
			continue
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// KindOf returns the Kind of err if it is (or wraps) an *Error, and ok=false
// otherwise.
func KindOf(err error) (Kind, bool) {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return "", false
		}
		err = u.Unwrap()
	}
	return "", false
}
