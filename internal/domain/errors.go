// Package domain holds types and sentinel errors shared across DroneD's
// core packages, free of any infrastructure dependency.
package domain

import "errors"

// ─── Transport errors ──────────────────────────────────────────────────────

var (
	ErrPeerTimeout     = errors.New("peer request timed out")
	ErrPeerUnreachable = errors.New("peer unreachable")
)

// ─── Envelope errors ────────────────────────────────────────────────────────

var (
	ErrUnknownContentType = errors.New("unsupported content type")
	ErrUnknownKey         = errors.New("unknown key id")
	ErrInvalidSignature   = errors.New("invalid signature")
	ErrInvalidMagic       = errors.New("invalid magic string")
	ErrZeroMagic          = errors.New("magic must be non-zero")
	ErrReplayedPrime      = errors.New("prime already redeemed or unknown")
)

// ─── Dispatch errors ────────────────────────────────────────────────────────

var (
	ErrUnknownAction = errors.New("unknown action")
)

// ─── Application-lifecycle errors ──────────────────────────────────────────

var (
	ErrStartFailed     = errors.New("start failed")
	ErrStopFailed      = errors.New("stop failed")
	ErrNotEnabled      = errors.New("instance is not enabled")
	ErrNoSuchInstance  = errors.New("no such instance")
	ErrIncomparableVer = errors.New("versions are not comparable across apps")
)

// ─── Journal errors ─────────────────────────────────────────────────────────

var (
	ErrSerializeFailed = errors.New("serialize failed")
	ErrCorruptSnapshot = errors.New("corrupt snapshot")
)

// ─── Key ring errors ────────────────────────────────────────────────────────

var (
	ErrNoSuchKey = errors.New("unknown key id")
)

// ─── Prime pool errors ──────────────────────────────────────────────────────

var (
	ErrPrimeFileInvalid = errors.New("prime file is invalid")
	ErrPoolExhausted    = errors.New("prime pool exhausted")
)
