// Package dispatch implements the action registry and command dispatcher
// (C6): the mapping from a blaster action name to the Go function that
// runs it, and the bounded-concurrency pipeline that runs them.
package dispatch

import (
	"context"

	"github.com/droned/droned/internal/blaster"
)

// Handler is the signature every registered action implements. ctx carries
// the per-command deadline; argstr is the raw, unparsed argument string
// from the envelope — handlers that need structured arguments parse argstr
// themselves rather than relying on a generic decoder.
type Handler func(ctx context.Context, argstr string) blaster.Result

// Action is one named, dispatchable command.
type Action struct {
	Name  string
	Help  string
	Admin bool // marks an administrative action; Dispatcher does not check it, so admin actions run for any verified /_command call
	Run   Handler
}

// OK builds a successful Result with the given description, code 0.
func OK(description string) blaster.Result {
	return blaster.Result{Code: 0, Description: description}
}

// OKExtra builds a successful Result carrying extra structured fields.
func OKExtra(description string, extra map[string]any) blaster.Result {
	return blaster.Result{Code: 0, Description: description, Extra: extra}
}

// Fail builds an error Result: the cause never reaches the transport layer
// as a propagated Go error, only as this flattened description/code/
// stacktrace triple.
func Fail(code int, description string) blaster.Result {
	return blaster.Result{Code: code, Description: description, Error: true}
}

// FailWithTrace attaches a stack trace string (captured by the caller) to
// an error result, filling the optional "stacktrace" field.
func FailWithTrace(code int, description, stacktrace string) blaster.Result {
	return blaster.Result{Code: code, Description: description, Error: true, Stacktrace: stacktrace}
}
