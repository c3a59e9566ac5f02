// Package host defines the boundary between the bridge and the process that
// actually runs commands.
package host

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/xiaot623/gogo/bridge/internal/domain"
)

// ErrUnknownCommand is returned by Start when the host has no such command.
var ErrUnknownCommand = errors.New("unknown command")

// Call identifies one command invocation.
type Call struct {
	ExecutionID string
	Command     string
	Args        []json.RawMessage
	Context     string
}

// SignalKind is the kind of a Signal.
type SignalKind string

const (
	SignalCompleted  SignalKind = "completed"
	SignalFailed     SignalKind = "failed"
	SignalNeedsInput SignalKind = "needs_input"
)

// Failure is an error reported by the host, carried verbatim.
type Failure struct {
	Kind    string
	Message string
}

// Signal is a progress report from an invocation.
type Signal struct {
	Kind      SignalKind
	Result    json.RawMessage
	Failure   *Failure
	Prompt    string
	InputKind domain.InputKind
}

// Completed returns a completed signal.
func Completed(result json.RawMessage) Signal {
	return Signal{Kind: SignalCompleted, Result: result}
}

// Failed returns a failed signal.
func Failed(kind, message string) Signal {
	return Signal{Kind: SignalFailed, Failure: &Failure{Kind: kind, Message: message}}
}

// NeedsInput returns a needs-input signal.
func NeedsInput(prompt string, kind domain.InputKind) Signal {
	return Signal{Kind: SignalNeedsInput, Prompt: prompt, InputKind: kind}
}

// Host starts command invocations.
type Host interface {
	// Start begins running call. The invocation lives until ctx is done or
	// it reports completed or failed.
	Start(ctx context.Context, call Call) (Invocation, error)
	// Ping checks reachability.
	Ping(ctx context.Context) error
}

// Invocation is one running command.
//
// Signals delivers completed, failed and needs_input reports. After
// needs_input, the invocation waits for Resume. Implementations never block
// forever on a send: they give up once the Start context is done.
type Invocation interface {
	Signals() <-chan Signal
	Resume(value string) error
	Cancel()
}

// Send delivers sig on ch unless ctx is done first.
func Send(ctx context.Context, ch chan<- Signal, sig Signal) bool {
	select {
	case ch <- sig:
		return true
	case <-ctx.Done():
		return false
	}
}
