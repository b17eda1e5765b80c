package transform

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Sumatoshi-tech/pipeckpt/pkg/tensor"
)

// Sentinel errors reported by Adapter.
var (
	ErrStatefulCapture   = errors.New("function captures external mutable state")
	ErrSignatureMismatch = errors.New("function signature mismatch")
)

// State is the serializable part of an Adapter. Pure functions keep no state
// between calls, so it only identifies the function it was taken from.
type State struct {
	Function  string `json:"function"`
	Signature string `json:"signature"`
	// Stateful records that the function held external state which was left out.
	Stateful bool `json:"stateful,omitempty"`
}

// Adapter applies a Function to whole records and exposes its checkpoint capabilities.
type Adapter struct {
	fn *Function
}

// NewAdapter wraps fn.
func NewAdapter(fn *Function) *Adapter {
	return &Adapter{fn: fn}
}

// Function returns the wrapped function.
func (a *Adapter) Function() *Function { return a.fn }

// Apply evaluates the function with the record components as arguments.
func (a *Adapter) Apply(rec tensor.Record) (tensor.Record, error) {
	out, err := a.fn.Call(rec)
	if err != nil {
		return nil, err
	}

	return tensor.Record(out), nil
}

// Stateful reports whether the wrapped function holds external mutable captures.
func (a *Adapter) Stateful() bool {
	return a.fn.Stateful()
}

// CheckSerializable returns ErrStatefulCapture, naming every offending capture,
// when the function cannot be checkpointed.
func (a *Adapter) CheckSerializable() error {
	paths := a.fn.ExternalState()
	if len(paths) == 0 {
		return nil
	}

	return fmt.Errorf("%w: %s", ErrStatefulCapture, strings.Join(paths, ", "))
}

// State snapshots the adapter. It does not check serializability.
func (a *Adapter) State() State {
	return State{
		Function:  a.fn.name,
		Signature: a.fn.Signature(),
		Stateful:  a.fn.Stateful(),
	}
}

// Restore verifies that st was taken from a function with the same signature.
func (a *Adapter) Restore(st State) error {
	if st.Signature != a.fn.Signature() {
		return fmt.Errorf("%w: checkpoint has %s, pipeline has %s", ErrSignatureMismatch, st.Function, a.fn.name)
	}

	return nil
}
