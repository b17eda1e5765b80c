// Package transform wraps per-record transformation functions for use inside a
// map stage. A Function declares every external reference it uses up front as a
// Capture, so whether it can be checkpointed is decided by inspecting that list
// rather than the function's runtime environment.
package transform

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Sumatoshi-tech/pipeckpt/pkg/tensor"
)

// Sentinel errors for function construction and evaluation.
var (
	ErrUndeclaredCapture = errors.New("capture not declared")
	ErrDuplicateCapture  = errors.New("duplicate capture name")
	ErrArity             = errors.New("wrong number of arguments")
	ErrCaptureKind       = errors.New("capture has a different kind")
	ErrNilBody           = errors.New("function body is nil")
)

// Body evaluates a function. It sees only its arguments and, through call, the
// captures declared at construction.
type Body func(call *Call, args []tensor.Value) ([]tensor.Value, error)

// Function is a named transformation with an explicit capture list.
type Function struct {
	name     string
	arity    int
	body     Body
	captures []Capture
	byName   map[string]Capture
}

// New builds a Function taking arity arguments.
func New(name string, arity int, body Body, captures ...Capture) (*Function, error) {
	if body == nil {
		return nil, fmt.Errorf("%w: %s", ErrNilBody, name)
	}

	byName := make(map[string]Capture, len(captures))

	for _, c := range captures {
		if _, dup := byName[c.Name()]; dup {
			return nil, fmt.Errorf("%w: %s captures %q twice", ErrDuplicateCapture, name, c.Name())
		}

		byName[c.Name()] = c
	}

	return &Function{
		name:     name,
		arity:    arity,
		body:     body,
		captures: captures,
		byName:   byName,
	}, nil
}

// Name returns the function name.
func (f *Function) Name() string { return f.name }

// Arity returns the declared argument count.
func (f *Function) Arity() int { return f.arity }

// Captures returns the declared captures in declaration order.
func (f *Function) Captures() []Capture {
	out := make([]Capture, len(f.captures))
	copy(out, f.captures)

	return out
}

// Call evaluates the function on args.
func (f *Function) Call(args []tensor.Value) ([]tensor.Value, error) {
	if len(args) != f.arity {
		return nil, fmt.Errorf("%w: %s takes %d, got %d", ErrArity, f.name, f.arity, len(args))
	}

	out, err := f.body(&Call{fn: f}, args)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.name, err)
	}

	return out, nil
}

// ExternalState returns the path of every mutable resource reachable from f,
// following nested functions. Paths look like "outer/inner/counter".
// A nil result means f is safe to checkpoint.
func (f *Function) ExternalState() []string {
	return f.externalState(f.name, make(map[*Function]bool))
}

func (f *Function) externalState(prefix string, seen map[*Function]bool) []string {
	if seen[f] {
		return nil
	}

	seen[f] = true

	var paths []string

	for _, c := range f.captures {
		switch h := c.(type) {
		case *ExternalResourceHandle:
			paths = append(paths, prefix+"/"+h.name)
		case *FunctionHandle:
			paths = append(paths, h.fn.externalState(prefix+"/"+h.fn.name, seen)...)
		}
	}

	return paths
}

// Stateful reports whether f transitively captures any mutable resource.
func (f *Function) Stateful() bool {
	return len(f.ExternalState()) > 0
}

// Signature is a deterministic description of f's interface and capture tree,
// used to check that a checkpoint belongs to a structurally identical function.
// Constant values are included since they are part of the function's meaning.
func (f *Function) Signature() string {
	var sb strings.Builder

	f.writeSignature(&sb)

	return sb.String()
}

func (f *Function) writeSignature(sb *strings.Builder) {
	sb.WriteString(f.name)
	sb.WriteByte('/')
	sb.WriteString(strconv.Itoa(f.arity))
	sb.WriteByte('[')

	for i, c := range f.captures {
		if i > 0 {
			sb.WriteByte(',')
		}

		sb.WriteString(c.Kind().String())
		sb.WriteByte(':')

		switch h := c.(type) {
		case *ImmutableConstantHandle:
			sb.WriteString(h.name)
			sb.WriteByte('=')
			sb.WriteString(h.value.String())
		case *ExternalResourceHandle:
			sb.WriteString(h.kind.String())
			sb.WriteByte(':')
			sb.WriteString(h.name)
		case *FunctionHandle:
			h.fn.writeSignature(sb)
		default:
			sb.WriteString(c.Name())
		}
	}

	sb.WriteByte(']')
}

// Call is the evaluation context handed to a Body. It resolves captures by name.
type Call struct {
	fn *Function
}

func (c *Call) lookup(name string, kind CaptureKind) (Capture, error) {
	capture, ok := c.fn.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q in %s", ErrUndeclaredCapture, name, c.fn.name)
	}

	if capture.Kind() != kind {
		return nil, fmt.Errorf("%w: %q is a %s, want %s", ErrCaptureKind, name, capture.Kind(), kind)
	}

	return capture, nil
}

// lookupAs is lookup followed by a checked conversion to the concrete handle type.
func lookupAs[T Capture](c *Call, name string, kind CaptureKind) (T, error) {
	var zero T

	capture, err := c.lookup(name, kind)
	if err != nil {
		return zero, err
	}

	handle, ok := capture.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %q is a %T, want %s", ErrCaptureKind, name, capture, kind)
	}

	return handle, nil
}

// Constant returns the named constant capture.
func (c *Call) Constant(name string) (tensor.Value, error) {
	handle, err := lookupAs[*ImmutableConstantHandle](c, name, CaptureConstant)
	if err != nil {
		return nil, err
	}

	return handle.value, nil
}

// Variable returns the named variable capture.
func (c *Call) Variable(name string) (*Variable, error) {
	handle, err := lookupAs[*ExternalResourceHandle](c, name, CaptureResource)
	if err != nil {
		return nil, err
	}

	if handle.variable == nil {
		return nil, fmt.Errorf("%w: %q is a %s, want variable", ErrCaptureKind, name, handle.kind)
	}

	return handle.variable, nil
}

// Generator returns the named random generator capture.
func (c *Call) Generator(name string) (*Generator, error) {
	handle, err := lookupAs[*ExternalResourceHandle](c, name, CaptureResource)
	if err != nil {
		return nil, err
	}

	if handle.generator == nil {
		return nil, fmt.Errorf("%w: %q is a %s, want random_generator", ErrCaptureKind, name, handle.kind)
	}

	return handle.generator, nil
}

// Invoke calls the named nested function.
func (c *Call) Invoke(name string, args ...tensor.Value) ([]tensor.Value, error) {
	handle, err := lookupAs[*FunctionHandle](c, name, CaptureFunction)
	if err != nil {
		return nil, err
	}

	return handle.fn.Call(args)
}
