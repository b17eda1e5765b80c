package transform

import "github.com/Sumatoshi-tech/pipeckpt/pkg/tensor"

// CaptureKind classifies what a function captures from outside its call scope.
type CaptureKind int

// Capture kinds.
const (
	CaptureConstant CaptureKind = iota
	CaptureResource
	CaptureFunction
)

// String returns the capture kind name.
func (k CaptureKind) String() string {
	switch k {
	case CaptureConstant:
		return "constant"
	case CaptureResource:
		return "resource"
	case CaptureFunction:
		return "function"
	}

	return "unknown"
}

// ResourceKind classifies external mutable resources.
type ResourceKind int

// Resource kinds.
const (
	ResourceVariable ResourceKind = iota
	ResourceRandomGenerator
)

// String returns the resource kind name.
func (k ResourceKind) String() string {
	if k == ResourceRandomGenerator {
		return "random_generator"
	}

	return "variable"
}

// Capture is one declared external reference of a Function.
type Capture interface {
	// Name is the identifier the function body uses to reach the capture.
	Name() string
	Kind() CaptureKind

	sealed()
}

// ImmutableConstantHandle captures a read-only value baked in at construction.
type ImmutableConstantHandle struct {
	name  string
	value tensor.Value
}

// Constant declares a constant capture.
func Constant(name string, value tensor.Value) *ImmutableConstantHandle {
	return &ImmutableConstantHandle{name: name, value: value}
}

// Name implements Capture.
func (h *ImmutableConstantHandle) Name() string { return h.name }

// Kind implements Capture.
func (h *ImmutableConstantHandle) Kind() CaptureKind { return CaptureConstant }

func (*ImmutableConstantHandle) sealed() {}

// Value returns the captured constant.
func (h *ImmutableConstantHandle) Value() tensor.Value { return h.value }

// ExternalResourceHandle captures mutable storage owned by a Registry.
// Its identity outlives any single pipeline build, so it cannot be checkpointed.
type ExternalResourceHandle struct {
	name      string
	kind      ResourceKind
	variable  *Variable
	generator *Generator
}

// Name implements Capture.
func (h *ExternalResourceHandle) Name() string { return h.name }

// Kind implements Capture.
func (h *ExternalResourceHandle) Kind() CaptureKind { return CaptureResource }

func (*ExternalResourceHandle) sealed() {}

// ResourceKind returns whether the handle points at a variable or a generator.
func (h *ExternalResourceHandle) ResourceKind() ResourceKind { return h.kind }

// FunctionHandle captures another Function so the body can invoke it.
type FunctionHandle struct {
	fn *Function
}

// Nested declares a nested function capture, reachable under the function's own name.
func Nested(fn *Function) *FunctionHandle {
	return &FunctionHandle{fn: fn}
}

// Name implements Capture.
func (h *FunctionHandle) Name() string { return h.fn.name }

// Kind implements Capture.
func (h *FunctionHandle) Kind() CaptureKind { return CaptureFunction }

func (*FunctionHandle) sealed() {}

// Function returns the nested function.
func (h *FunctionHandle) Function() *Function { return h.fn }
