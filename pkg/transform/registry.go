package transform

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/Sumatoshi-tech/pipeckpt/pkg/tensor"
)

// Sentinel errors for the resource registry.
var (
	ErrRegistryClosed  = errors.New("resource registry closed")
	ErrResourceKind    = errors.New("resource registered with a different kind")
	ErrInvalidInterval = errors.New("random interval is empty")
)

// Registry owns the external mutable resources of one pipeline build: named
// variables and random generators. Handles it returns stay valid until Close.
type Registry struct {
	mu         sync.Mutex
	variables  map[string]*Variable
	generators map[string]*Generator
	closed     bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		variables:  make(map[string]*Variable),
		generators: make(map[string]*Generator),
	}
}

// Variable returns a handle to the named variable, creating it with the zero value
// of dtype on first use.
func (r *Registry) Variable(name string, dtype tensor.DType) (*ExternalResourceHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, fmt.Errorf("%w: variable %q", ErrRegistryClosed, name)
	}

	if _, taken := r.generators[name]; taken {
		return nil, fmt.Errorf("%w: %q is a random generator", ErrResourceKind, name)
	}

	v, ok := r.variables[name]
	if !ok {
		v = &Variable{name: name, dtype: dtype}
		r.variables[name] = v
	}

	return &ExternalResourceHandle{name: name, kind: ResourceVariable, variable: v}, nil
}

// RandomGenerator returns a handle to the named generator, seeding it on first use.
func (r *Registry) RandomGenerator(name string, seed uint64) (*ExternalResourceHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, fmt.Errorf("%w: generator %q", ErrRegistryClosed, name)
	}

	if _, taken := r.variables[name]; taken {
		return nil, fmt.Errorf("%w: %q is a variable", ErrResourceKind, name)
	}

	g, ok := r.generators[name]
	if !ok {
		g = &Generator{name: name, rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
		r.generators[name] = g
	}

	return &ExternalResourceHandle{name: name, kind: ResourceRandomGenerator, generator: g}, nil
}

// Len returns the number of live resources.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.variables) + len(r.generators)
}

// Close drops every resource. Further lookups fail with ErrRegistryClosed.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	clear(r.variables)
	clear(r.generators)

	return nil
}

// Variable is a mutable scalar counter living outside any single function call.
type Variable struct {
	mu    sync.Mutex
	name  string
	dtype tensor.DType
	value int64
}

// Name returns the variable name.
func (v *Variable) Name() string { return v.name }

// Read returns the current value.
func (v *Variable) Read() *tensor.Dense {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.scalar()
}

// AssignAdd adds delta and returns the updated value.
func (v *Variable) AssignAdd(delta int64) *tensor.Dense {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.value += delta

	return v.scalar()
}

func (v *Variable) scalar() *tensor.Dense {
	if v.dtype == tensor.Int32 {
		return tensor.Scalar32(int32(v.value)) //nolint:gosec // counter wraps at int32 like the engine variable.
	}

	return tensor.Scalar(v.value)
}

// Generator is a seeded pseudo-random source shared across calls.
type Generator struct {
	mu   sync.Mutex
	name string
	rng  *rand.Rand
}

// Name returns the generator name.
func (g *Generator) Name() string { return g.name }

// Uniform draws an integer in [lo, hi).
func (g *Generator) Uniform(lo, hi int64) (int64, error) {
	if hi <= lo {
		return 0, fmt.Errorf("%w: [%d, %d)", ErrInvalidInterval, lo, hi)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	return lo + g.rng.Int64N(hi-lo), nil
}
