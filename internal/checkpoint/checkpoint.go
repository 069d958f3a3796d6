// Package checkpoint reads name-keyed tensor archives. The on-disk format
// here is safetensors; everything downstream consumes the Source interface,
// so other archive formats can be plugged in without touching the builder.
package checkpoint

import (
	"fmt"
	"sort"

	"github.com/mlforge/bertbuild/internal/tensor"
)

// Source is a name-keyed tensor archive. Implementations must be safe for
// repeated reads; tensors returned are immutable.
type Source interface {
	// Names returns every tensor name in the archive, sorted.
	Names() []string
	// Read loads one tensor by name. Floating-point entries are widened
	// to f32, integer entries to i32.
	Read(name string) (*tensor.Tensor, error)
}

// Mem is an in-memory Source, used by tests and by the calibration driver's
// synthetic fixtures.
type Mem struct {
	tensors map[string]*tensor.Tensor
}

// NewMem builds an in-memory source from tensors keyed by name.
func NewMem(tensors map[string]*tensor.Tensor) *Mem {
	out := make(map[string]*tensor.Tensor, len(tensors))
	for k, v := range tensors {
		out[k] = v
	}
	return &Mem{tensors: out}
}

func (m *Mem) Names() []string {
	names := make([]string, 0, len(m.tensors))
	for k := range m.tensors {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (m *Mem) Read(name string) (*tensor.Tensor, error) {
	t, ok := m.tensors[name]
	if !ok {
		return nil, fmt.Errorf("tensor not found: %s", name)
	}
	return t, nil
}
