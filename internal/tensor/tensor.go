package tensor

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Tensor is a named, immutable multi-dimensional array. The raw buffer is
// little-endian and is never mutated after construction; derived layouts
// (transposes, repacked views) are produced as new tensors.
type Tensor struct {
	name  string
	shape Shape
	dtype DType
	data  []byte
}

// New creates a tensor over raw bytes. The buffer length must match the
// shape and element type exactly.
func New(name string, shape Shape, dtype DType, data []byte) (*Tensor, error) {
	n, err := shape.NumElements()
	if err != nil {
		return nil, fmt.Errorf("tensor %s: %w", name, err)
	}
	if want := n * dtype.Size(); len(data) != want {
		return nil, fmt.Errorf("tensor %s: buffer is %d bytes, shape %v %s requires %d",
			name, len(data), shape, dtype, want)
	}
	return &Tensor{name: name, shape: shape.Clone(), dtype: dtype, data: data}, nil
}

// FromFloat32 creates an f32 tensor from a value slice.
func FromFloat32(name string, shape Shape, vals []float32) (*Tensor, error) {
	data := make([]byte, len(vals)*4)
	for i, v := range vals {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}
	return New(name, shape, F32, data)
}

// Name returns the tensor's name.
func (t *Tensor) Name() string { return t.name }

// Shape returns a copy of the tensor's shape.
func (t *Tensor) Shape() Shape { return t.shape.Clone() }

// DType returns the element type.
func (t *Tensor) DType() DType { return t.dtype }

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int { return len(t.shape) }

// NumElements returns the element count.
func (t *Tensor) NumElements() int {
	n, _ := t.shape.NumElements()
	return n
}

// ByteSize returns the raw buffer length.
func (t *Tensor) ByteSize() int { return len(t.data) }

// Bytes returns the raw buffer. Callers must not modify it.
func (t *Tensor) Bytes() []byte { return t.data }

// Float32s decodes the buffer into a fresh []float32. Panics on non-f32
// tensors; weight repacking operates on f32 only.
func (t *Tensor) Float32s() []float32 {
	if t.dtype != F32 {
		panic(fmt.Sprintf("tensor %s: Float32s on %s tensor", t.name, t.dtype))
	}
	out := make([]float32, t.NumElements())
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(t.data[i*4:]))
	}
	return out
}

// Rename returns a tensor sharing this tensor's buffer under a new name.
func (t *Tensor) Rename(name string) *Tensor {
	return &Tensor{name: name, shape: t.shape, dtype: t.dtype, data: t.data}
}

// Reshape returns a tensor sharing this tensor's buffer with a new shape of
// equal element count.
func (t *Tensor) Reshape(shape Shape) (*Tensor, error) {
	n, err := shape.NumElements()
	if err != nil {
		return nil, fmt.Errorf("tensor %s: %w", t.name, err)
	}
	if n != t.NumElements() {
		return nil, fmt.Errorf("tensor %s: cannot reshape %v to %v", t.name, t.shape, shape)
	}
	return &Tensor{name: t.name, shape: shape.Clone(), dtype: t.dtype, data: t.data}, nil
}

// Transpose returns a new tensor with all axes reversed, the generalization
// of the 2-D matrix transpose used for dual-orientation kernel storage.
// Transposing twice yields the original layout.
func (t *Tensor) Transpose() *Tensor {
	rank := len(t.shape)
	if rank < 2 {
		return &Tensor{name: t.name, shape: t.shape, dtype: t.dtype, data: t.data}
	}

	es := t.dtype.Size()
	srcStrides := t.shape.Strides()
	dstShape := t.shape.Reversed()

	out := make([]byte, len(t.data))
	coords := make([]int, rank)
	n := t.NumElements()
	for dst := 0; dst < n; dst++ {
		// Decompose dst into coordinates of the reversed shape; the source
		// coordinate along original axis i is coords[rank-1-i].
		rem := dst
		for i := rank - 1; i >= 0; i-- {
			coords[i] = rem % dstShape[i]
			rem /= dstShape[i]
		}
		src := 0
		for i := 0; i < rank; i++ {
			src += coords[rank-1-i] * srcStrides[i]
		}
		copy(out[dst*es:(dst+1)*es], t.data[src*es:(src+1)*es])
	}

	return &Tensor{name: t.name, shape: dstShape, dtype: t.dtype, data: out}
}

func (t *Tensor) String() string {
	return fmt.Sprintf("%s %s%s", t.name, t.dtype, t.shape)
}
