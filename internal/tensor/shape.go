package tensor

import (
	"fmt"
	"strings"
)

// Shape is an ordered list of dimension sizes.
type Shape []int

// NumElements returns the total element count, or an error when a
// dimension is non-positive or the product overflows.
func (s Shape) NumElements() (int, error) {
	if len(s) == 0 {
		return 0, fmt.Errorf("empty shape")
	}
	n := 1
	for _, d := range s {
		if d <= 0 {
			return 0, fmt.Errorf("invalid dim %d", d)
		}
		if n > (int(^uint(0)>>1))/d {
			return 0, fmt.Errorf("shape %v too large", s)
		}
		n *= d
	}
	return n, nil
}

// Rank returns the number of dimensions.
func (s Shape) Rank() int { return len(s) }

// Equal reports whether two shapes have identical dims.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i, d := range s {
		if other[i] != d {
			return false
		}
	}
	return true
}

// Clone returns a copy of the shape.
func (s Shape) Clone() Shape {
	out := make(Shape, len(s))
	copy(out, s)
	return out
}

// Reversed returns the shape with its axes in reverse order.
func (s Shape) Reversed() Shape {
	out := make(Shape, len(s))
	for i, d := range s {
		out[len(s)-1-i] = d
	}
	return out
}

// Strides returns row-major strides in elements.
func (s Shape) Strides() []int {
	strides := make([]int, len(s))
	acc := 1
	for i := len(s) - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= s[i]
	}
	return strides
}

func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = fmt.Sprintf("%d", d)
	}
	return "(" + strings.Join(parts, ",") + ")"
}
