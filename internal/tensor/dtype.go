package tensor

import "fmt"

// DType identifies the element type of a tensor buffer.
type DType int

const (
	F32 DType = iota
	I32
)

// Size returns the element size in bytes.
func (d DType) Size() int {
	switch d {
	case F32, I32:
		return 4
	default:
		return 0
	}
}

func (d DType) String() string {
	switch d {
	case F32:
		return "f32"
	case I32:
		return "i32"
	default:
		return fmt.Sprintf("dtype(%d)", int(d))
	}
}
