package tensor

import "fmt"

// ShapeMismatchError reports a tensor whose shape violates a structural
// requirement, such as the rank-5 transformer-stage convention or a hidden
// size that does not divide evenly across attention heads.
type ShapeMismatchError struct {
	Name   string
	Detail string
}

func (e *ShapeMismatchError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("shape mismatch: %s", e.Detail)
	}
	return fmt.Sprintf("shape mismatch: %s: %s", e.Name, e.Detail)
}
