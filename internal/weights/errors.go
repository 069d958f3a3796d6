package weights

import "fmt"

// MissingWeightError reports a required named tensor that is absent, either
// during QKV fusion or while a block pulls its parameters.
type MissingWeightError struct {
	Key string
}

func (e *MissingWeightError) Error() string {
	return fmt.Sprintf("missing weight: %s", e.Key)
}

// UnknownNamingPatternError reports a checkpoint key that matches no
// recognized normalization rule. Loading logs and skips such entries.
type UnknownNamingPatternError struct {
	Key string
}

func (e *UnknownNamingPatternError) Error() string {
	return fmt.Sprintf("unrecognized checkpoint key: %s", e.Key)
}
