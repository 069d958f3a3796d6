package builder

// CalibrationUnavailableError reports an int8 build that has no source of
// dynamic ranges: quantization-aware checkpoint entries are absent and
// neither a calibration cache nor calibration data was provided.
type CalibrationUnavailableError struct {
	Reason string
}

func (e *CalibrationUnavailableError) Error() string {
	return "int8 calibration unavailable: " + e.Reason
}
