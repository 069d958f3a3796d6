package calib

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"
)

type batchJSON struct {
	InputIDs   []int32 `json:"input_ids"`
	SegmentIDs []int32 `json:"segment_ids"`
	InputMask  []int32 `json:"input_mask"`
}

// LoadFile reads pre-tokenized calibration batches from a JSON file: an
// array of {input_ids, segment_ids, input_mask} objects, each array seqLen
// values long per sequence. maxBatches > 0 caps how many batches are kept.
func LoadFile(path string, seqLen, maxBatches int) ([]*Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("calibration data: %w", err)
	}
	var raw []batchJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("calibration data %s: %w", path, err)
	}
	if maxBatches > 0 && len(raw) > maxBatches {
		raw = raw[:maxBatches]
	}

	batches := make([]*Batch, 0, len(raw))
	for i, b := range raw {
		if len(b.InputIDs) == 0 || len(b.InputIDs)%seqLen != 0 {
			return nil, fmt.Errorf("calibration data %s: batch %d has %d ids, want a positive multiple of the sequence length %d",
				path, i, len(b.InputIDs), seqLen)
		}
		if len(b.SegmentIDs) != len(b.InputIDs) || len(b.InputMask) != len(b.InputIDs) {
			return nil, fmt.Errorf("calibration data %s: batch %d arrays disagree on length", path, i)
		}
		batches = append(batches, &Batch{
			InputIDs:   b.InputIDs,
			SegmentIDs: b.SegmentIDs,
			InputMask:  b.InputMask,
		})
	}
	return batches, nil
}
