// Package calib defines the calibration-data contract and the on-disk
// dynamic-range cache shared between the calibration sub-pass and the main
// build.
package calib

import (
	"context"
	"io"
)

// Batch is one tokenized calibration batch at the fixed calibration batch
// size. Tokenization and batching happen upstream; this package only moves
// prepared ids through.
type Batch struct {
	InputIDs   []int32
	SegmentIDs []int32
	InputMask  []int32
}

// Source yields representative input batches for range derivation. Next
// returns io.EOF once the sample budget is exhausted.
type Source interface {
	Next(ctx context.Context) (*Batch, error)
}

// SliceSource serves pre-built batches from memory.
type SliceSource struct {
	batches []*Batch
	next    int
}

// NewSliceSource wraps prepared batches in a Source.
func NewSliceSource(batches []*Batch) *SliceSource {
	return &SliceSource{batches: batches}
}

func (s *SliceSource) Next(ctx context.Context) (*Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.next >= len(s.batches) {
		return nil, io.EOF
	}
	b := s.batches[s.next]
	s.next++
	return b, nil
}

// Reset rewinds the source to the first batch.
func (s *SliceSource) Reset() { s.next = 0 }
