package graph

import (
	"fmt"
	"sort"

	"github.com/mlforge/bertbuild/internal/tensor"
)

// ShapeRange is the min/opt/max shape triple one profile declares for one
// named graph input.
type ShapeRange struct {
	Min tensor.Shape
	Opt tensor.Shape
	Max tensor.Shape
}

// Profile maps graph input names to the shape ranges a compiled engine must
// support efficiently.
type Profile struct {
	ranges map[string]ShapeRange
}

// NewProfile creates an empty optimization profile.
func NewProfile() *Profile {
	return &Profile{ranges: make(map[string]ShapeRange)}
}

// SetShape declares the shape range for one input.
func (p *Profile) SetShape(input string, r ShapeRange) {
	p.ranges[input] = r
}

// Shape returns the declared range for an input.
func (p *Profile) Shape(input string) (ShapeRange, bool) {
	r, ok := p.ranges[input]
	return r, ok
}

// Inputs returns the profiled input names, sorted.
func (p *Profile) Inputs() []string {
	names := make([]string, 0, len(p.ranges))
	for k := range p.ranges {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// BatchProfiles builds one profile per requested batch size over the shared
// (sequence_length, batch) inputs. Profile i spans batches from the previous
// profile's max plus one through batchSizes[i], with opt equal to the max,
// so every batch from 1 to the largest requested size is covered by exactly
// one profile.
func BatchProfiles(seqLen int, batchSizes []int, inputs []string) ([]*Profile, error) {
	if seqLen <= 0 {
		return nil, fmt.Errorf("sequence length must be positive, have %d", seqLen)
	}
	if len(batchSizes) == 0 {
		return nil, fmt.Errorf("no batch sizes requested")
	}
	sorted := make([]int, len(batchSizes))
	copy(sorted, batchSizes)
	sort.Ints(sorted)

	profiles := make([]*Profile, 0, len(sorted))
	prev := 0
	for _, bs := range sorted {
		if bs <= 0 {
			return nil, fmt.Errorf("batch size must be positive, have %d", bs)
		}
		if bs == prev {
			return nil, fmt.Errorf("duplicate batch size %d", bs)
		}
		p := NewProfile()
		r := ShapeRange{
			Min: tensor.Shape{seqLen, prev + 1},
			Opt: tensor.Shape{seqLen, bs},
			Max: tensor.Shape{seqLen, bs},
		}
		for _, input := range inputs {
			p.SetShape(input, r)
		}
		profiles = append(profiles, p)
		prev = bs
	}
	return profiles, nil
}
