// Package inspect exposes checkpoint diagnostics: tensor listings, the
// normalized weight-size dump, and an optional HTTP surface over both.
package inspect

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/mlforge/bertbuild/internal/checkpoint"
	"github.com/mlforge/bertbuild/internal/logger"
	"github.com/mlforge/bertbuild/internal/weights"
)

// TensorInfo describes one raw checkpoint entry.
type TensorInfo struct {
	Name  string `json:"name"`
	Shape []int  `json:"shape"`
	DType string `json:"dtype"`
	Bytes int    `json:"bytes"`
}

// Service answers diagnostics queries over an opened checkpoint. The weight
// map is optional; without it only raw-entry queries are served.
type Service struct {
	src checkpoint.Source
	wm  *weights.Map
	log logger.Logger
}

// NewService wraps a checkpoint source, with an optional loaded weight map
// for normalized-name queries.
func NewService(src checkpoint.Source, wm *weights.Map, log logger.Logger) *Service {
	return &Service{src: src, wm: wm, log: log}
}

// Tensors lists every checkpoint entry, sorted by name.
func (s *Service) Tensors() ([]TensorInfo, error) {
	names := s.src.Names()
	sort.Strings(names)
	infos := make([]TensorInfo, 0, len(names))
	for _, name := range names {
		info, err := s.Tensor(name)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Tensor describes one checkpoint entry.
func (s *Service) Tensor(name string) (TensorInfo, error) {
	t, err := s.src.Read(name)
	if err != nil {
		return TensorInfo{}, fmt.Errorf("inspect %s: %w", name, err)
	}
	return TensorInfo{
		Name:  t.Name(),
		Shape: t.Shape(),
		DType: t.DType().String(),
		Bytes: t.ByteSize(),
	}, nil
}

// Sizes returns the normalized name -> byte-size dump, or nil when no weight
// map was loaded.
func (s *Service) Sizes() map[string]int {
	if s.wm == nil {
		return nil
	}
	return s.wm.SizeDump()
}

// WriteListing renders the tensor listing as an aligned text table.
func (s *Service) WriteListing(w io.Writer) error {
	infos, err := s.Tensors()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSHAPE\tDTYPE\tBYTES")
	total := 0
	for _, info := range infos {
		fmt.Fprintf(tw, "%s\t%v\t%s\t%d\n", info.Name, info.Shape, info.DType, info.Bytes)
		total += info.Bytes
	}
	fmt.Fprintf(tw, "\t\t\t%d total\n", total)
	return tw.Flush()
}
