package weights

import (
	"io"

	"github.com/goccy/go-json"
)

// SizeDump returns a flat name -> byte-size mapping across every namespace,
// submodel names prefixed with their namespace id.
func (m *Map) SizeDump() map[string]int {
	out := make(map[string]int)
	for _, ns := range m.submodels {
		for name, t := range ns.tensors {
			out[ns.id+"_"+name] = t.ByteSize()
		}
	}
	for name, t := range m.classifier.tensors {
		out[name] = t.ByteSize()
	}
	return out
}

// WriteSizes writes the size dump as indented JSON, the diagnostic companion
// artifact produced alongside a build when requested.
func (m *Map) WriteSizes(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(m.SizeDump())
}
