// Package weights loads a checkpoint into normalized, repacked form: names
// rewritten to the builder's flat scheme, per-head query/key/value tensors
// fused, and kernel tensors exposed in both orientations.
package weights

import (
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/mlforge/bertbuild/internal/checkpoint"
	"github.com/mlforge/bertbuild/internal/config"
	"github.com/mlforge/bertbuild/internal/logger"
	"github.com/mlforge/bertbuild/internal/tensor"
)

// Namespace is one submodel's (or the classifier's) name -> tensor view.
// Tensors are immutable; transposed orientations are derived views computed
// on first request and memoized. The single build goroutine owns the map,
// so the memo needs no locking.
type Namespace struct {
	id         string
	tensors    map[string]*tensor.Tensor
	transposed map[string]*tensor.Tensor
}

func newNamespace(id string) *Namespace {
	return &Namespace{
		id:         id,
		tensors:    make(map[string]*tensor.Tensor),
		transposed: make(map[string]*tensor.Tensor),
	}
}

// ID returns the namespace id ("0", "1", ... or "classifier").
func (ns *Namespace) ID() string { return ns.id }

// Has reports whether a parameter is present.
func (ns *Namespace) Has(name string) bool {
	_, ok := ns.tensors[name]
	return ok
}

// Get returns a parameter in its canonical (checkpoint) orientation.
func (ns *Namespace) Get(name string) (*tensor.Tensor, error) {
	t, ok := ns.tensors[name]
	if !ok {
		return nil, &MissingWeightError{Key: name}
	}
	return t, nil
}

// Transposed returns the axis-reversed orientation of a kernel parameter.
// The view is computed lazily and cached; downstream fused operators
// disagree on expected layout, so both orientations stay reachable.
func (ns *Namespace) Transposed(name string) (*tensor.Tensor, error) {
	if t, ok := ns.transposed[name]; ok {
		return t, nil
	}
	t, err := ns.Get(name)
	if err != nil {
		return nil, err
	}
	tt := t.Transpose()
	ns.transposed[name] = tt
	return tt, nil
}

// Amax returns the scalar value of a QAT calibration entry.
func (ns *Namespace) Amax(name string) (float32, error) {
	t, err := ns.Get(name)
	if err != nil {
		return 0, err
	}
	if t.NumElements() != 1 {
		return 0, &tensor.ShapeMismatchError{Name: name, Detail: "amax entry must be scalar"}
	}
	return t.Float32s()[0], nil
}

// Names returns the parameter names in the namespace, sorted.
func (ns *Namespace) Names() []string {
	names := make([]string, 0, len(ns.tensors))
	for k := range ns.tensors {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (ns *Namespace) put(t *tensor.Tensor) {
	ns.tensors[t.Name()] = t
}

// Map is the loaded weight repository: one namespace per submodel plus the
// shared classifier namespace. Built once per build, read-only after.
type Map struct {
	submodels  []*Namespace
	classifier *Namespace
}

// Submodel returns the namespace for one submodel index.
func (m *Map) Submodel(i int) *Namespace { return m.submodels[i] }

// NumSubmodels returns how many submodel namespaces were loaded.
func (m *Map) NumSubmodels() int { return len(m.submodels) }

// Classifier returns the shared classifier namespace.
func (m *Map) Classifier() *Namespace { return m.classifier }

// Load reads every checkpoint entry, normalizes names, partitions tensors
// into namespaces and fuses QKV projections per submodel. Entries with
// unrecognized names are logged and skipped; a submodel namespace missing a
// fusion component aborts with MissingWeightError.
func Load(src checkpoint.Source, models []*config.Model, log logger.Logger) (*Map, error) {
	byID := make(map[string]*Namespace)
	classifier := newNamespace(ClassifierNamespace)

	for _, key := range src.Names() {
		nsID, name, err := Normalize(key)
		if err != nil {
			var unknown *UnknownNamingPatternError
			if errors.As(err, &unknown) {
				log.Warn("skipping unrecognized checkpoint key", "key", key)
				continue
			}
			return nil, err
		}

		t, err := src.Read(key)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", key, err)
		}

		if nsID == ClassifierNamespace {
			classifier.put(t.Rename(name))
			continue
		}
		ns, ok := byID[nsID]
		if !ok {
			ns = newNamespace(nsID)
			byID[nsID] = ns
		}
		ns.put(t.Rename(name))
	}

	if len(byID) != len(models) {
		return nil, fmt.Errorf("checkpoint holds %d submodel namespaces, ensemble config lists %d",
			len(byID), len(models))
	}

	submodels := make([]*Namespace, len(models))
	for i, cfg := range models {
		id := strconv.Itoa(i)
		ns, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("checkpoint missing submodel namespace %q", id)
		}
		if err := fuseQKV(ns, cfg); err != nil {
			return nil, fmt.Errorf("submodel %s: %w", id, err)
		}
		log.Info("loaded submodel weights", "submodel", id, "tensors", len(ns.tensors))
		submodels[i] = ns
	}

	return &Map{submodels: submodels, classifier: classifier}, nil
}
