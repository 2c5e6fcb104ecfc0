// Package smpl exports SMPL motion parameters to an .npz archive and a
// pickled prediction record.
package smpl

import (
	"fmt"
	"slices"

	pkgerrors "github.com/pkg/errors"

	"github.com/alnah/smplexport/internal/pickle"
	"github.com/alnah/smplexport/internal/tensor"
)

// Bundle namespaces. Only NamespaceGlobal is read; incam input is ignored.
const (
	NamespaceGlobal = "global"
	NamespaceIncam  = "incam"
)

// Required parameter names.
const (
	KeyBodyPose     = "body_pose"
	KeyGlobalOrient = "global_orient"
	KeyTransl       = "transl"
	KeyBetas        = "betas"
)

// RequiredKeys lists the parameters copied into the prediction record.
var RequiredKeys = []string{KeyBodyPose, KeyGlobalOrient, KeyTransl, KeyBetas}

// Prediction record namespaces.
const (
	RecordGlobal = "smpl_params_global"
	RecordIncam  = "smpl_params_incam"
)

// ParameterSet maps parameter names to numeric values.
type ParameterSet map[string]tensor.Value

// ParameterBundle maps namespaces to parameter sets.
type ParameterBundle map[string]ParameterSet

// ArraySet is a ParameterSet converted to host arrays.
type ArraySet map[string]tensor.Array

// Names returns the keys of s in sorted order.
func (s ArraySet) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Convert materializes every value of set. Keys are visited in sorted order
// so the first failing key is deterministic.
func Convert(set ParameterSet) (ArraySet, error) {
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	slices.Sort(names)

	out := make(ArraySet, len(set))
	for _, name := range names {
		arr, err := toArray(set[name])
		if err != nil {
			return nil, pkgerrors.WithStack(fmt.Errorf("convert %q: %w", name, err))
		}
		out[name] = arr
	}
	return out, nil
}

func toArray(v tensor.Value) (tensor.Array, error) {
	if v == nil {
		return tensor.Coerce(nil)
	}
	return v.ToPlainArray()
}

// PredictionRecord is the object written to the pickle file. Both
// namespaces hold the same arrays.
type PredictionRecord struct {
	Global map[string]tensor.Array
	Incam  map[string]tensor.Array
}

// BuildRecord resolves each required key from converted, falling back to
// re-converting it from raw. A key absent from both is ErrMissingKey.
//
// converted always holds every key of raw when it comes from Convert, so
// the fallback only fires for callers that pass a partial converted set.
func BuildRecord(converted ArraySet, raw ParameterSet) (PredictionRecord, error) {
	rec := PredictionRecord{
		Global: make(map[string]tensor.Array, len(RequiredKeys)),
		Incam:  make(map[string]tensor.Array, len(RequiredKeys)),
	}
	for _, key := range RequiredKeys {
		arr, ok := converted[key]
		if !ok {
			v, found := raw[key]
			if !found {
				return PredictionRecord{}, pkgerrors.WithStack(fmt.Errorf("%w: %q not in %q", ErrMissingKey, key, NamespaceGlobal))
			}
			var err error
			if arr, err = toArray(v); err != nil {
				return PredictionRecord{}, pkgerrors.WithStack(fmt.Errorf("convert %q: %w", key, err))
			}
		}
		rec.Global[key] = arr
		rec.Incam[key] = arr
	}
	return rec, nil
}

// Frames returns the leading dimension of body_pose.
func (r PredictionRecord) Frames() (int, error) {
	arr, ok := r.Global[KeyBodyPose]
	if !ok {
		return 0, pkgerrors.WithStack(fmt.Errorf("%w: %q", ErrMissingKey, KeyBodyPose))
	}
	n, err := arr.Frames()
	if err != nil {
		return 0, pkgerrors.WithStack(fmt.Errorf("%s: %w", KeyBodyPose, err))
	}
	return n, nil
}

// Pickle returns the record as an ordered dict, global namespace first and
// keys in RequiredKeys order.
func (r PredictionRecord) Pickle() pickle.Dict {
	return pickle.Dict{
		{Key: RecordGlobal, Value: namespaceDict(r.Global)},
		{Key: RecordIncam, Value: namespaceDict(r.Incam)},
	}
}

func namespaceDict(m map[string]tensor.Array) pickle.Dict {
	d := make(pickle.Dict, 0, len(RequiredKeys))
	for _, key := range RequiredKeys {
		if arr, ok := m[key]; ok {
			d = append(d, pickle.Item{Key: key, Value: arr})
		}
	}
	return d
}

// RecordFromPickle rebuilds a record from a value returned by pickle.Load.
func RecordFromPickle(v any) (PredictionRecord, error) {
	top, ok := v.(pickle.Dict)
	if !ok {
		return PredictionRecord{}, fmt.Errorf("%w: top level is %T", ErrInvalidRecord, v)
	}
	var rec PredictionRecord
	for _, ns := range []struct {
		name string
		dst  *map[string]tensor.Array
	}{
		{RecordGlobal, &rec.Global},
		{RecordIncam, &rec.Incam},
	} {
		raw, ok := top.Get(ns.name)
		if !ok {
			return PredictionRecord{}, fmt.Errorf("%w: missing %q", ErrInvalidRecord, ns.name)
		}
		d, ok := raw.(pickle.Dict)
		if !ok {
			return PredictionRecord{}, fmt.Errorf("%w: %q is %T", ErrInvalidRecord, ns.name, raw)
		}
		m := make(map[string]tensor.Array, len(d))
		for _, it := range d {
			arr, ok := it.Value.(tensor.Array)
			if !ok {
				return PredictionRecord{}, fmt.Errorf("%w: %s.%s is %T", ErrInvalidRecord, ns.name, it.Key, it.Value)
			}
			m[it.Key] = arr
		}
		*ns.dst = m
	}
	return rec, nil
}

// Verify checks that both namespaces hold every required key with
// identical arrays.
func (r PredictionRecord) Verify() error {
	for _, key := range RequiredKeys {
		g, ok := r.Global[key]
		if !ok {
			return fmt.Errorf("%w: %s.%s", ErrMissingKey, RecordGlobal, key)
		}
		i, ok := r.Incam[key]
		if !ok {
			return fmt.Errorf("%w: %s.%s", ErrMissingKey, RecordIncam, key)
		}
		if !g.Equal(i) {
			return fmt.Errorf("%w: %q differs between namespaces", ErrInconsistent, key)
		}
	}
	return nil
}
