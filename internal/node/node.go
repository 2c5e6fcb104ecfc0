// Package node describes the graph nodes this tool provides to a host
// graph editor and invokes them by identifier.
//
// The registration table is built once at package initialization and never
// modified; Lookup and All hand out copies.
package node

import (
	"fmt"
	"slices"
	"sort"

	"github.com/alnah/smplexport/internal/smpl"
)

// Socket types.
const (
	TypeSMPLParams = "SMPL_PARAMS"
	TypeString     = "STRING"
)

// Input describes one required input socket.
type Input struct {
	Name      string
	Type      string
	Default   string
	Multiline bool
}

// Descriptor is the registration entry of a node.
type Descriptor struct {
	ID          string
	DisplayName string
	Category    string
	Function    string
	// Output marks nodes that produce side effects and run even when
	// nothing consumes their result.
	Output      bool
	Inputs      []Input
	ReturnTypes []string
	ReturnNames []string

	run func(rt Runtime, in inputs) ([]any, error)
}

func (d Descriptor) clone() Descriptor {
	d.Inputs = slices.Clone(d.Inputs)
	d.ReturnTypes = slices.Clone(d.ReturnTypes)
	d.ReturnNames = slices.Clone(d.ReturnNames)
	return d
}

// Runtime carries what node implementations need from the caller.
type Runtime struct {
	Exporter *smpl.Exporter
}

var registry = newRegistry(saveSMPL())

func newRegistry(ds ...Descriptor) map[string]Descriptor {
	m := make(map[string]Descriptor, len(ds))
	for _, d := range ds {
		if _, dup := m[d.ID]; dup {
			panic("node: duplicate registration " + d.ID)
		}
		m[d.ID] = d
	}
	return m
}

// Lookup returns the descriptor registered under id.
func Lookup(id string) (Descriptor, bool) {
	d, ok := registry[id]
	if !ok {
		return Descriptor{}, false
	}
	return d.clone(), true
}

// All returns every descriptor sorted by ID.
func All() []Descriptor {
	out := make([]Descriptor, 0, len(registry))
	for _, d := range registry {
		out = append(out, d.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Invoke runs node id with the given inputs. Missing inputs that declare a
// default take it; the result has one value per ReturnTypes entry.
func Invoke(rt Runtime, id string, values map[string]any) ([]any, error) {
	d, ok := registry[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownNode, id)
	}
	in, err := bind(d, values)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", id, err)
	}
	if rt.Exporter == nil {
		rt.Exporter = smpl.NewExporter()
	}
	return d.run(rt, in)
}

type inputs map[string]any

func bind(d Descriptor, values map[string]any) (inputs, error) {
	in := make(inputs, len(d.Inputs))
	for _, input := range d.Inputs {
		v, ok := values[input.Name]
		if !ok || v == nil {
			if input.Type != TypeString {
				return nil, fmt.Errorf("%w: %s is required", ErrInvalidInput, input.Name)
			}
			v = input.Default
		}
		if err := checkType(input, v); err != nil {
			return nil, err
		}
		in[input.Name] = v
	}
	return in, nil
}

func checkType(input Input, v any) error {
	switch input.Type {
	case TypeString:
		if _, ok := v.(string); ok {
			return nil
		}
	case TypeSMPLParams:
		if _, ok := v.(smpl.ParameterBundle); ok {
			return nil
		}
	}
	return fmt.Errorf("%w: %s must be %s, got %T", ErrInvalidInput, input.Name, input.Type, v)
}
