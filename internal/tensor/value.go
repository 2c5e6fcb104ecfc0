package tensor

import (
	"bytes"
	"fmt"
	"slices"
)

// Value is a numeric parameter as supplied by a host. Every variant can be
// materialized into a plain host-memory Array.
type Value interface {
	ToPlainArray() (Array, error)
}

// Storage is the memory behind a TensorBacked value. It may live on an
// accelerator; CopyToHost must return a buffer the caller owns.
type Storage interface {
	Device() string
	CopyToHost() ([]byte, error)
}

// HostStorage is Storage already resident in host memory. The device label
// is kept so values round-trip their placement in logs and inspections.
type HostStorage struct {
	device string
	data   []byte
}

// NewHostStorage wraps data; an empty device means "cpu".
func NewHostStorage(device string, data []byte) *HostStorage {
	if device == "" {
		device = "cpu"
	}
	return &HostStorage{device: device, data: data}
}

// Device returns the device label.
func (s *HostStorage) Device() string { return s.device }

// CopyToHost returns a copy of the buffer.
func (s *HostStorage) CopyToHost() ([]byte, error) {
	return bytes.Clone(s.data), nil
}

// TensorBacked is a device-resident value that may carry gradient state.
type TensorBacked struct {
	DType        DType
	Shape        []int
	Storage      Storage
	RequiresGrad bool
	Grad         *Array
}

// NewTensor places a copy of arr on the given device.
func NewTensor(arr Array, device string, requiresGrad bool) TensorBacked {
	return TensorBacked{
		DType:        arr.DType,
		Shape:        slices.Clone(arr.Shape),
		Storage:      NewHostStorage(device, bytes.Clone(arr.Data)),
		RequiresGrad: requiresGrad,
	}
}

// Device returns the storage device, or "" without storage.
func (t TensorBacked) Device() string {
	if t.Storage == nil {
		return ""
	}
	return t.Storage.Device()
}

// Detach returns the same tensor without gradient tracking.
func (t TensorBacked) Detach() TensorBacked {
	t.RequiresGrad = false
	t.Grad = nil
	return t
}

// ToPlainArray detaches the tensor and copies its storage to host memory.
func (t TensorBacked) ToPlainArray() (Array, error) {
	d := t.Detach()
	if d.Storage == nil {
		return Array{}, ErrNoStorage
	}
	data, err := d.Storage.CopyToHost()
	if err != nil {
		return Array{}, fmt.Errorf("copy from %s: %w", d.Storage.Device(), err)
	}
	return NewArray(d.DType, slices.Clone(d.Shape), data)
}

// PlainArray is any array-like Go value: nested slices or arrays of
// numbers or bools, a scalar, or an Array.
type PlainArray struct {
	V any
}

// Plain wraps v as a PlainArray.
func Plain(v any) PlainArray {
	return PlainArray{V: v}
}

// ToPlainArray coerces the wrapped value.
func (p PlainArray) ToPlainArray() (Array, error) {
	return Coerce(p.V)
}

var (
	_ Value = Array{}
	_ Value = TensorBacked{}
	_ Value = PlainArray{}
)
