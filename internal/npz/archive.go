// Package npz reads and writes numpy .npz archives: a zip file with one
// .npy member per named array.
package npz

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/alnah/smplexport/internal/tensor"
)

// Method selects how members are stored in the archive.
type Method string

// Supported methods.
const (
	// Deflate matches numpy.savez_compressed.
	Deflate Method = "deflate"
	// Store matches numpy.savez.
	Store Method = "store"
)

// DefaultMethod is used when no method is configured.
const DefaultMethod = Deflate

// Methods lists the accepted method names.
var Methods = []Method{Deflate, Store}

// ParseMethod validates a method name. Empty selects DefaultMethod.
func ParseMethod(s string) (Method, error) {
	switch Method(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return DefaultMethod, nil
	case Deflate:
		return Deflate, nil
	case Store:
		return Store, nil
	}
	return "", fmt.Errorf("%w %q (valid: %v)", ErrUnknownMethod, s, Methods)
}

func (m Method) zipMethod() uint16 {
	if m == Store {
		return zip.Store
	}
	return zip.Deflate
}

// suffix of every member name
const memberExt = ".npy"

// Write stores each array under "<name>.npy", in sorted name order.
func Write(w io.Writer, arrays map[string]tensor.Array, method Method) error {
	zw := zip.NewWriter(w)

	for _, name := range slices.Sorted(maps.Keys(arrays)) {
		if name == "" || strings.ContainsAny(name, "/\\") {
			_ = zw.Close()
			return fmt.Errorf("%w: %q", ErrInvalidName, name)
		}
		fw, err := zw.CreateHeader(&zip.FileHeader{
			Name:   name + memberExt,
			Method: method.zipMethod(),
		})
		if err != nil {
			_ = zw.Close()
			return fmt.Errorf("create member %s: %w", name, err)
		}
		if err := WriteArray(fw, arrays[name]); err != nil {
			_ = zw.Close()
			return fmt.Errorf("write member %s: %w", name, err)
		}
	}

	return zw.Close()
}

// Archive is the decoded content of an .npz file.
type Archive struct {
	// Names in archive order.
	Names  []string
	Arrays map[string]tensor.Array
}

// Read decodes every .npy member of the archive. Members with other
// extensions are skipped.
func Read(r io.ReaderAt, size int64) (Archive, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return Archive{}, fmt.Errorf("open archive: %w", err)
	}

	out := Archive{Arrays: make(map[string]tensor.Array, len(zr.File))}
	for _, f := range zr.File {
		if !strings.HasSuffix(f.Name, memberExt) {
			continue
		}
		name := strings.TrimSuffix(f.Name, memberExt)
		arr, err := readMember(f)
		if err != nil {
			return Archive{}, fmt.Errorf("member %s: %w", name, err)
		}
		out.Names = append(out.Names, name)
		out.Arrays[name] = arr
	}
	return out, nil
}

func readMember(f *zip.File) (tensor.Array, error) {
	rc, err := f.Open()
	if err != nil {
		return tensor.Array{}, err
	}
	defer func() { _ = rc.Close() }()
	return ReadArray(rc)
}
