package npz

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/alnah/smplexport/internal/tensor"
)

// npy format version 1.0.
var magic = []byte("\x93NUMPY")

const (
	majorVersion = 1
	minorVersion = 0
	// Offset of the data block is padded to a multiple of this.
	headerAlign = 64
	// magic + version + uint16 header length
	preambleLen = len("\x93NUMPY") + 2 + 2
)

// headerDict renders the Python literal numpy expects, e.g.
// {'descr': '<f8', 'fortran_order': False, 'shape': (5, 24, 3), }
func headerDict(a tensor.Array) string {
	return fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': %s, }",
		a.DType.Descr(), tensor.ShapeString(a.Shape))
}

// WriteArray writes a as a version 1.0 .npy stream.
func WriteArray(w io.Writer, a tensor.Array) error {
	if a.DType.Size() == 0 {
		return fmt.Errorf("%w: %v", tensor.ErrUnsupportedDType, a.DType)
	}
	if len(a.Data) != a.Len()*a.DType.Size() {
		return fmt.Errorf("%w: %s", tensor.ErrShapeMismatch, a)
	}

	header := headerDict(a)
	// Header is terminated by '\n' and space-padded so the data is aligned.
	total := preambleLen + len(header) + 1
	if pad := total % headerAlign; pad != 0 {
		header += strings.Repeat(" ", headerAlign-pad)
	}
	header += "\n"
	if len(header) > 0xFFFF {
		return fmt.Errorf("%w: header too long (%d bytes)", ErrInvalidHeader, len(header))
	}

	var pre [preambleLen]byte
	copy(pre[:], magic)
	pre[6] = majorVersion
	pre[7] = minorVersion
	binary.LittleEndian.PutUint16(pre[8:], uint16(len(header)))

	if _, err := w.Write(pre[:]); err != nil {
		return err
	}
	if _, err := io.WriteString(w, header); err != nil {
		return err
	}
	_, err := w.Write(a.Data)
	return err
}

var (
	descrRe   = regexp.MustCompile(`'descr'\s*:\s*'([^']*)'`)
	fortranRe = regexp.MustCompile(`'fortran_order'\s*:\s*(True|False)`)
	shapeRe   = regexp.MustCompile(`'shape'\s*:\s*\(([^)]*)\)`)
)

// ReadArray reads a .npy stream (versions 1.0, 2.0 and 3.0).
func ReadArray(r io.Reader) (tensor.Array, error) {
	br := bufio.NewReader(r)

	var pre [8]byte
	if _, err := io.ReadFull(br, pre[:]); err != nil {
		return tensor.Array{}, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}
	if !bytes.Equal(pre[:6], magic) {
		return tensor.Array{}, fmt.Errorf("%w: bad magic", ErrInvalidHeader)
	}

	var headerLen int
	switch pre[6] {
	case 1:
		var l [2]byte
		if _, err := io.ReadFull(br, l[:]); err != nil {
			return tensor.Array{}, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
		}
		headerLen = int(binary.LittleEndian.Uint16(l[:]))
	case 2, 3:
		var l [4]byte
		if _, err := io.ReadFull(br, l[:]); err != nil {
			return tensor.Array{}, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
		}
		headerLen = int(binary.LittleEndian.Uint32(l[:]))
	default:
		return tensor.Array{}, fmt.Errorf("%w: version %d.%d", ErrInvalidHeader, pre[6], pre[7])
	}

	header := make([]byte, headerLen)
	if _, err := io.ReadFull(br, header); err != nil {
		return tensor.Array{}, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}
	dtype, shape, err := parseHeader(string(header))
	if err != nil {
		return tensor.Array{}, err
	}

	n := 1
	for _, d := range shape {
		n *= d
	}
	data := make([]byte, n*dtype.Size())
	if _, err := io.ReadFull(br, data); err != nil {
		return tensor.Array{}, fmt.Errorf("%w: reading %d bytes of data: %v", ErrTruncated, len(data), err)
	}
	return tensor.NewArray(dtype, shape, data)
}

func parseHeader(h string) (tensor.DType, []int, error) {
	m := descrRe.FindStringSubmatch(h)
	if m == nil {
		return tensor.Invalid, nil, fmt.Errorf("%w: missing descr in %q", ErrInvalidHeader, h)
	}
	dtype, err := tensor.ParseDType(m[1])
	if err != nil {
		return tensor.Invalid, nil, err
	}

	if f := fortranRe.FindStringSubmatch(h); f == nil {
		return tensor.Invalid, nil, fmt.Errorf("%w: missing fortran_order in %q", ErrInvalidHeader, h)
	} else if f[1] == "True" {
		return tensor.Invalid, nil, ErrFortranOrder
	}

	s := shapeRe.FindStringSubmatch(h)
	if s == nil {
		return tensor.Invalid, nil, fmt.Errorf("%w: missing shape in %q", ErrInvalidHeader, h)
	}
	shape := []int{}
	for _, part := range strings.Split(s[1], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := strconv.Atoi(strings.TrimSuffix(part, "L"))
		if err != nil || d < 0 {
			return tensor.Invalid, nil, fmt.Errorf("%w: bad dimension %q", ErrInvalidHeader, part)
		}
		shape = append(shape, d)
	}
	return dtype, shape, nil
}
