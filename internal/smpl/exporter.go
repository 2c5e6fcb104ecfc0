package smpl

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/alnah/smplexport/internal/format"
	"github.com/alnah/smplexport/internal/npz"
	"github.com/alnah/smplexport/internal/pickle"
)

// Default output extensions, appended to paths without one.
const (
	NpzExt = ".npz"
	PklExt = ".pkl"
)

// FailurePrefix starts every error text returned by Export.
const FailurePrefix = "SaveSMPL failed: "

const logTag = "[SaveSMPL]"

// Result describes a successful export.
type Result struct {
	// NpzPath and PklPath are the written paths, as given plus any default
	// extension.
	NpzPath string
	PklPath string
	// AbsNpzPath is NpzPath made absolute.
	AbsNpzPath string
	NpzSize    int64
	PklSize    int64
	Frames     int
	// Arrays lists the archive members in write order.
	Arrays []string
}

// Info renders the multi-line summary reported to the host.
func (r Result) Info() string {
	return fmt.Sprintf("SaveSMPL Complete\nNPZ: %s (%s)\nPKL: %s (%s)\nFrames: %d\n",
		r.NpzPath, format.SizeKB(r.NpzSize),
		r.PklPath, format.SizeKB(r.PklSize),
		r.Frames)
}

// Exporter writes parameter bundles to disk. The zero value is not usable;
// call NewExporter.
type Exporter struct {
	fs     afero.Fs
	log    zerolog.Logger
	method npz.Method
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithFs sets the filesystem. Defaults to the OS filesystem.
func WithFs(fs afero.Fs) Option {
	return func(e *Exporter) {
		e.fs = fs
	}
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(log zerolog.Logger) Option {
	return func(e *Exporter) {
		e.log = log
	}
}

// WithMethod sets the archive compression method.
func WithMethod(m npz.Method) Option {
	return func(e *Exporter) {
		e.method = m
	}
}

// NewExporter returns an Exporter writing compressed archives to the OS
// filesystem.
func NewExporter(opts ...Option) *Exporter {
	e := &Exporter{
		fs:     afero.NewOsFs(),
		log:    zerolog.Nop(),
		method: npz.DefaultMethod,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Export runs Save and reports the outcome as data: the absolute archive
// path and the summary on success, or "" and a FailurePrefix message on
// failure. It never panics.
func (e *Exporter) Export(bundle ParameterBundle, npzPath, pklPath string) (path, info string) {
	defer func() {
		if r := recover(); r != nil {
			path, info = e.fail(pkgerrors.WithStack(fmt.Errorf("panic: %v", r)))
		}
	}()

	res, err := e.Save(bundle, npzPath, pklPath)
	if err != nil {
		return e.fail(err)
	}
	return res.AbsNpzPath, res.Info()
}

func (e *Exporter) fail(err error) (string, string) {
	msg := FailurePrefix + err.Error()
	e.log.Error().Stack().Err(err).Msg(msg)
	return "", msg
}

// Save validates bundle, writes the archive and the prediction record, and
// returns what was written.
//
// Files are not rolled back: when the record cannot be built or written,
// an archive written earlier in the call stays on disk.
func (e *Exporter) Save(bundle ParameterBundle, npzPath, pklPath string) (Result, error) {
	e.log.Info().Msgf("%s Saving SMPL motion data (NPZ + PKL)...", logTag)

	global, ok := bundle[NamespaceGlobal]
	if !ok {
		return Result{}, pkgerrors.WithStack(fmt.Errorf("%w: smpl_params does not contain %q", ErrValidation, NamespaceGlobal))
	}

	for _, p := range []string{npzPath, pklPath} {
		if err := e.fs.MkdirAll(filepath.Dir(p), 0750); err != nil {
			return Result{}, pkgerrors.WithStack(fmt.Errorf("%w: create directory for %s: %w", ErrIO, p, err))
		}
	}

	npzPath, err := WithDefaultExt(npzPath, NpzExt)
	if err != nil {
		return Result{}, err
	}
	pklPath, err = WithDefaultExt(pklPath, PklExt)
	if err != nil {
		return Result{}, err
	}

	arrays, err := Convert(global)
	if err != nil {
		return Result{}, err
	}

	if err := e.writeArchive(npzPath, arrays); err != nil {
		return Result{}, err
	}

	rec, err := BuildRecord(arrays, global)
	if err != nil {
		return Result{}, err
	}

	if err := e.writeRecord(pklPath, rec); err != nil {
		return Result{}, err
	}

	frames, err := rec.Frames()
	if err != nil {
		return Result{}, err
	}

	res := Result{
		NpzPath: npzPath,
		PklPath: pklPath,
		Frames:  frames,
		Arrays:  arrays.Names(),
	}
	if res.NpzSize, err = e.size(npzPath); err != nil {
		return Result{}, err
	}
	if res.PklSize, err = e.size(pklPath); err != nil {
		return Result{}, err
	}
	if res.AbsNpzPath, err = filepath.Abs(npzPath); err != nil {
		return Result{}, pkgerrors.WithStack(fmt.Errorf("%w: %w", ErrIO, err))
	}

	e.log.Info().
		Int("frames", frames).
		Str("npz", npzPath).
		Str("pkl", pklPath).
		Msgf("%s Saved %d frames to %s and %s", logTag, frames, npzPath, pklPath)
	return res, nil
}

func (e *Exporter) writeArchive(p string, arrays ArraySet) error {
	return e.writeFile(p, func(f afero.File) error {
		return npz.Write(f, arrays, e.method)
	})
}

func (e *Exporter) writeRecord(p string, rec PredictionRecord) error {
	return e.writeFile(p, func(f afero.File) error {
		return pickle.NewEncoder(f).Encode(rec.Pickle())
	})
}

// writeFile creates or truncates p and hands it to write.
func (e *Exporter) writeFile(p string, write func(afero.File) error) (err error) {
	f, err := e.fs.OpenFile(p, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return pkgerrors.WithStack(fmt.Errorf("%w: %w", ErrIO, err))
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = pkgerrors.WithStack(fmt.Errorf("%w: close %s: %w", ErrIO, p, cerr))
		}
	}()

	if err := write(f); err != nil {
		if isEncodingError(err) {
			return pkgerrors.WithStack(fmt.Errorf("encode %s: %w", p, err))
		}
		return pkgerrors.WithStack(fmt.Errorf("%w: write %s: %w", ErrIO, p, err))
	}
	return nil
}

// isEncodingError reports errors raised by the codecs rather than the file.
func isEncodingError(err error) bool {
	return errors.Is(err, npz.ErrInvalidName) || errors.Is(err, pickle.ErrUnsupportedType)
}

func (e *Exporter) size(p string) (int64, error) {
	info, err := e.fs.Stat(p)
	if err != nil {
		return 0, pkgerrors.WithStack(fmt.Errorf("%w: %w", ErrIO, err))
	}
	return info.Size(), nil
}

// WithDefaultExt appends ext when the final element of p has no suffix.
// A suffix is a dot followed by at least one character in a name that does
// not start with that dot, so ".hidden" and "motion" both gain ext.
func WithDefaultExt(p, ext string) (string, error) {
	base := filepath.Base(p)
	if p == "" || base == "." || base == ".." || base == string(filepath.Separator) {
		return "", pkgerrors.WithStack(fmt.Errorf("%w: path %q has an empty name", ErrValidation, p))
	}
	if hasSuffix(base) {
		return p, nil
	}
	return strings.TrimRight(p, string(filepath.Separator)) + ext, nil
}

func hasSuffix(name string) bool {
	i := strings.LastIndexByte(name, '.')
	return i > 0 && i < len(name)-1
}
