package cli

import "errors"

// CLI-specific sentinel errors.
// These are validation/usage errors that don't belong to domain packages.

var (
	// ErrFileNotFound indicates the specified input file does not exist.
	ErrFileNotFound = errors.New("file not found")

	// ErrExportFailed indicates the SaveSMPL node reported a failure.
	ErrExportFailed = errors.New("export failed")

	// ErrDuplicateOutput indicates two batch inputs mapping to the same output.
	ErrDuplicateOutput = errors.New("duplicate output path")

	// ErrUnsupportedFormat indicates an inspect target with an unknown extension.
	ErrUnsupportedFormat = errors.New("unsupported file format")
)
