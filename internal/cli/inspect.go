package cli

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alnah/smplexport/internal/bundle"
	"github.com/alnah/smplexport/internal/format"
	"github.com/alnah/smplexport/internal/pickle"
	"github.com/alnah/smplexport/internal/smpl"
	"github.com/alnah/smplexport/internal/tensor"
)

// InspectCmd creates the inspect command.
// The env parameter provides injectable dependencies for testing.
func InspectCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <file.npz|file.pkl>",
		Short: "Describe an exported archive or prediction record",
		Long: `Print the arrays stored in an exported file.

For .npz archives every member is listed with its dtype and shape.
For .pkl prediction records both namespaces are listed, checked to hold
identical arrays, and the frame count is reported.`,
		Example: `  smplexport inspect output/motion.npz
  smplexport inspect output_pkl/motion.pkl`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(env, args[0])
		},
	}
}

func runInspect(env *Env, path string) error {
	info, err := env.Fs.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}
	_, _ = fmt.Fprintf(env.Stdout, "%s (%s)\n", path, format.Size(info.Size()))

	switch strings.ToLower(filepath.Ext(path)) {
	case smpl.NpzExt:
		return inspectArchive(env, path)
	case smpl.PklExt:
		return inspectRecord(env, path)
	}
	return fmt.Errorf("%w: %q (want %s or %s)", ErrUnsupportedFormat, path, smpl.NpzExt, smpl.PklExt)
}

func inspectArchive(env *Env, path string) error {
	a, err := bundle.ReadArchive(env.Fs, path)
	if err != nil {
		return err
	}
	for _, name := range a.Names {
		printArray(env.Stdout, "  ", name, a.Arrays[name])
	}
	return nil
}

func inspectRecord(env *Env, path string) error {
	f, err := env.Fs.Open(path)
	if err != nil {
		return fmt.Errorf("open record: %w", err)
	}
	defer func() { _ = f.Close() }()

	v, err := pickle.Load(f)
	if err != nil {
		return err
	}
	rec, err := smpl.RecordFromPickle(v)
	if err != nil {
		return err
	}

	for _, ns := range []struct {
		name   string
		arrays map[string]tensor.Array
	}{
		{smpl.RecordGlobal, rec.Global},
		{smpl.RecordIncam, rec.Incam},
	} {
		_, _ = fmt.Fprintf(env.Stdout, "  %s:\n", ns.name)
		for _, key := range smpl.RequiredKeys {
			if arr, ok := ns.arrays[key]; ok {
				printArray(env.Stdout, "    ", key, arr)
			}
		}
	}

	if err := rec.Verify(); err != nil {
		return err
	}
	frames, err := rec.Frames()
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(env.Stdout, "Frames: %d\n", frames)
	return nil
}

func printArray(w io.Writer, indent, name string, a tensor.Array) {
	_, _ = fmt.Fprintf(w, "%s%-16s %-8s %s\n", indent, name, a.DType, tensor.ShapeString(a.Shape))
}
