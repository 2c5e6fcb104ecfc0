package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/alnah/smplexport/internal/bundle"
	"github.com/alnah/smplexport/internal/node"
	"github.com/alnah/smplexport/internal/smpl"
)

// ExportCmd creates the export command.
// The env parameter provides injectable dependencies for testing.
func ExportCmd(env *Env) *cobra.Command {
	var (
		npzOut string
		pklOut string
		method methodFlag
	)

	cmd := &cobra.Command{
		Use:   "export <bundle>",
		Short: "Export an SMPL parameter bundle to .npz and .pkl",
		Long: `Export an SMPL parameter bundle through the SaveSMPL node.

The bundle is a JSON document or an .npz archive. Its "global" namespace must
hold body_pose, global_orient, transl and betas. Every global parameter is
written to the .npz archive; the four required ones are also written to the
.pkl prediction record under smpl_params_global and smpl_params_incam.

Paths without an extension get .npz / .pkl. Missing directories are created
and existing files are replaced.`,
		Example: `  smplexport export motion.json
  smplexport export motion.json -n out/run1 -p out_pkl/run1
  smplexport export motion.npz --compression store`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd, env, args[0], npzOut, pklOut, method)
		},
	}

	cmd.Flags().StringVarP(&npzOut, "npz", "n", "", "Archive output path (default: output/motion.npz)")
	cmd.Flags().StringVarP(&pklOut, "pkl", "p", "", "Prediction record output path (default: output_pkl/motion.pkl)")
	addCompressionFlag(cmd, &method)

	return cmd
}

// runExport loads the bundle and invokes the SaveSMPL node.
func runExport(cmd *cobra.Command, env *Env, input, npzOut, pklOut string, method methodFlag) error {
	s, err := resolveSettings(cmd, env, npzOut, pklOut, method)
	if err != nil {
		return err
	}

	b, err := loadBundle(env.Fs, input)
	if err != nil {
		return err
	}

	path, info, err := invokeSaveSMPL(s.exporter(env), b, s.npzOutput, s.pklOutput)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintln(env.Stdout, path)
	_, _ = fmt.Fprint(env.Stdout, info)
	return nil
}

// loadBundle reads a bundle, mapping a missing file to ErrFileNotFound.
func loadBundle(fs afero.Fs, input string) (smpl.ParameterBundle, error) {
	if _, err := fs.Stat(input); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, input)
		}
		return nil, fmt.Errorf("cannot access input file: %w", err)
	}
	return bundle.Load(fs, input)
}

// invokeSaveSMPL runs the node and turns a reported failure into
// ErrExportFailed.
func invokeSaveSMPL(ex *smpl.Exporter, b smpl.ParameterBundle, npzOut, pklOut string) (string, string, error) {
	out, err := node.Invoke(node.Runtime{Exporter: ex}, node.SaveSMPLID, map[string]any{
		node.InputSMPLParams: b,
		node.InputNpzOutput:  npzOut,
		node.InputPklOutput:  pklOut,
	})
	if err != nil {
		return "", "", err
	}
	path, _ := out[0].(string)
	info, _ := out[1].(string)
	if path == "" {
		return "", "", fmt.Errorf("%w: %s", ErrExportFailed, strings.TrimPrefix(info, smpl.FailurePrefix))
	}
	return path, info, nil
}
