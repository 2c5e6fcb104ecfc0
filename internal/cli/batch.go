package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/alnah/smplexport/internal/format"
	"github.com/alnah/smplexport/internal/smpl"
)

// Parallelism bounds for batch exports.
const (
	DefaultParallel = 4
	MaxParallel     = 16
)

// clampParallel constrains the worker count to [1, MaxParallel].
func clampParallel(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxParallel {
		return MaxParallel
	}
	return n
}

// batchJob is one bundle and its derived outputs.
type batchJob struct {
	input string
	npz   string
	pkl   string
}

// batchResult is the outcome of one job. Skipped jobs were never started.
type batchResult struct {
	path    string
	err     error
	skipped bool
}

// planBatch derives disjoint output paths from input names:
// runs/walk.json -> <npzDir>/walk.npz and <pklDir>/walk.pkl.
func planBatch(inputs []string, npzDir, pklDir string) ([]batchJob, error) {
	jobs := make([]batchJob, 0, len(inputs))
	seen := make(map[string]string, len(inputs))
	for _, in := range inputs {
		base := filepath.Base(in)
		stem := strings.TrimSuffix(base, filepath.Ext(base))
		if prev, dup := seen[stem]; dup {
			return nil, fmt.Errorf("%w: %s and %s both export as %q", ErrDuplicateOutput, prev, in, stem)
		}
		seen[stem] = in
		jobs = append(jobs, batchJob{
			input: in,
			npz:   filepath.Join(npzDir, stem+".npz"),
			pkl:   filepath.Join(pklDir, stem+".pkl"),
		})
	}
	return jobs, nil
}

// BatchCmd creates the batch command.
// The env parameter provides injectable dependencies for testing.
func BatchCmd(env *Env) *cobra.Command {
	var (
		npzDir   string
		pklDir   string
		parallel int
		method   methodFlag
	)

	cmd := &cobra.Command{
		Use:   "batch <bundle>...",
		Short: "Export many bundles in parallel",
		Long: `Export several SMPL parameter bundles concurrently.

Each bundle <name>.json or <name>.npz is written to <npz-dir>/<name>.npz and
<pkl-dir>/<name>.pkl. Two inputs with the same name are rejected.

The first Ctrl+C stops scheduling new exports and lets running ones finish.
A second Ctrl+C within 2 seconds aborts immediately.`,
		Example: `  smplexport batch takes/*.json
  smplexport batch a.json b.json --npz-dir out --pkl-dir out_pkl -j 8`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, env, args, npzDir, pklDir, parallel, method)
		},
	}

	cmd.Flags().StringVar(&npzDir, "npz-dir", "", "Archive output directory (default: directory of npz-output)")
	cmd.Flags().StringVar(&pklDir, "pkl-dir", "", "Record output directory (default: directory of pkl-output)")
	cmd.Flags().IntVarP(&parallel, "parallel", "j", DefaultParallel, fmt.Sprintf("Max concurrent exports (1-%d)", MaxParallel))
	addCompressionFlag(cmd, &method)

	return cmd
}

// runBatch executes one export per input with bounded concurrency.
// Failures are collected, not fatal to the other exports.
func runBatch(cmd *cobra.Command, env *Env, inputs []string, npzDir, pklDir string, parallel int, method methodFlag) error {
	s, err := resolveSettings(cmd, env, "", "", method)
	if err != nil {
		return err
	}
	if npzDir == "" {
		npzDir = filepath.Dir(s.npzOutput)
	}
	if pklDir == "" {
		pklDir = filepath.Dir(s.pklOutput)
	}

	jobs, err := planBatch(inputs, npzDir, pklDir)
	if err != nil {
		return err
	}
	parallel = clampParallel(parallel)

	start := env.Now()
	handler, ctx := env.InterruptFactory(commandContext(cmd))
	defer handler.Stop()

	ex := s.exporter(env)
	results := make([]batchResult, len(jobs))
	var finished atomic.Int32
	sem := make(chan struct{}, parallel)
	var g errgroup.Group

	for i, job := range jobs {
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results[i] = batchResult{skipped: true}
				return nil
			}
			defer func() { <-sem }()

			// A slot can free up after cancellation.
			if ctx.Err() != nil {
				results[i] = batchResult{skipped: true}
				return nil
			}

			path, err := exportOne(ex, env, job)
			results[i] = batchResult{path: path, err: err}
			n := finished.Add(1)
			status := "ok"
			if err != nil {
				status = "failed"
			}
			_, _ = fmt.Fprintf(env.Stderr, "[%d/%d] %s: %s\n", n, len(jobs), job.input, status)
			return nil
		})
	}
	_ = g.Wait()

	return reportBatch(env, jobs, results, handler.WasInterrupted(), env.Now().Sub(start))
}

func commandContext(cmd *cobra.Command) context.Context {
	if cmd != nil && cmd.Context() != nil {
		return cmd.Context()
	}
	return context.Background()
}

func exportOne(ex *smpl.Exporter, env *Env, job batchJob) (string, error) {
	b, err := loadBundle(env.Fs, job.input)
	if err != nil {
		return "", err
	}
	path, _, err := invokeSaveSMPL(ex, b, job.npz, job.pkl)
	return path, err
}

// reportBatch prints one line per job to stdout and summarizes failures.
func reportBatch(env *Env, jobs []batchJob, results []batchResult, interrupted bool, elapsed time.Duration) error {
	var failed, skipped int
	for i, job := range jobs {
		r := results[i]
		switch {
		case r.skipped:
			skipped++
			_, _ = fmt.Fprintf(env.Stdout, "SKIP %s\n", job.input)
		case r.err != nil:
			failed++
			_, _ = fmt.Fprintf(env.Stdout, "FAIL %s: %v\n", job.input, r.err)
		default:
			_, _ = fmt.Fprintf(env.Stdout, "OK   %s -> %s\n", job.input, r.path)
		}
	}

	done := len(jobs) - skipped
	_, _ = fmt.Fprintf(env.Stderr, "Done: %d ok, %d failed, %d skipped in %s\n",
		done-failed, failed, skipped, format.Duration(elapsed))
	if interrupted && skipped > 0 {
		return fmt.Errorf("batch interrupted after %d of %d exports: %w", done, len(jobs), context.Canceled)
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d bundles failed", ErrExportFailed, failed, len(jobs))
	}
	return nil
}
