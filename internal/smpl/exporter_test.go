package smpl_test

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"

	"github.com/alnah/smplexport/internal/logging"
	"github.com/alnah/smplexport/internal/npz"
	"github.com/alnah/smplexport/internal/pickle"
	"github.com/alnah/smplexport/internal/smpl"
	"github.com/alnah/smplexport/internal/tensor"
)

// Notes:
// - Most tests run on afero.MemMapFs; directory creation and absolute paths
//   are also checked once against the OS filesystem in t.TempDir().
// - failingFs simulates a disk error on one of the two outputs.

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func ramp(n int, scale float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i) * scale
	}
	return out
}

// mustArray fails the test when a constructor returns an error:
// mustArray(t)(tensor.FromFloat64s(shape, data)).
func mustArray(t *testing.T) func(tensor.Array, error) tensor.Array {
	t.Helper()
	return func(arr tensor.Array, err error) tensor.Array {
		t.Helper()
		if err != nil {
			t.Fatalf("building array: %v", err)
		}
		return arr
	}
}

// motion returns a bundle of plain arrays for frames samples and the
// arrays expected back from disk.
func motion(t *testing.T, frames int) (smpl.ParameterBundle, map[string]tensor.Array) {
	t.Helper()

	orient := make([][]float64, frames)
	for i := range orient {
		orient[i] = []float64{float64(i), 0.5, -0.25}
	}
	want := map[string]tensor.Array{
		smpl.KeyBodyPose:     mustArray(t)(tensor.FromFloat64s([]int{frames, 24, 3}, ramp(frames*24*3, 0.01))),
		smpl.KeyGlobalOrient: mustArray(t)(tensor.FromFloat64s([]int{frames, 3}, flatten(orient))),
		smpl.KeyTransl:       mustArray(t)(tensor.FromFloat32s([]int{frames, 3}, make([]float32, frames*3))),
		smpl.KeyBetas:        mustArray(t)(tensor.FromFloat64s([]int{10}, ramp(10, 0.1))),
	}
	bundle := smpl.ParameterBundle{
		smpl.NamespaceGlobal: smpl.ParameterSet{
			smpl.KeyBodyPose:     tensor.Plain(want[smpl.KeyBodyPose]),
			smpl.KeyGlobalOrient: tensor.Plain(orient),
			smpl.KeyTransl:       want[smpl.KeyTransl],
			smpl.KeyBetas:        tensor.Plain(ramp(10, 0.1)),
		},
	}
	return bundle, want
}

func flatten(rows [][]float64) []float64 {
	var out []float64
	for _, r := range rows {
		out = append(out, r...)
	}
	return out
}

func readNpz(t *testing.T, fs afero.Fs, p string) npz.Archive {
	t.Helper()
	f, err := fs.Open(p)
	if err != nil {
		t.Fatalf("open %s: %v", p, err)
	}
	defer func() { _ = f.Close() }()
	info, err := f.Stat()
	if err != nil {
		t.Fatalf("stat %s: %v", p, err)
	}
	a, err := npz.Read(f, info.Size())
	if err != nil {
		t.Fatalf("npz.Read(%s): %v", p, err)
	}
	return a
}

func readRecord(t *testing.T, fs afero.Fs, p string) smpl.PredictionRecord {
	t.Helper()
	f, err := fs.Open(p)
	if err != nil {
		t.Fatalf("open %s: %v", p, err)
	}
	defer func() { _ = f.Close() }()
	v, err := pickle.Load(f)
	if err != nil {
		t.Fatalf("pickle.Load(%s): %v", p, err)
	}
	rec, err := smpl.RecordFromPickle(v)
	if err != nil {
		t.Fatalf("RecordFromPickle: %v", err)
	}
	return rec
}

var errDiskFull = errors.New("disk full")

// failingFs fails OpenFile for names with the given suffix.
type failingFs struct {
	afero.Fs
	suffix string
}

func (f failingFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if strings.HasSuffix(name, f.suffix) {
		return nil, &os.PathError{Op: "open", Path: name, Err: errDiskFull}
	}
	return f.Fs.OpenFile(name, flag, perm)
}

// ---------------------------------------------------------------------------
// Save: round trip and record invariants
// ---------------------------------------------------------------------------

func TestSave_RoundTrip(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	bundle, want := motion(t, 5)
	ex := smpl.NewExporter(smpl.WithFs(fs))

	res, err := ex.Save(bundle, "output/motion.npz", "output_pkl/motion.pkl")
	if err != nil {
		t.Fatalf("Save() unexpected error: %v", err)
	}
	if res.Frames != 5 {
		t.Errorf("Frames = %d, want 5", res.Frames)
	}

	archive := readNpz(t, fs, "output/motion.npz")
	if diff := cmp.Diff(want, archive.Arrays); diff != "" {
		t.Errorf("npz arrays mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(res.Arrays, archive.Names); diff != "" {
		t.Errorf("member order mismatch (-result +archive):\n%s", diff)
	}

	rec := readRecord(t, fs, "output_pkl/motion.pkl")
	if diff := cmp.Diff(want, rec.Global); diff != "" {
		t.Errorf("smpl_params_global mismatch (-want +got):\n%s", diff)
	}
	if n, err := rec.Frames(); err != nil || n != 5 {
		t.Errorf("record Frames() = %d, %v; want 5", n, err)
	}
}

func TestSave_NamespacesIdentical(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	bundle, _ := motion(t, 3)
	// Extra keys go to the archive only.
	bundle[smpl.NamespaceGlobal]["gender"] = tensor.Plain([]int{1})

	if _, err := smpl.NewExporter(smpl.WithFs(fs)).Save(bundle, "a.npz", "a.pkl"); err != nil {
		t.Fatalf("Save() unexpected error: %v", err)
	}

	rec := readRecord(t, fs, "a.pkl")
	if err := rec.Verify(); err != nil {
		t.Errorf("Verify() = %v", err)
	}
	if diff := cmp.Diff(rec.Global, rec.Incam); diff != "" {
		t.Errorf("global and incam differ (-global +incam):\n%s", diff)
	}
	raw, err := afero.ReadFile(fs, "a.pkl")
	if err != nil {
		t.Fatalf("read a.pkl: %v", err)
	}
	if n := bytes.Count(raw, rec.Global[smpl.KeyBodyPose].Data); n != 1 {
		t.Errorf("body_pose buffer stored %d times in the record, want 1", n)
	}
	if _, ok := rec.Global["gender"]; ok {
		t.Error("record contains non-required key gender")
	}
	if _, ok := readNpz(t, fs, "a.npz").Arrays["gender"]; !ok {
		t.Error("archive is missing extra key gender")
	}
}

func TestSave_TensorInputs(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	_, want := motion(t, 4)
	set := smpl.ParameterSet{}
	for key, arr := range want {
		tb := tensor.NewTensor(arr, "cuda:0", true)
		grad := arr.Clone()
		tb.Grad = &grad
		set[key] = tb
	}
	bundle := smpl.ParameterBundle{smpl.NamespaceGlobal: set}

	res, err := smpl.NewExporter(smpl.WithFs(fs)).Save(bundle, "t.npz", "t.pkl")
	if err != nil {
		t.Fatalf("Save() unexpected error: %v", err)
	}
	if res.Frames != 4 {
		t.Errorf("Frames = %d, want 4", res.Frames)
	}
	if diff := cmp.Diff(want, readNpz(t, fs, "t.npz").Arrays); diff != "" {
		t.Errorf("npz arrays mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, readRecord(t, fs, "t.pkl").Incam); diff != "" {
		t.Errorf("incam mismatch (-want +got):\n%s", diff)
	}
}

func TestSave_StoreMethod(t *testing.T) {
	t.Parallel()

	bundle, _ := motion(t, 20)
	sizes := map[npz.Method]int64{}
	for _, m := range npz.Methods {
		fs := afero.NewMemMapFs()
		res, err := smpl.NewExporter(smpl.WithFs(fs), smpl.WithMethod(m)).Save(bundle, "m.npz", "m.pkl")
		if err != nil {
			t.Fatalf("Save(%s) unexpected error: %v", m, err)
		}
		sizes[m] = res.NpzSize
	}
	if sizes[npz.Deflate] >= sizes[npz.Store] {
		t.Errorf("deflate size %d, want smaller than store size %d", sizes[npz.Deflate], sizes[npz.Store])
	}
}

// ---------------------------------------------------------------------------
// Save: paths
// ---------------------------------------------------------------------------

func TestSave_DefaultExtensions(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	bundle, _ := motion(t, 2)

	res, err := smpl.NewExporter(smpl.WithFs(fs)).Save(bundle, "output/motion", "output_pkl/motion")
	if err != nil {
		t.Fatalf("Save() unexpected error: %v", err)
	}
	if res.NpzPath != "output/motion.npz" || res.PklPath != "output_pkl/motion.pkl" {
		t.Errorf("paths = %q, %q; want default extensions", res.NpzPath, res.PklPath)
	}
	for _, p := range []string{"output/motion.npz", "output_pkl/motion.pkl"} {
		if ok, _ := afero.Exists(fs, p); !ok {
			t.Errorf("%s not written", p)
		}
	}
}

func TestSave_CreatesDirectories(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	npzPath := filepath.Join(dir, "a", "b", "c", "motion.npz")
	pklPath := filepath.Join(dir, "x", "y", "motion.pkl")
	bundle, _ := motion(t, 2)
	ex := smpl.NewExporter()

	res, err := ex.Save(bundle, npzPath, pklPath)
	if err != nil {
		t.Fatalf("Save() unexpected error: %v", err)
	}
	if res.AbsNpzPath != npzPath {
		t.Errorf("AbsNpzPath = %q, want %q", res.AbsNpzPath, npzPath)
	}
	for _, p := range []string{npzPath, pklPath} {
		info, err := os.Stat(p)
		if err != nil {
			t.Fatalf("stat %s: %v", p, err)
		}
		if info.Size() == 0 {
			t.Errorf("%s is empty", p)
		}
	}

	// Existing directories and files are fine.
	if _, err := ex.Save(bundle, npzPath, pklPath); err != nil {
		t.Errorf("second Save() unexpected error: %v", err)
	}
}

func TestWithDefaultExt(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"motion", "motion.npz", false},
		{"out/motion", "out/motion.npz", false},
		{"out/motion.npz", "out/motion.npz", false},
		{"out/motion.bin", "out/motion.bin", false},
		{"out/.hidden", "out/.hidden.npz", false},
		{"out/run.v2/motion", "out/run.v2/motion.npz", false},
		{"motion.", "motion..npz", false},
		{"", "", true},
		{".", "", true},
		{"out/..", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := smpl.WithDefaultExt(tt.in, ".npz")
			if (err != nil) != tt.wantErr {
				t.Fatalf("WithDefaultExt(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, smpl.ErrValidation) {
				t.Errorf("WithDefaultExt(%q) error = %v, want %v", tt.in, err, smpl.ErrValidation)
			}
			if got != tt.want {
				t.Errorf("WithDefaultExt(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Save: failures
// ---------------------------------------------------------------------------

func TestSave_MissingGlobal(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	bundle, _ := motion(t, 2)
	bundle[smpl.NamespaceIncam] = bundle[smpl.NamespaceGlobal]
	delete(bundle, smpl.NamespaceGlobal)

	_, err := smpl.NewExporter(smpl.WithFs(fs)).Save(bundle, "output/motion.npz", "output_pkl/motion.pkl")
	if !errors.Is(err, smpl.ErrValidation) {
		t.Fatalf("Save() error = %v, want %v", err, smpl.ErrValidation)
	}
	if !strings.Contains(err.Error(), "global") {
		t.Errorf("error %q does not name the missing key", err)
	}
	for _, p := range []string{"output", "output_pkl"} {
		if ok, _ := afero.Exists(fs, p); ok {
			t.Errorf("%s created on validation failure", p)
		}
	}
}

func TestSave_MissingRequiredKey(t *testing.T) {
	t.Parallel()

	for _, key := range smpl.RequiredKeys {
		t.Run(key, func(t *testing.T) {
			t.Parallel()

			fs := afero.NewMemMapFs()
			bundle, _ := motion(t, 2)
			delete(bundle[smpl.NamespaceGlobal], key)

			_, err := smpl.NewExporter(smpl.WithFs(fs)).Save(bundle, "o/m.npz", "p/m.pkl")
			if !errors.Is(err, smpl.ErrMissingKey) {
				t.Fatalf("Save() error = %v, want %v", err, smpl.ErrMissingKey)
			}
			if !strings.Contains(err.Error(), key) {
				t.Errorf("error %q does not name %s", err, key)
			}
			if ok, _ := afero.Exists(fs, "p/m.pkl"); ok {
				t.Error("pkl written despite missing key")
			}
		})
	}
}

func TestSave_ConversionError(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	bundle, _ := motion(t, 2)
	bundle[smpl.NamespaceGlobal][smpl.KeyBetas] = tensor.Plain([][]float64{{1, 2}, {3}})

	_, err := smpl.NewExporter(smpl.WithFs(fs)).Save(bundle, "o/m.npz", "p/m.pkl")
	if !errors.Is(err, tensor.ErrRagged) {
		t.Fatalf("Save() error = %v, want %v", err, tensor.ErrRagged)
	}
	if ok, _ := afero.Exists(fs, "o/m.npz"); ok {
		t.Error("npz written despite conversion failure")
	}
}

func TestSave_UnsignedOverflow(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	bundle, _ := motion(t, 2)
	bundle[smpl.NamespaceGlobal][smpl.KeyBodyPose] = tensor.Plain([]uint64{1 << 63})

	_, err := smpl.NewExporter(smpl.WithFs(fs)).Save(bundle, "o/m.npz", "p/m.pkl")
	if !errors.Is(err, tensor.ErrOverflow) {
		t.Fatalf("Save() error = %v, want %v", err, tensor.ErrOverflow)
	}
	if ok, _ := afero.Exists(fs, "o/m.npz"); ok {
		t.Error("npz written despite overflowing value")
	}
}

func TestSave_ScalarBodyPose(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	bundle, _ := motion(t, 2)
	bundle[smpl.NamespaceGlobal][smpl.KeyBodyPose] = tensor.Plain(1.0)

	_, err := smpl.NewExporter(smpl.WithFs(fs)).Save(bundle, "o/m.npz", "p/m.pkl")
	if !errors.Is(err, tensor.ErrScalar) {
		t.Fatalf("Save() error = %v, want %v", err, tensor.ErrScalar)
	}
}

func TestSave_IOErrors(t *testing.T) {
	t.Parallel()

	t.Run("read-only filesystem", func(t *testing.T) {
		t.Parallel()
		fs := afero.NewReadOnlyFs(afero.NewMemMapFs())
		bundle, _ := motion(t, 2)
		_, err := smpl.NewExporter(smpl.WithFs(fs)).Save(bundle, "o/m.npz", "p/m.pkl")
		if !errors.Is(err, smpl.ErrIO) {
			t.Errorf("Save() error = %v, want %v", err, smpl.ErrIO)
		}
	})

	t.Run("pkl write fails after npz", func(t *testing.T) {
		t.Parallel()
		mem := afero.NewMemMapFs()
		fs := failingFs{Fs: mem, suffix: ".pkl"}
		bundle, _ := motion(t, 2)

		_, err := smpl.NewExporter(smpl.WithFs(fs)).Save(bundle, "o/m.npz", "p/m.pkl")
		if !errors.Is(err, smpl.ErrIO) || !errors.Is(err, errDiskFull) {
			t.Fatalf("Save() error = %v, want %v wrapping %v", err, smpl.ErrIO, errDiskFull)
		}
		// No rollback: the archive stays behind.
		if ok, _ := afero.Exists(mem, "o/m.npz"); !ok {
			t.Error("npz removed after pkl failure")
		}
	})
}

// ---------------------------------------------------------------------------
// Export: result as data
// ---------------------------------------------------------------------------

func TestExport_Success(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	bundle, _ := motion(t, 5)
	var logs bytes.Buffer
	log, err := logging.New(&logs, logging.LevelInfo)
	if err != nil {
		t.Fatalf("logging.New: %v", err)
	}

	path, info := smpl.NewExporter(smpl.WithFs(fs), smpl.WithLogger(log)).Export(bundle, "output/motion", "output_pkl/motion")

	wantPath, _ := filepath.Abs("output/motion.npz")
	if path != wantPath {
		t.Errorf("path = %q, want %q", path, wantPath)
	}
	npzInfo, _ := fs.Stat("output/motion.npz")
	pklInfo, _ := fs.Stat("output_pkl/motion.pkl")
	wantInfo := fmt.Sprintf("SaveSMPL Complete\nNPZ: output/motion.npz (%.1f KB)\nPKL: output_pkl/motion.pkl (%.1f KB)\nFrames: 5\n",
		float64(npzInfo.Size())/1024, float64(pklInfo.Size())/1024)
	if info != wantInfo {
		t.Errorf("info mismatch (-want +got):\n%s", cmp.Diff(wantInfo, info))
	}

	out := logs.String()
	for _, want := range []string{
		"[SaveSMPL] Saving SMPL motion data (NPZ + PKL)...",
		"[SaveSMPL] Saved 5 frames to output/motion.npz and output_pkl/motion.pkl",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("logs missing %q:\n%s", want, out)
		}
	}
}

func TestExport_Failure(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	var logs bytes.Buffer
	log, err := logging.New(&logs, logging.LevelInfo)
	if err != nil {
		t.Fatalf("logging.New: %v", err)
	}

	path, info := smpl.NewExporter(smpl.WithFs(fs), smpl.WithLogger(log)).
		Export(smpl.ParameterBundle{}, "output/motion.npz", "output_pkl/motion.pkl")

	if path != "" {
		t.Errorf("path = %q, want empty", path)
	}
	if !strings.HasPrefix(info, smpl.FailurePrefix) || !strings.Contains(info, "global") {
		t.Errorf("info = %q, want failure naming global", info)
	}
	out := logs.String()
	if !strings.Contains(out, "ERROR") || !strings.Contains(out, "smpl.(*Exporter).Save") {
		t.Errorf("logs = %q, want error line with stack trace from Save", out)
	}
	if strings.Contains(out, "goroutine ") {
		t.Errorf("logs = %q, want stack recorded where the error was raised", out)
	}
	if ok, _ := afero.Exists(fs, "output"); ok {
		t.Error("output directory created on failure")
	}
}

// panicValue panics on conversion.
type panicValue struct{}

func (panicValue) ToPlainArray() (tensor.Array, error) { panic("device lost") }

func TestExport_RecoversPanic(t *testing.T) {
	t.Parallel()

	bundle := smpl.ParameterBundle{smpl.NamespaceGlobal: smpl.ParameterSet{smpl.KeyBodyPose: panicValue{}}}
	path, info := smpl.NewExporter(smpl.WithFs(afero.NewMemMapFs())).Export(bundle, "a.npz", "a.pkl")
	if path != "" || !strings.Contains(info, "device lost") {
		t.Errorf("Export() = %q, %q; want empty path and panic message", path, info)
	}
}
