package cli

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/alnah/smplexport/internal/config"
	"github.com/alnah/smplexport/internal/logging"
	"github.com/alnah/smplexport/internal/npz"
	"github.com/alnah/smplexport/internal/smpl"
)

// FlagLogLevel is the persistent root flag selecting the log level.
const FlagLogLevel = "log-level"

// AddGlobalFlags registers flags shared by every subcommand.
func AddGlobalFlags(root *cobra.Command) {
	root.PersistentFlags().String(FlagLogLevel, "",
		fmt.Sprintf("Log level: %s (default %s)", strings.Join(logging.Levels, ", "), logging.DefaultLevel))
}

// methodFlag is a pflag.Value for --compression. The zero value means
// "not given on the command line".
type methodFlag struct {
	method npz.Method
}

func (f *methodFlag) String() string { return string(f.method) }

func (f *methodFlag) Set(s string) error {
	m, err := npz.ParseMethod(s)
	if err != nil {
		return err
	}
	f.method = m
	return nil
}

func (f *methodFlag) Type() string { return "method" }

var _ pflag.Value = (*methodFlag)(nil)

func addCompressionFlag(cmd *cobra.Command, f *methodFlag) {
	names := make([]string, len(npz.Methods))
	for i, m := range npz.Methods {
		names[i] = string(m)
	}
	cmd.Flags().Var(f, "compression",
		fmt.Sprintf("Archive compression: %s (default %s)", strings.Join(names, ", "), npz.DefaultMethod))
}

// settings are the effective options of one command run.
type settings struct {
	npzOutput string
	pklOutput string
	method    npz.Method
	log       zerolog.Logger
}

// resolveSettings merges flags, the config file, environment fallbacks and
// built-in defaults, in that order of precedence.
func resolveSettings(cmd *cobra.Command, env *Env, npzFlag, pklFlag string, method methodFlag) (settings, error) {
	cfg, err := env.ConfigLoader.Load()
	if err != nil {
		_, _ = fmt.Fprintf(env.Stderr, "Warning: failed to load config: %v\n", err)
		cfg = config.Config{}
	}

	level := config.Resolve(logLevelFlag(cmd), cfg.LogLevel, logging.DefaultLevel)
	log, err := logging.New(env.Stderr, level)
	if err != nil {
		return settings{}, err
	}

	s := settings{
		npzOutput: config.ExpandPath(config.Resolve(npzFlag, cfg.NpzOutput, config.DefaultNpzOutput)),
		pklOutput: config.ExpandPath(config.Resolve(pklFlag, cfg.PklOutput, config.DefaultPklOutput)),
		method:    method.method,
		log:       log,
	}
	if s.method == "" {
		m, err := npz.ParseMethod(cfg.Compression)
		if err != nil {
			return settings{}, fmt.Errorf("%s: %w: %w", config.KeyCompression, config.ErrInvalidValue, err)
		}
		s.method = m
	}
	return s, nil
}

func logLevelFlag(cmd *cobra.Command) string {
	if cmd == nil {
		return ""
	}
	if f := cmd.Flags().Lookup(FlagLogLevel); f != nil {
		return f.Value.String()
	}
	return ""
}

func (s settings) exporter(env *Env) *smpl.Exporter {
	return smpl.NewExporter(
		smpl.WithFs(env.Fs),
		smpl.WithLogger(s.log),
		smpl.WithMethod(s.method),
	)
}
