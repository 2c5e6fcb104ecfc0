package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alnah/smplexport/internal/node"
)

// NodesCmd creates the nodes command.
func NodesCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "nodes",
		Short: "List the graph nodes provided by this tool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runNodes(env)
			return nil
		},
	}
}

func runNodes(env *Env) {
	for _, d := range node.All() {
		kind := ""
		if d.Output {
			kind = " [output]"
		}
		_, _ = fmt.Fprintf(env.Stdout, "%s (%s) - %s%s\n", d.ID, d.DisplayName, d.Category, kind)
		_, _ = fmt.Fprintln(env.Stdout, "  inputs:")
		for _, in := range d.Inputs {
			def := ""
			if in.Default != "" {
				def = fmt.Sprintf(" = %q", in.Default)
			}
			_, _ = fmt.Fprintf(env.Stdout, "    %s: %s%s\n", in.Name, in.Type, def)
		}
		outs := make([]string, len(d.ReturnNames))
		for i, name := range d.ReturnNames {
			outs[i] = name + ": " + d.ReturnTypes[i]
		}
		_, _ = fmt.Fprintf(env.Stdout, "  returns: %s\n", strings.Join(outs, ", "))
	}
}
