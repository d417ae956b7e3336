// Command labexec serves the lab protocol execution API and offers operator
// tooling over the same configuration.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"labexec/internal/config"
)

var exitFunc = os.Exit

type rootOptions struct {
	configPath string
	envFiles   []string
}

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		exitFunc(1)
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "labexec",
		Short:         "Lab protocol execution engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv("LABEXEC_CONFIG"), "YAML config file")
	root.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", []string{".env"}, ".env files to read (missing files are skipped)")

	root.AddCommand(
		newServeCmd(opts),
		newProtocolsCmd(opts),
		newExecutionsCmd(opts),
		newEventsCmd(opts),
	)
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fmt.Errorf("%w\n\n%s", err, cmd.UsageString())
	})
	return root
}

func (o *rootOptions) load() (*config.Config, error) {
	return config.Load(o.configPath, o.envFiles...)
}
