package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"labexec/internal/catalog"
)

func newProtocolsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "protocols",
		Short: "Inspect the protocol catalog",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate [dir]",
		Short: "Parse and validate every protocol file in a directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := catalogDir(opts, args)
			if err != nil {
				return err
			}
			cat, err := catalog.Load(dir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d protocol versions valid in %s\n", len(cat.List()), dir)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list [dir]",
		Short: "List protocols in the catalog",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := catalogDir(opts, args)
			if err != nil {
				return err
			}
			cat, err := catalog.Load(dir)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tVERSION\tSTEPS\tTITLE")
			for _, p := range cat.List() {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", p.ID, p.Version, p.StepCount, p.Title)
			}
			return w.Flush()
		},
	})
	return cmd
}

func catalogDir(opts *rootOptions, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	cfg, err := opts.load()
	if err != nil {
		return "", err
	}
	return cfg.Catalog.Path, nil
}
