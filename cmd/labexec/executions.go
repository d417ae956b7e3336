package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"labexec/internal/core"
)

func newExecutionsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "executions",
		Aliases: []string{"exec"},
		Short:   "Read executions from the configured store",
	}

	var study string
	list := &cobra.Command{
		Use:   "list",
		Short: "List executions of a study",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, closeStore, err := openReadService(cmd, opts)
			if err != nil {
				return err
			}
			defer closeStore()
			rows, err := svc.ListByStudy(cmd.Context(), study)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPROTOCOL\tSTATUS\tSAMPLES\tVERSION\tCREATED")
			for _, r := range rows {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n", r.ID, r.ProtocolID, r.Status, r.SampleCount, r.Version, r.CreatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
	list.Flags().StringVar(&study, "study", "", "study id")
	_ = list.MarkFlagRequired("study")

	show := &cobra.Command{
		Use:   "show <execution-id>",
		Short: "Print an execution with derived progress as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeStore, err := openReadService(cmd, opts)
			if err != nil {
				return err
			}
			defer closeStore()
			view, err := svc.View(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), view)
		},
	}

	cmd.AddCommand(list, show)
	return cmd
}

// openReadService opens only the execution store; reads need no archive,
// bus or catalog.
func openReadService(cmd *cobra.Command, opts *rootOptions) (*core.Service, func(), error) {
	cfg, err := opts.load()
	if err != nil {
		return nil, nil, err
	}
	store, err := core.OpenPersistentStore(cmd.Context(), cfg.StorageOptions())
	if err != nil {
		return nil, nil, err
	}
	closeStore := func() {
		if c, ok := store.(io.Closer); ok {
			_ = c.Close()
		}
	}
	return core.NewService(store), closeStore, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
