package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/service"
)

func newCheckpointsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoints",
		Short: "Inspect and prune persisted threads",
	}

	var full bool
	show := &cobra.Command{
		Use:   "show <thread-id>",
		Short: "Show the latest checkpoint of a thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := c.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			view, err := service.InspectThread(cmd.Context(), store, args[0])
			if err != nil {
				return err
			}
			if !full {
				view.State = nil
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(view)
		},
	}
	show.Flags().BoolVar(&full, "full", false, "include the full serialized state")

	list := &cobra.Command{
		Use:   "list <thread-id>",
		Short: "List every checkpoint of a thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := c.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			infos, err := store.List(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SEQ\tCREATED\tBYTES")
			for _, info := range infos {
				fmt.Fprintf(tw, "%d\t%s\t%d\n", info.Sequence, info.CreatedAt.Format(time.RFC3339), info.Size)
			}
			return tw.Flush()
		},
	}

	del := &cobra.Command{
		Use:   "delete <thread-id>",
		Short: "Delete every checkpoint of a thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := c.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()
			return store.DeleteThread(cmd.Context(), args[0])
		},
	}

	cmd.AddCommand(show, list, del)
	return cmd
}
