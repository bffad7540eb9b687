package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func NewModelsCmd(global *GlobalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Manage stored models",
	}

	cmd.AddCommand(newModelsListCmd(global))
	cmd.AddCommand(newModelsDeleteCmd(global))
	return cmd
}

func newModelsListCmd(global *GlobalOptions) *cobra.Command {
	var (
		prefix string
		format string
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List stored models",
		Example: `  tsforecast models list --prefix load/`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			e, err := global.load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			store, err := e.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			infos, err := store.List(ctx, prefix)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if strings.EqualFold(format, "json") {
				return writeJSON(out, infos)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tSIZE\tUPDATED")
			for _, info := range infos {
				fmt.Fprintf(tw, "%s\t%d\t%s\n", info.Key, info.Size, info.UpdatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&prefix, "prefix", "", "Only list keys with this prefix")
	cmd.Flags().StringVar(&format, "format", "text", "Output format (text, json)")
	return cmd
}

func newModelsDeleteCmd(global *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "delete KEY [KEY...]",
		Aliases: []string{"rm"},
		Short:   "Delete stored models",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := global.load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			store, err := e.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			for _, key := range args {
				if err := store.Delete(ctx, key); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", key)
			}
			return nil
		},
	}
}
