package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newLogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show recent auth, transfer, and network events",
		Args:  cobra.NoArgs,
		RunE:  withApp(runLog),
	}

	cmd.Flags().IntP("limit", "n", 20, "number of entries to show")

	return cmd
}

func runLog(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
	limit, _ := cmd.Flags().GetInt("limit")

	entries, err := a.sink.Recent(ctx, limit)
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "(no entries)")
		return nil
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			e.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			string(e.Category),
			e.Source,
			e.Message,
		})
	}

	printTable(cmd.OutOrStdout(), []string{"TIME", "CATEGORY", "SOURCE", "MESSAGE"}, rows)

	return nil
}
