package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print local storage usage and cached row counts per table",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := appConfigFromCmd(cmd)
		if err != nil {
			return err
		}

		ctx := context.Background()
		mgr, closer, err := buildManager(ctx, cfg)
		if err != nil {
			return err
		}
		defer closer()

		stats, err := mgr.CacheStats(ctx)
		if err != nil {
			return fmt.Errorf("failed to read cache stats: %w", err)
		}

		fmt.Printf("storage used:  %d bytes\n", stats.UsedBytes)
		fmt.Printf("storage quota: %d bytes\n", stats.QuotaBytes)
		fmt.Println()
		fmt.Printf("%-24s %s\n", "TABLE", "ROWS")
		for table, count := range stats.RowsByTable {
			fmt.Printf("%-24s %d\n", table, count)
		}
		return nil
	},
}
