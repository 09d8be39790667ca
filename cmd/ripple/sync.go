package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync <table>",
	Short: "Run one synchronous upload-then-download cycle for a table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := appConfigFromCmd(cmd)
		if err != nil {
			return err
		}
		table := args[0]

		ctx := context.Background()
		mgr, closer, err := buildManager(ctx, cfg)
		if err != nil {
			return err
		}
		defer closer()

		result, err := mgr.SyncTable(ctx, table)
		if err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}

		fmt.Printf("table:       %s\n", result.TableName)
		fmt.Printf("success:     %v\n", result.Success)
		fmt.Printf("rows synced: %d\n", result.RowsSynced)
		fmt.Printf("conflicts:   %d\n", result.ConflictsResolved)
		fmt.Printf("duration:    %s\n", result.Duration)
		for _, e := range result.Errors {
			fmt.Printf("error:       %s\n", e)
		}
		return nil
	},
}
