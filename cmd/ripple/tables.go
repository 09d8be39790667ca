package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var tablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "List the tables registered from the config file and --table",
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

		names := mgr.TableNames()
		if len(names) == 0 {
			fmt.Println("no tables registered (pass --table name[:priority])")
			return nil
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	},
}
