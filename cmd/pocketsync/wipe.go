package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pocketsync/pocketsync/internal/config"
	"github.com/pocketsync/pocketsync/internal/store"
)

var wipeForce bool

var wipeCmd = &cobra.Command{
	Use:   "wipe",
	Short: "Delete all locally cached data",
	Long: `Delete all cached records, queued actions, and dead letters.

This is the explicit user-initiated data wipe. Anything not yet pushed to
the backend is lost. The sync path never performs this operation.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !wipeForce {
			return fmt.Errorf("refusing to wipe without --force")
		}

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		db, err := store.Open(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("opening store: %w", err)
		}
		defer db.Close()

		if err := db.InitSchema(); err != nil {
			return fmt.Errorf("initializing schema: %w", err)
		}

		ctx := context.Background()
		if err := db.ClearRecords(ctx); err != nil {
			return err
		}
		if err := db.ClearActions(ctx); err != nil {
			return err
		}
		if err := db.ClearDeadLetters(ctx); err != nil {
			return err
		}

		fmt.Println("Offline data wiped")
		return nil
	},
}

func init() {
	wipeCmd.Flags().BoolVar(&wipeForce, "force", false, "confirm deletion of all local data")
	rootCmd.AddCommand(wipeCmd)
}
