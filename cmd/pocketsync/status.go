package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pocketsync/pocketsync/internal/config"
	"github.com/pocketsync/pocketsync/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show offline store status",
	Long: `Display the current state of the local offline store.

Shows:
  - Store file location and size
  - Cached record counts (total and unsynced)
  - Queued action and dead-letter counts`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		info, err := os.Stat(cfg.DBPath)
		if os.IsNotExist(err) {
			fmt.Printf("Offline store not initialized (%s)\n", cfg.DBPath)
			fmt.Println("Run 'pocketsync daemon' to create it")
			return nil
		}
		if err != nil {
			return fmt.Errorf("checking store: %w", err)
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
		total, err := db.RecordCount(ctx)
		if err != nil {
			return err
		}
		unsynced, err := db.UnsyncedCount(ctx)
		if err != nil {
			return err
		}
		pending, err := db.ActionCount(ctx)
		if err != nil {
			return err
		}
		dead, err := db.DeadLetters(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("\nOffline Store Status\n\n")
		fmt.Printf("Location:        %s\n", cfg.DBPath)
		fmt.Printf("Size:            %s\n", formatSize(info.Size()))
		fmt.Printf("Records:         %d (%d unsynced)\n", total, unsynced)
		fmt.Printf("Pending actions: %d\n", pending)
		fmt.Printf("Dead letters:    %d\n", len(dead))
		fmt.Printf("Modified:        %s\n\n", info.ModTime().Format("2006-01-02 15:04:05"))
		return nil
	},
}

func formatSize(size int64) string {
	switch {
	case size > 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
	case size > 1024:
		return fmt.Sprintf("%.1f KB", float64(size)/1024)
	default:
		return fmt.Sprintf("%d bytes", size)
	}
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
