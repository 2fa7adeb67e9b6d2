package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pocketsync/pocketsync/internal/config"
	"github.com/pocketsync/pocketsync/internal/store"
)

var deadletterCmd = &cobra.Command{
	Use:   "deadletter",
	Short: "Inspect and requeue dead-lettered actions",
}

var deadletterListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead-lettered actions",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		letters, err := db.DeadLetters(context.Background())
		if err != nil {
			return err
		}

		if len(letters) == 0 {
			fmt.Println("No dead letters")
			return nil
		}

		for _, dl := range letters {
			fmt.Printf("%s  %s  retries=%d  failed=%s\n  reason: %s\n",
				dl.ID, dl.Kind, dl.RetryCount,
				dl.FailedAt.Format("2006-01-02 15:04:05"), dl.Reason)
		}
		return nil
	},
}

var deadletterRequeueCmd = &cobra.Command{
	Use:   "requeue <id>",
	Short: "Move a dead letter back into the live queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.RequeueDeadLetter(context.Background(), args[0]); err != nil {
			return fmt.Errorf("requeue %s: %w", args[0], err)
		}

		fmt.Printf("Requeued %s\n", args[0])
		return nil
	},
}

func openStore() (*store.DB, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	if err := db.InitSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return db, nil
}

func init() {
	deadletterCmd.AddCommand(deadletterListCmd)
	deadletterCmd.AddCommand(deadletterRequeueCmd)
	rootCmd.AddCommand(deadletterCmd)
}
