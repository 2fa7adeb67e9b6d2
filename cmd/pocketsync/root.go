package main

import (
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "pocketsync",
	Short: "Offline-first sync engine",
	Long: `pocketsync keeps a local durable store in sync with a remote backend.

Application data written while disconnected is persisted locally and queued;
a background reconciliation process pushes it to the backend once
connectivity returns. Conflicts resolve last-local-write-wins; remote pushes
are expected to be idempotent upserts.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
}
