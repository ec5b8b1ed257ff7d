package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"popcornstream/internal/storage/disk"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or empty the torrent cache",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove downloaded torrent data",
	Long: `clear removes everything under the data directory except fetched
.torrent files. It refuses to run while a server or another popcornctl holds
the directory.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")

		lock, ok, err := disk.AcquireDirLock(dataDir)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("data dir %s is in use by another instance", dataDir)
		}
		defer lock.Release()

		cacheDir := filepath.Join(dataDir, ".torrents")
		cleaner := disk.Cleaner{
			Dir:       dataDir,
			Protected: func() []string { return []string{cacheDir} },
			Logger:    newLogger(cmd),
		}
		freed, err := cleaner.Clear(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "freed %s\n", humanBytes(freed))
		return nil
	},
}

var cacheFreeCmd = &cobra.Command{
	Use:   "free",
	Short: "Print free space on the data volume",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		free, err := disk.FreeBytes(dataDir)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s free\n", humanBytes(free))
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheClearCmd, cacheFreeCmd)
	rootCmd.AddCommand(cacheCmd)
}
