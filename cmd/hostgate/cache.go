package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/caffeineduck/hostgate/executor"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Compilation cache management commands",
}

var cacheDirCmd = &cobra.Command{
	Use:   "dir",
	Short: "Print the compilation cache directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), cacheDir(cmd))
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cached compiled module",
	Args:  cobra.NoArgs,
	RunE:  runCacheClear,
}

func init() {
	cacheCmd.PersistentFlags().String("dir", "", "Cache directory (default: "+executor.DefaultCacheDir()+")")
	cacheCmd.AddCommand(cacheDirCmd, cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}

func cacheDir(cmd *cobra.Command) string {
	if dir, _ := cmd.Flags().GetString("dir"); dir != "" {
		return dir
	}
	return executor.DefaultCacheDir()
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	dir := cacheDir(cmd)
	if err := os.RemoveAll(dir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Cache cleared.")
	return nil
}
