// Command plugin-worker hosts one Lua plugin in its own process. The host
// talks to it over stdin/stdout with line-delimited JSON; stderr is free for
// diagnostics.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ManuelReschke/Tenantly/internal/pkg/pluginruntime"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "plugin-worker: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "plugin-worker --plugin <file> --id <plugin-id>",
	Short:         "Run a Tenantly plugin in a sandboxed worker process",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		pluginPath, _ := cmd.Flags().GetString("plugin")
		pluginID, _ := cmd.Flags().GetString("id")

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return pluginruntime.RunWorker(ctx, pluginPath, pluginID, os.Stdin, os.Stdout)
	},
}

func init() {
	rootCmd.Flags().String("plugin", "", "path to the plugin's Lua entry file")
	rootCmd.Flags().String("id", "", "plugin id")
	_ = rootCmd.MarkFlagRequired("plugin")
	_ = rootCmd.MarkFlagRequired("id")
	// stdout carries the protocol
	rootCmd.SetOut(os.Stderr)
}
