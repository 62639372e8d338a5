package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "Manage the plugin registry",
}

var pluginsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered plugins",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openPlatform()
		if err != nil {
			return err
		}
		defer p.close()

		plugins, err := p.repos.Plugin.List()
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tVERSION\tCORE\tAPPROVED")
		for _, pl := range plugins {
			core := pl.MinCoreVersion
			if pl.MaxCoreVersion != "" {
				core += " - " + pl.MaxCoreVersion
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\n", pl.ID, pl.Name, pl.Version, core, pl.IsApproved)
		}
		return w.Flush()
	},
}

var pluginsApproveCmd = &cobra.Command{
	Use:   "approve <plugin-id>",
	Short: "Approve a plugin",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openPlatform()
		if err != nil {
			return err
		}
		defer p.close()

		if err := p.repos.Plugin.SetApproved(args[0], true); err != nil {
			return fmt.Errorf("approve %s: %w", args[0], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Approved %s\n", args[0])
		return nil
	},
}

var pluginsRevokeCmd = &cobra.Command{
	Use:   "revoke <plugin-id>",
	Short: "Revoke a plugin and deactivate its tenant bindings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openPlatform()
		if err != nil {
			return err
		}
		defer p.close()

		if err := p.repos.Plugin.SetApproved(args[0], false); err != nil {
			return fmt.Errorf("revoke %s: %w", args[0], err)
		}
		n, err := p.repos.Plugin.DeactivateForPlugin(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Revoked %s, deactivated %d bindings\n", args[0], n)
		return nil
	},
}

func init() {
	pluginsCmd.AddCommand(pluginsListCmd)
	pluginsCmd.AddCommand(pluginsApproveCmd)
	pluginsCmd.AddCommand(pluginsRevokeCmd)
}
