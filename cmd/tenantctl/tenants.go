package main

import (
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ManuelReschke/Tenantly/app/models"
	"github.com/ManuelReschke/Tenantly/internal/pkg/provisioning"
)

var tenantsCmd = &cobra.Command{
	Use:   "tenants",
	Short: "Manage tenants",
}

var tenantsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all tenants",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openPlatform()
		if err != nil {
			return err
		}
		defer p.close()

		tenants, err := p.repos.Tenant.ListAll()
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSUBDOMAIN\tNAME\tPLAN\tSTATUS\tREGION")
		for _, t := range tenants {
			region := t.Region()
			if region == "" {
				region = "-"
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n", t.ID, t.Subdomain, t.Name, t.Plan, t.Status, region)
		}
		return w.Flush()
	},
}

var tenantsCreateCmd = &cobra.Command{
	Use:   "create <subdomain> <name>",
	Short: "Create a tenant and provision its schema",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		plan, _ := cmd.Flags().GetString("plan")
		region, _ := cmd.Flags().GetString("region")

		p, err := openPlatform()
		if err != nil {
			return err
		}
		defer p.close()

		tenant := &models.Tenant{
			Subdomain: strings.ToLower(strings.TrimSpace(args[0])),
			Name:      strings.TrimSpace(args[1]),
			Plan:      models.NormalizePlan(plan),
		}
		if r := strings.ToLower(strings.TrimSpace(region)); r != "" {
			tenant.DataResidencyRegion = &r
		}
		if err := p.repos.Tenant.Create(tenant); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created tenant %d (%s)\n", tenant.ID, tenant.Subdomain)

		state, err := provisioning.New(p.pools).Provision(cmd.Context(), tenant)
		if err != nil {
			return fmt.Errorf("tenant %d created but not provisioned (retry with `tenantctl tenants provision %d`): %w", tenant.ID, tenant.ID, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Provisioned %s at version %d\n", state.Schema, state.Version)
		return nil
	},
}

var tenantsProvisionCmd = &cobra.Command{
	Use:   "provision <tenant-id>",
	Short: "Create the schema of an existing tenant and migrate it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid tenant id %q", args[0])
		}

		p, err := openPlatform()
		if err != nil {
			return err
		}
		defer p.close()

		tenant, err := p.repos.Tenant.GetByID(uint(id))
		if err != nil {
			return fmt.Errorf("tenant %d: %w", id, err)
		}
		state, err := provisioning.New(p.pools).Provision(cmd.Context(), tenant)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Provisioned %s at version %d\n", state.Schema, state.Version)
		return nil
	},
}

func init() {
	tenantsCreateCmd.Flags().String("plan", models.PlanFree, "plan tier (free, pro, enterprise)")
	tenantsCreateCmd.Flags().String("region", "", "data residency region")

	tenantsCmd.AddCommand(tenantsListCmd)
	tenantsCmd.AddCommand(tenantsCreateCmd)
	tenantsCmd.AddCommand(tenantsProvisionCmd)
}
