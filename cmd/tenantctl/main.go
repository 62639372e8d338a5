package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ManuelReschke/Tenantly/app/repository"
	"github.com/ManuelReschke/Tenantly/internal/pkg/database"
	"github.com/ManuelReschke/Tenantly/internal/pkg/directory"
	"github.com/ManuelReschke/Tenantly/internal/pkg/env"
	"github.com/ManuelReschke/Tenantly/internal/pkg/tenantdb"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "tenantctl",
	Short: "Operate Tenantly tenants and plugins",
	Long: `tenantctl talks to the platform database directly. Plugin approval
changes made here are enforced by the server on its next boot; use the
platform API to apply them to a running server.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		env.SetupEnvFile()
	},
}

func init() {
	rootCmd.AddCommand(tenantsCmd)
	rootCmd.AddCommand(pluginsCmd)
}

// platform bundles the connections a command needs.
type platform struct {
	repos *repository.Repositories
	pools *tenantdb.Router
	close func()
}

func openPlatform() (*platform, error) {
	url := env.GetEnv("DATABASE_URL", "")
	db, err := database.SetupDatabase(url)
	if err != nil {
		return nil, fmt.Errorf("connect to platform database: %w", err)
	}
	repos := repository.NewRepositories(db)
	pools := tenantdb.NewRouter(tenantdb.Options{
		PrimaryURL: url,
		Lookup:     directory.New(repos.Tenant, nil, 0),
	})
	return &platform{
		repos: repos,
		pools: pools,
		close: func() {
			_ = pools.Shutdown()
			_ = database.Close(db)
		},
	}, nil
}
