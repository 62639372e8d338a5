package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/ManuelReschke/Tenantly/app/models"
	"github.com/ManuelReschke/Tenantly/app/repository"
	"github.com/ManuelReschke/Tenantly/internal/pkg/database"
	"github.com/ManuelReschke/Tenantly/internal/pkg/directory"
	"github.com/ManuelReschke/Tenantly/internal/pkg/env"
	"github.com/ManuelReschke/Tenantly/internal/pkg/provisioning"
	"github.com/ManuelReschke/Tenantly/internal/pkg/tenantdb"
)

func main() {
	env.SetupEnvFile()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := provisioning.Command(os.Args[1])
	switch command {
	case provisioning.Up, provisioning.Down, provisioning.Status:
	default:
		printUsage()
		os.Exit(1)
	}
	target := "all"
	if len(os.Args) > 2 {
		target = os.Args[2]
	}

	db, err := database.SetupDatabase(env.GetEnv("DATABASE_URL", ""))
	if err != nil {
		log.Fatalf("Failed to connect to the platform database: %v", err)
	}
	defer database.Close(db)

	repos := repository.NewRepositories(db)
	pools := tenantdb.NewRouter(tenantdb.Options{
		PrimaryURL: env.GetEnv("DATABASE_URL", ""),
		Lookup:     directory.New(repos.Tenant, nil, 0),
	})
	defer pools.Shutdown()

	tenants, err := selectTenants(repos.Tenant, target)
	if err != nil {
		log.Fatalf("%v", err)
	}

	provisioner := provisioning.New(pools)
	failed := 0
	for i := range tenants {
		tenant := &tenants[i]
		state, err := provisioner.Migrate(context.Background(), tenant, command)
		if err != nil {
			failed++
			log.Printf("%s: %v", tenant.SchemaName(), err)
			continue
		}
		report(command, state)
	}
	if failed > 0 {
		log.Fatalf("%d of %d tenants failed", failed, len(tenants))
	}
}

func selectTenants(repo repository.TenantRepository, target string) ([]models.Tenant, error) {
	if target == "all" {
		return repo.ListAll()
	}
	id, err := strconv.ParseUint(target, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid tenant id %q", target)
	}
	tenant, err := repo.GetByID(uint(id))
	if err != nil {
		return nil, fmt.Errorf("tenant %d: %w", id, err)
	}
	return []models.Tenant{*tenant}, nil
}

func report(command provisioning.Command, state *provisioning.State) {
	dirty := ""
	if state.Dirty {
		dirty = " (dirty)"
	}
	switch {
	case command == provisioning.Status:
		log.Printf("%s: version %d%s", state.Schema, state.Version, dirty)
	case state.Changed:
		log.Printf("%s: migrated to version %d%s", state.Schema, state.Version, dirty)
	default:
		log.Printf("%s: already at version %d", state.Schema, state.Version)
	}
}

func printUsage() {
	fmt.Println("Usage: go run cmd/migrate/main.go [command] [tenant-id|all]")
	fmt.Println("Commands:")
	fmt.Println("  up     - apply all pending tenant migrations")
	fmt.Println("  down   - roll back the last tenant migration")
	fmt.Println("  status - show the current migration version")
}
