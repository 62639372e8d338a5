// Package provisioning creates tenant schemas and keeps them migrated.
package provisioning

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"net/url"

	"github.com/gofiber/fiber/v2/log"
	"github.com/golang-migrate/migrate/v4"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/ManuelReschke/Tenantly/app/models"
	"github.com/ManuelReschke/Tenantly/internal/pkg/database"
	"github.com/ManuelReschke/Tenantly/internal/pkg/tenantdb"
)

//go:embed migrations
var migrationFiles embed.FS

// Command selects what a migration run does.
type Command string

const (
	Up     Command = "up"
	Down   Command = "down"
	Status Command = "status"
)

var ErrUnknownCommand = errors.New("unknown migration command")

// State is the migration version of one tenant schema after a run.
type State struct {
	Schema  string `json:"schema"`
	Version uint   `json:"version"`
	Dirty   bool   `json:"dirty"`
	Changed bool   `json:"changed"`
}

// PoolSource hands out the physical pool for a residency region.
type PoolSource interface {
	PoolFor(region string) (*tenantdb.Handle, error)
}

// Migrator applies the tenant migrations to one schema.
type Migrator interface {
	Run(ctx context.Context, databaseURL, schema string, cmd Command) (*State, error)
}

type Provisioner struct {
	pools    PoolSource
	migrator Migrator
}

func New(pools PoolSource) *Provisioner {
	return NewWithMigrator(pools, EmbeddedMigrator{})
}

func NewWithMigrator(pools PoolSource, migrator Migrator) *Provisioner {
	return &Provisioner{pools: pools, migrator: migrator}
}

// Provision creates the tenant schema on the tenant's regional pool and runs
// every pending migration in it. Running it twice is harmless.
func (p *Provisioner) Provision(ctx context.Context, tenant *models.Tenant) (*State, error) {
	pool, err := p.pools.PoolFor(tenant.Region())
	if err != nil {
		return nil, fmt.Errorf("provision tenant %d: %w", tenant.ID, err)
	}

	schema := tenant.SchemaName()
	stmt, err := CreateSchemaSQL(database.DialectOf(pool.Config.URL), schema)
	if err != nil {
		return nil, err
	}
	if err := pool.DB.WithContext(ctx).Exec(stmt).Error; err != nil {
		return nil, fmt.Errorf("create schema %s: %w", schema, err)
	}

	state, err := p.migrator.Run(ctx, pool.Config.URL, schema, Up)
	if err != nil {
		return nil, fmt.Errorf("migrate schema %s: %w", schema, err)
	}
	log.Infof("[Provisioning] Tenant %d ready in schema %s at version %d", tenant.ID, schema, state.Version)
	return state, nil
}

// Migrate runs cmd against an already provisioned tenant schema.
func (p *Provisioner) Migrate(ctx context.Context, tenant *models.Tenant, cmd Command) (*State, error) {
	pool, err := p.pools.PoolFor(tenant.Region())
	if err != nil {
		return nil, fmt.Errorf("migrate tenant %d: %w", tenant.ID, err)
	}
	return p.migrator.Run(ctx, pool.Config.URL, tenant.SchemaName(), cmd)
}

// CreateSchemaSQL returns the statement creating a tenant schema. On mysql a
// schema is a database.
func CreateSchemaSQL(dialect, schema string) (string, error) {
	if !validSchemaName(schema) {
		return "", fmt.Errorf("invalid schema name %q", schema)
	}
	switch dialect {
	case database.DialectPostgres:
		return fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS "%s"`, schema), nil
	case database.DialectMySQL:
		return fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", schema), nil
	}
	return "", fmt.Errorf("unsupported database dialect %q", dialect)
}

// MigrationFiles returns the embedded migrations of a dialect.
func MigrationFiles(dialect string) (fs.FS, error) {
	switch dialect {
	case database.DialectPostgres, database.DialectMySQL:
		return fs.Sub(migrationFiles, "migrations/"+dialect)
	}
	return nil, fmt.Errorf("no migrations for dialect %q", dialect)
}

// EmbeddedMigrator runs the embedded migrations with golang-migrate.
type EmbeddedMigrator struct{}

func (EmbeddedMigrator) Run(ctx context.Context, databaseURL, schema string, cmd Command) (*State, error) {
	dialect := database.DialectOf(databaseURL)
	files, err := MigrationFiles(dialect)
	if err != nil {
		return nil, err
	}
	src, err := iofs.New(files, ".")
	if err != nil {
		return nil, fmt.Errorf("open migration source: %w", err)
	}

	db, err := database.Open(MigrationURL(databaseURL), tenantdb.SearchPathFor(schema))
	if err != nil {
		return nil, err
	}
	defer database.Close(db)
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("connect for schema %s: %w", schema, err)
	}

	var m *migrate.Migrate
	switch dialect {
	case database.DialectPostgres:
		driver, err := migratepg.WithInstance(sqlDB, &migratepg.Config{SchemaName: schema})
		if err != nil {
			return nil, err
		}
		m, err = migrate.NewWithInstance("iofs", src, dialect, driver)
		if err != nil {
			return nil, err
		}
	case database.DialectMySQL:
		driver, err := migratemysql.WithInstance(sqlDB, &migratemysql.Config{DatabaseName: schema})
		if err != nil {
			return nil, err
		}
		m, err = migrate.NewWithInstance("iofs", src, dialect, driver)
		if err != nil {
			return nil, err
		}
	}
	defer func() {
		if sourceErr, dbErr := m.Close(); sourceErr != nil || dbErr != nil {
			log.Warnf("[Provisioning] Closing migration resources for %s: %v, %v", schema, sourceErr, dbErr)
		}
	}()

	state := &State{Schema: schema}
	switch cmd {
	case Up:
		err = m.Up()
		state.Changed = err == nil
		if errors.Is(err, migrate.ErrNoChange) {
			err = nil
		}
	case Down:
		err = m.Steps(-1)
		state.Changed = err == nil
	case Status:
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, cmd)
	}
	if err != nil {
		return nil, err
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return nil, err
	}
	state.Version = version
	state.Dirty = dirty
	return state, nil
}

// MigrationURL enables multi-statement execution on mysql; migration files
// contain several statements each.
func MigrationURL(databaseURL string) string {
	if database.DialectOf(databaseURL) != database.DialectMySQL {
		return databaseURL
	}
	u, err := url.Parse(databaseURL)
	if err != nil {
		return databaseURL
	}
	q := u.Query()
	q.Set("multiStatements", "true")
	u.RawQuery = q.Encode()
	return u.String()
}

func validSchemaName(s string) bool {
	if s == "" || len(s) > 63 {
		return false
	}
	for _, r := range s {
		if !(r == '_' || r >= 'a' && r <= 'z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}
